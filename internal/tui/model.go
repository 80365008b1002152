package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/rancher/auto-rebase/internal/app"
	"github.com/rancher/auto-rebase/internal/rebase"
)

type phase int

const (
	phaseLoading phase = iota
	phaseSelect
	phaseConfirm
	phaseStarting
	phaseRunning
	phasePaused
	phaseFinishing
	phaseDone
)

const historySize = 6

// messages

type targetsMsg struct {
	current string
	targets []string
	err     error
}

type startedMsg struct {
	handle Handle
	err    error
}

type progressMsg rebase.Event

type stepDoneMsg struct {
	event rebase.Event
	err   error
}

type finishedMsg struct {
	report app.Report
	err    error
}

type pathsMsg struct {
	paths []string
	err   error
}

type watcherMsg struct {
	watcher *IndexWatcher
	err     error
}

type indexChangedMsg struct{}

// channelSink hands session progress to the program without ever blocking the
// session.
type channelSink struct {
	events chan rebase.Event
}

func newChannelSink() *channelSink {
	return &channelSink{events: make(chan rebase.Event, 128)}
}

func (s *channelSink) Progress(e rebase.Event) {
	select {
	case s.events <- e:
	default:
	}
}

func (s *channelSink) listen() tea.Cmd {
	return func() tea.Msg {
		return progressMsg(<-s.events)
	}
}

// Model is the interactive session runner: branch selection, confirmation,
// progress, conflict pauses and the final report.
type Model struct {
	ctx     context.Context
	starter Starter
	opts    Options
	log     *slog.Logger

	phase   phase
	list    list.Model
	spinner spinner.Model
	sink    *channelSink

	current string
	target  string
	handle  Handle
	last    rebase.Event
	history []string
	paths   []string
	watcher *IndexWatcher

	cancelRequested bool

	// calls serializes session and handle calls made off the update loop.
	calls sync.Mutex

	report  app.Report
	err     error
	aborted bool
}

var _ tea.Model = (*Model)(nil)

// New builds a Model. When opts.Target is set the branch selector is skipped.
func New(ctx context.Context, starter Starter, opts Options, log *slog.Logger) *Model {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetSpacing(0)

	l := list.New(nil, delegate, 80, 20)
	l.Title = "Rebase onto which branch?"
	l.Styles.Title = titleStyle
	l.SetShowStatusBar(true)
	l.SetShowHelp(true)
	l.Filter = multiTermFilter

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	m := &Model{
		ctx:     ctx,
		starter: starter,
		opts:    opts,
		log:     log,
		phase:   phaseLoading,
		list:    l,
		spinner: s,
		sink:    newChannelSink(),
		target:  strings.TrimSpace(opts.Target),
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.sink.listen(), m.loadTargets())
}

func (m *Model) loadTargets() tea.Cmd {
	return func() tea.Msg {
		current, targets, err := m.starter.Targets(m.ctx)
		return targetsMsg{current: current, targets: targets, err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, max(msg.Height-2, 5))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case targetsMsg:
		return m.onTargets(msg)

	case startedMsg:
		return m.onStarted(msg)

	case progressMsg:
		m.record(rebase.Event(msg))
		return m, m.sink.listen()

	case stepDoneMsg:
		return m.afterStep(msg)

	case pathsMsg:
		if msg.err != nil {
			m.log.Warn("could not list conflicted paths", "error", msg.err)
			return m, nil
		}
		m.paths = msg.paths
		return m, nil

	case watcherMsg:
		return m.onWatcher(msg)

	case indexChangedMsg:
		if m.phase != phasePaused {
			return m, nil
		}
		return m, tea.Batch(m.refreshPaths(), m.waitForChange())

	case finishedMsg:
		m.report = msg.report
		m.err = msg.err
		m.phase = phaseDone
		return m, tea.Quit
	}

	if m.phase == phaseSelect {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		switch m.phase {
		case phaseStarting, phaseRunning:
			m.cancelRequested = true
			return m, nil
		case phasePaused:
			return m, m.cancel()
		case phaseFinishing:
			return m, nil
		case phaseDone:
			return m, tea.Quit
		default:
			return m.abort()
		}
	}

	switch m.phase {
	case phaseSelect:
		if m.list.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}
		switch key {
		case "enter":
			item, ok := m.list.SelectedItem().(branchItem)
			if !ok {
				return m, nil
			}
			return m.choose(string(item))
		case "esc", "q":
			if m.list.FilterState() == list.FilterApplied {
				break
			}
			return m.abort()
		}
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd

	case phaseConfirm:
		switch key {
		case "y", "Y", "enter":
			return m.start()
		case "n", "N", "esc", "q":
			return m.abort()
		}

	case phaseStarting, phaseRunning:
		if key == "esc" {
			m.cancelRequested = true
		}

	case phasePaused:
		switch key {
		case "enter":
			return m, m.resume()
		case "esc":
			return m, m.cancel()
		}

	case phaseDone:
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) onTargets(msg targetsMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.err = msg.err
		m.phase = phaseDone
		return m, tea.Quit
	}
	m.current = msg.current

	if m.target != "" {
		return m.choose(m.target)
	}

	if len(msg.targets) == 0 {
		m.err = fmt.Errorf("no branches to rebase %s onto", msg.current)
		m.phase = phaseDone
		return m, tea.Quit
	}

	items := make([]list.Item, 0, len(msg.targets))
	for _, t := range msg.targets {
		items = append(items, branchItem(t))
	}
	m.phase = phaseSelect
	return m, m.list.SetItems(items)
}

func (m *Model) choose(target string) (tea.Model, tea.Cmd) {
	m.target = target
	if m.opts.Yes {
		return m.start()
	}
	m.phase = phaseConfirm
	return m, nil
}

func (m *Model) start() (tea.Model, tea.Cmd) {
	m.phase = phaseStarting
	starter, ctx, target, sink := m.starter, m.ctx, m.target, m.sink
	return m, func() tea.Msg {
		h, err := starter.Start(ctx, target, sink)
		return startedMsg{handle: h, err: err}
	}
}

func (m *Model) abort() (tea.Model, tea.Cmd) {
	m.aborted = true
	m.phase = phaseDone
	return m, tea.Quit
}

func (m *Model) onStarted(msg startedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.err = msg.err
		m.phase = phaseDone
		return m, tea.Quit
	}
	m.handle = msg.handle
	m.phase = phaseRunning
	if m.cancelRequested {
		return m, m.cancel()
	}
	return m, m.step()
}

func (m *Model) step() tea.Cmd {
	s, ctx, calls := m.handle.Session(), m.ctx, &m.calls
	return func() tea.Msg {
		calls.Lock()
		defer calls.Unlock()
		e, err := s.Step(ctx)
		return stepDoneMsg{event: e, err: err}
	}
}

func (m *Model) resume() tea.Cmd {
	s, ctx, calls := m.handle.Session(), m.ctx, &m.calls
	m.phase = phaseRunning
	return func() tea.Msg {
		calls.Lock()
		defer calls.Unlock()
		e, err := s.Resume(ctx)
		return stepDoneMsg{event: e, err: err}
	}
}

func (m *Model) cancel() tea.Cmd {
	s, ctx, calls := m.handle.Session(), context.WithoutCancel(m.ctx), &m.calls
	m.phase = phaseRunning
	m.cancelRequested = true
	return func() tea.Msg {
		calls.Lock()
		defer calls.Unlock()
		return stepDoneMsg{event: s.Cancel(ctx)}
	}
}

func (m *Model) finish() tea.Cmd {
	h, ctx, calls := m.handle, context.WithoutCancel(m.ctx), &m.calls
	return func() tea.Msg {
		calls.Lock()
		defer calls.Unlock()
		report, err := h.Finish(ctx)
		return finishedMsg{report: report, err: err}
	}
}

// afterStep decides the next command once the in-flight call has returned.
func (m *Model) afterStep(msg stepDoneMsg) (tea.Model, tea.Cmd) {
	if msg.event.Message != "" {
		m.last = msg.event
	}

	state := m.handle.Session().State()
	switch {
	case state.Terminal():
		m.stopWatcher()
		m.phase = phaseFinishing
		return m, m.finish()

	case m.cancelRequested:
		return m, m.cancel()

	case state == rebase.StateConflictPause:
		entering := m.phase != phasePaused
		m.phase = phasePaused
		cmds := []tea.Cmd{m.refreshPaths()}
		if entering && m.watcher == nil {
			cmds = append(cmds, m.watch())
		}
		return m, tea.Batch(cmds...)

	default:
		m.stopWatcher()
		m.paths = nil
		m.phase = phaseRunning
		return m, m.step()
	}
}

func (m *Model) refreshPaths() tea.Cmd {
	repo, ctx := m.handle.Repository(), m.ctx
	return func() tea.Msg {
		paths, err := repo.ConflictedPaths(ctx)
		return pathsMsg{paths: paths, err: err}
	}
}

func (m *Model) watch() tea.Cmd {
	repo, ctx, log := m.handle.Repository(), m.ctx, m.log
	return func() tea.Msg {
		gitDir, err := repo.GitDir(ctx)
		if err != nil {
			return watcherMsg{err: err}
		}
		w, err := WatchGitDir(gitDir, log)
		return watcherMsg{watcher: w, err: err}
	}
}

func (m *Model) onWatcher(msg watcherMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.log.Warn("conflicted paths will not refresh automatically", "error", msg.err)
		return m, nil
	}
	if m.phase != phasePaused || m.watcher != nil {
		_ = msg.watcher.Close()
		return m, nil
	}
	m.watcher = msg.watcher
	return m, m.waitForChange()
}

func (m *Model) waitForChange() tea.Cmd {
	if m.watcher == nil {
		return nil
	}
	changes := m.watcher.Changes()
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return indexChangedMsg{}
	}
}

func (m *Model) stopWatcher() {
	if m.watcher == nil {
		return
	}
	if err := m.watcher.Close(); err != nil {
		m.log.Warn("failed to stop watcher", "error", err)
	}
	m.watcher = nil
}

func (m *Model) record(e rebase.Event) {
	if e.Message == "" {
		return
	}
	m.history = append(m.history, e.Message)
	if len(m.history) > historySize {
		m.history = m.history[len(m.history)-historySize:]
	}
}

// Result returns the report of a finished program.
func (m *Model) Result() (app.Report, error) {
	if m.aborted {
		return app.Report{}, ErrAborted
	}
	return m.report, m.err
}

func (m *Model) View() string {
	var b strings.Builder

	switch m.phase {
	case phaseLoading:
		fmt.Fprintf(&b, "%s Loading branches...\n", m.spinner.View())

	case phaseSelect:
		b.WriteString(m.list.View())

	case phaseConfirm:
		b.WriteString(m.confirmView())

	case phaseStarting, phaseRunning, phaseFinishing:
		b.WriteString(m.runningView())

	case phasePaused:
		b.WriteString(m.pausedView())

	case phaseDone:
		b.WriteString(m.doneView())
	}

	return b.String()
}

func (m *Model) confirmView() string {
	kind := rebase.KindCherryPick
	if m.opts.Linear {
		kind = rebase.KindLinear
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Rebase %s onto %s?\n\n", boldStyle.Render(m.current), boldStyle.Render(m.target))
	fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("strategy:"), kind)
	if !m.opts.Linear && m.opts.Strategy != "" {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("on conflict:"), m.opts.Strategy)
	}
	if m.opts.DryRun {
		b.WriteString(warnStyle.Render("dry run: no changes will be made") + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("y/enter: start • n/esc: cancel"))
	return confirmStyle.Render(b.String()) + "\n"
}

func (m *Model) runningView() string {
	var b strings.Builder
	for _, line := range m.history {
		b.WriteString(dimStyle.Render(line) + "\n")
	}

	status := "Working..."
	switch {
	case m.phase == phaseFinishing:
		status = "Wrapping up..."
	case m.cancelRequested:
		status = "Cancelling after the current step..."
	case m.last.Message != "":
		status = m.last.Message
	}
	fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), status)
	if !m.cancelRequested && m.phase == phaseRunning {
		b.WriteString(helpStyle.Render("esc: cancel") + "\n")
	}
	return b.String()
}

func (m *Model) pausedView() string {
	var b strings.Builder
	b.WriteString(warnStyle.Render(m.last.Message) + "\n")

	if out := strings.TrimSpace(m.last.Output); out != "" {
		b.WriteString(outputStyle.Render(out) + "\n")
	}

	if len(m.paths) > 0 {
		b.WriteString(boldStyle.Render("Conflicted paths:") + "\n")
		for _, p := range m.paths {
			b.WriteString("  " + errStyle.Render(p) + "\n")
		}
	} else {
		b.WriteString(okStyle.Render("No conflicted paths remain.") + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("enter: continue • esc: cancel the rebase") + "\n")
	return b.String()
}

func (m *Model) doneView() string {
	switch {
	case m.aborted:
		return dimStyle.Render("Nothing was changed.") + "\n"
	case m.handle == nil && m.err != nil:
		return errStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
	}

	style := okStyle
	switch m.report.Outcome.Kind {
	case rebase.OutcomeFailed:
		style = errStyle
	case rebase.OutcomeCancelled:
		style = warnStyle
	}

	var b strings.Builder
	b.WriteString(style.Render(m.report.Text()))
	if m.err != nil && m.report.Outcome.Kind != rebase.OutcomeFailed {
		b.WriteString("\n" + errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	return b.String() + "\n"
}
