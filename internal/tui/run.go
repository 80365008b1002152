package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rancher/auto-rebase/internal/app"
	"github.com/rancher/auto-rebase/internal/git"
	"github.com/rancher/auto-rebase/internal/rebase"
)

// ErrAborted is returned when the user leaves before a session starts.
var ErrAborted = errors.New("aborted by user")

// Options control the interactive flow.
type Options struct {
	// Target skips the branch selector when set.
	Target string
	// Yes skips the confirmation prompt.
	Yes bool

	Linear   bool
	DryRun   bool
	Strategy rebase.Strategy
}

// Starter lists candidate targets and starts sessions.
type Starter interface {
	Targets(ctx context.Context) (current string, targets []string, err error)
	Start(ctx context.Context, target string, sink rebase.ProgressSink) (Handle, error)
}

// Handle is a started session.
type Handle interface {
	Session() rebase.Session
	Repository() git.Repository
	Finish(ctx context.Context) (app.Report, error)
}

// RunnerStarter adapts an app.Runner to Starter.
type RunnerStarter struct {
	Runner *app.Runner
}

func (s RunnerStarter) Targets(ctx context.Context) (string, []string, error) {
	return s.Runner.Targets(ctx)
}

func (s RunnerStarter) Start(ctx context.Context, target string, sink rebase.ProgressSink) (Handle, error) {
	run, err := s.Runner.Start(ctx, target, sink)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Run drives the interactive flow to completion and returns the report.
func Run(ctx context.Context, runner *app.Runner, opts Options, log *slog.Logger) (app.Report, error) {
	m := New(ctx, RunnerStarter{Runner: runner}, opts, log)

	final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if err != nil {
		// The program died with a session still holding the lock.
		if m.handle != nil && m.phase != phaseDone {
			return m.abandon(), fmt.Errorf("interactive session: %w", err)
		}
		return app.Report{}, fmt.Errorf("interactive session: %w", err)
	}

	fm, ok := final.(*Model)
	if !ok {
		return app.Report{}, fmt.Errorf("unexpected model type %T", final)
	}
	return fm.Result()
}

// abandon cancels and finishes a session the program left behind. A command
// still running against the session is waited for first.
func (m *Model) abandon() app.Report {
	m.calls.Lock()
	defer m.calls.Unlock()

	ctx := context.WithoutCancel(m.ctx)
	s := m.handle.Session()
	if !s.State().Terminal() {
		s.Cancel(ctx)
	}
	report, err := m.handle.Finish(ctx)
	if err != nil {
		m.log.Warn("abandoned session finished with error", "error", err)
	}
	return report
}
