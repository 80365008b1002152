package app

import (
	"fmt"
	"strings"

	"github.com/rancher/auto-rebase/internal/branches"
	gh "github.com/rancher/auto-rebase/internal/github"
	"github.com/rancher/auto-rebase/internal/rebase"
)

// Report summarizes a finished run for the terminal and for pull request
// comments.
type Report struct {
	Kind      rebase.Kind
	Branch    string
	Target    string
	Outcome   rebase.Outcome
	BackupRef string
	Commits   []rebase.CommitResult

	DryRun  bool
	Planned []string

	Pushed      bool
	PullRequest *gh.PullRequest
	Retargeted  bool
	Warnings    []string
}

// sessionDetails is implemented by both session kinds.
type sessionDetails interface {
	Current() string
	Target() branches.Ref
	BackupRef() string
}

type commitResults interface {
	Results() []rebase.CommitResult
}

func newReport(s rebase.Session, target string) Report {
	report := Report{
		Kind:    s.Kind(),
		Target:  target,
		Outcome: s.Outcome(),
	}
	if d, ok := s.(sessionDetails); ok {
		report.Branch = d.Current()
		report.BackupRef = d.BackupRef()
		if ref := d.Target(); ref.Name != "" {
			report.Target = ref.Rev()
		}
	}
	if c, ok := s.(commitResults); ok {
		report.Commits = c.Results()
	}
	return report
}

// Succeeded reports whether the session rewrote the branch.
func (r Report) Succeeded() bool {
	return r.Outcome.Kind == rebase.OutcomeSuccess
}

// Text renders the report for a terminal.
func (r Report) Text() string {
	var b strings.Builder

	verb := "Rebase"
	if r.DryRun {
		verb = "Dry run of rebase"
	}
	fmt.Fprintf(&b, "%s of %s onto %s (%s): %s\n", verb, r.Branch, r.Target, r.Kind, r.Outcome)

	if r.BackupRef != "" {
		fmt.Fprintf(&b, "Backup tag: %s\n", r.BackupRef)
	}

	if len(r.Commits) > 0 {
		b.WriteString("Commits:\n")
		for _, c := range r.Commits {
			fmt.Fprintf(&b, "  %-18s %s %s\n", c.Disposition, rebase.ShortID(c.ID), c.Subject)
		}
	}

	if len(r.Planned) > 0 {
		b.WriteString("Planned git operations:\n")
		for _, op := range r.Planned {
			fmt.Fprintf(&b, "  %s\n", op)
		}
	}

	if r.Pushed {
		fmt.Fprintf(&b, "Pushed %s with lease.\n", r.Branch)
	}
	if r.PullRequest != nil {
		if r.Retargeted {
			fmt.Fprintf(&b, "Pull request #%d now targets %s.\n", r.PullRequest.Number, r.PullRequest.Base)
		} else {
			fmt.Fprintf(&b, "Pull request #%d already targets %s.\n", r.PullRequest.Number, r.PullRequest.Base)
		}
	}

	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}

	return b.String()
}

// Markdown renders the report as a pull request comment.
func (r Report) Markdown() string {
	var b strings.Builder

	b.WriteString("## auto-rebase summary\n\n")
	fmt.Fprintf(&b, "Rebased `%s` onto `%s` using the %s strategy: **%s**.\n",
		sanitizeMarkdownCell(r.Branch), sanitizeMarkdownCell(r.Target), r.Kind, r.Outcome.Kind)

	if r.BackupRef != "" {
		fmt.Fprintf(&b, "\nThe previous head is kept as tag `%s`.\n", sanitizeMarkdownCell(r.BackupRef))
	}

	if len(r.Commits) == 0 {
		return b.String()
	}

	b.WriteString("\n| Commit | Subject | Result |\n")
	b.WriteString("| --- | --- | --- |\n")
	for _, c := range r.Commits {
		fmt.Fprintf(&b, "| %s | %s | %s |\n",
			sanitizeMarkdownCell(rebase.ShortID(c.ID)),
			sanitizeMarkdownCell(c.Subject),
			sanitizeMarkdownCell(string(c.Disposition)),
		)
	}

	return b.String()
}

func sanitizeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", "<br>")
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return value
}
