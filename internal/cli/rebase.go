package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/rancher/auto-rebase/internal/app"
	"github.com/rancher/auto-rebase/internal/rebase"
	"github.com/rancher/auto-rebase/internal/tui"
)

func (c *cli) runRebase(cmd *cobra.Command) error {
	repo, err := c.requireRepo()
	if err != nil {
		return err
	}
	cfg := c.loaded.Config
	runner := app.NewRunner(cfg, repo, c.logging.Logger)

	if c.interactive() {
		c.logging.SetQuiet(true)
		defer c.logging.SetQuiet(false)

		strategy, _ := rebase.ParseStrategy(cfg.OnConflict)
		report, err := tui.Run(cmd.Context(), runner, tui.Options{
			Target:   c.target,
			Yes:      cfg.Yes,
			Linear:   cfg.Linear,
			DryRun:   cfg.DryRun,
			Strategy: strategy,
		}, c.logging.Logger)
		return exitError(report, err)
	}

	return c.runPlain(cmd.Context(), runner, cmd.OutOrStdout())
}

// runPlain drives a session without the TUI, printing one line per progress
// event.
func (c *cli) runPlain(ctx context.Context, runner *app.Runner, out io.Writer) error {
	target := strings.TrimSpace(c.target)
	if target == "" {
		return fmt.Errorf("a target branch is required when not running in a terminal (use --target)")
	}

	sink := rebase.SinkFunc(func(e rebase.Event) {
		if e.Message != "" {
			writeLine(out, "%s", e.Message)
		}
	})

	onPause := func(_ context.Context, e rebase.Event) rebase.PauseDecision {
		if output := strings.TrimSpace(e.Output); output != "" {
			writeLine(out, "%s", output)
		}
		if !c.canPrompt() {
			writeLine(out, "Not running in a terminal, cancelling.")
			return rebase.DecisionCancel
		}
		ok, err := c.confirm("Resolve and stage the conflicts, then continue?", true)
		if err != nil || !ok {
			return rebase.DecisionCancel
		}
		return rebase.DecisionResume
	}

	if !runner.Config().Yes && c.canPrompt() {
		current, err := runner.Repository().CurrentBranch(ctx)
		if err != nil {
			return err
		}
		ok, err := c.confirm(fmt.Sprintf("Rebase %s onto %s?", current, target), true)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}
	}

	report, err := runner.Execute(ctx, target, sink, onPause)
	if report.Kind != "" {
		fmt.Fprint(out, report.Text())
	}
	return exitError(report, err)
}

// canPrompt reports whether questions can be asked on stdin, which may be a
// terminal even when stdout is redirected.
func (c *cli) canPrompt() bool {
	return c.stdinTTY != nil && c.stdinTTY() && c.confirm != nil
}

// exitError maps a report to the command's error: nil only when the branch
// was rebased.
func exitError(report app.Report, err error) error {
	if err != nil {
		return err
	}
	switch report.Outcome.Kind {
	case rebase.OutcomeSuccess:
		return nil
	case rebase.OutcomeCancelled:
		return ErrCancelled
	case rebase.OutcomeFailed:
		return report.Outcome.Err
	default:
		return fmt.Errorf("session ended in state %s", report.Outcome)
	}
}

func surveyConfirm(message string, def bool) (bool, error) {
	ok := def
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &ok)
	if errors.Is(err, terminal.InterruptErr) {
		return false, nil
	}
	return ok, err
}
