// Package cli implements the auto-rebase command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rancher/auto-rebase/internal/app"
	"github.com/rancher/auto-rebase/internal/git"
)

// BuildInfo is stamped into the binary at release time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

const repairsConfig = "repairs-config"

// ErrCancelled is returned when a session ends without rewriting the branch
// because it was cancelled.
var ErrCancelled = errors.New("rebase cancelled, branch left unchanged")

type cli struct {
	info BuildInfo
	dir  string

	target   string
	noConfig bool

	loaded  app.Loaded
	logging *app.Logging
	repo    *git.ShellRepository

	// interactive reports whether both stdin and stdout are terminals.
	interactive func() bool
	// stdinTTY reports whether stdin alone is a terminal.
	stdinTTY func() bool
	// confirm asks a yes/no question on the terminal.
	confirm func(message string, def bool) (bool, error)
}

// Execute runs the root command with the process arguments.
func Execute(ctx context.Context, info BuildInfo) error {
	c := &cli{info: info, dir: ".", interactive: isTTY, stdinTTY: isStdinTTY, confirm: surveyConfirm}
	defer c.close()
	return c.rootCmd().ExecuteContext(ctx)
}

func (c *cli) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-rebase",
		Short: "Rebase the current branch onto another branch, safely",
		Long: `auto-rebase moves the commits of the current branch onto a target branch.

By default the commits are replayed one by one on a scratch branch and the
current branch is only moved once every commit applied. With --linear a native
git rebase is used instead. A backup tag is created before the branch is
rewritten unless --no-backup is set.

Examples:
  auto-rebase                          # pick the target interactively
  auto-rebase -t main --on-conflict skip
  auto-rebase -t origin/main --linear --push-with-lease
  auto-rebase -t main --dry-run`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", c.info.Version, c.info.Commit, c.info.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runRebase(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	app.RegisterFlags(flags)
	flags.BoolVar(&c.noConfig, "no-config", false, "Ignore the global and local config files")
	cmd.Flags().StringVarP(&c.target, "target", "t", "", "Branch to rebase onto")

	cmd.AddCommand(c.configCmd())
	return cmd
}

// setup resolves configuration, opens the repository when there is one and
// builds the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	repo, repoErr := git.OpenShellRepository(c.dir)
	if repoErr == nil {
		c.repo = repo
	}

	opts := app.LoadOptions{NoConfig: c.noConfig, Flags: cmd.Flags()}
	if c.repo != nil {
		opts.LocalDir = c.repo.Dir
	}
	loaded, err := app.LoadConfig(opts)
	if err != nil {
		// A broken file must not prevent the commands that repair it.
		if cmd.Annotations[repairsConfig] != "true" {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: ignoring config files: %v\n", err)
		opts.NoConfig = true
		if loaded, err = app.LoadConfig(opts); err != nil {
			return err
		}
	}
	c.loaded = loaded
	if c.repo != nil {
		c.repo.RemoteName = loaded.Config.Remote
	}

	logging, err := app.NewLogger(loaded.Config.LogLevel, loaded.Config.LogFormat, loaded.Config.LogFile)
	if err != nil {
		return err
	}
	c.logging = logging

	for _, w := range loaded.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	if repoErr != nil {
		logging.Logger.Debug("no git repository", "dir", c.dir, "error", repoErr)
	}
	return nil
}

func (c *cli) close() {
	if err := c.logging.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

func (c *cli) requireRepo() (*git.ShellRepository, error) {
	if c.repo == nil {
		return nil, fmt.Errorf("not a git repository (or any of the parent directories)")
	}
	return c.repo, nil
}

func isTTY() bool {
	in, out := os.Stdin.Fd(), os.Stdout.Fd()
	return (isatty.IsTerminal(in) || isatty.IsCygwinTerminal(in)) &&
		(isatty.IsTerminal(out) || isatty.IsCygwinTerminal(out))
}

func isStdinTTY() bool {
	in := os.Stdin.Fd()
	return isatty.IsTerminal(in) || isatty.IsCygwinTerminal(in)
}

func writeLine(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
