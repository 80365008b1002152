package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rancher/auto-rebase/internal/branches"
	"github.com/rancher/auto-rebase/internal/git"
	gh "github.com/rancher/auto-rebase/internal/github"
	"github.com/rancher/auto-rebase/internal/lock"
	"github.com/rancher/auto-rebase/internal/rebase"
)

// Runner glues the rebase engine to the repository lock, the push and the
// pull request follow-up.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	repo      git.Repository
	ghFactory gh.Factory
	deps      rebase.Deps
}

// NewRunner constructs a Runner over repo with the supplied configuration.
func NewRunner(cfg Config, repo git.Repository, log *slog.Logger) *Runner {
	return NewRunnerWithDeps(cfg, repo, log, gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL), rebase.Deps{})
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, repo git.Repository, log *slog.Logger, ghFactory gh.Factory, deps rebase.Deps) *Runner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	deps.Logger = log
	return &Runner{cfg: cfg, log: log, repo: repo, ghFactory: ghFactory, deps: deps}
}

// OpenRepository opens the worktree containing dir using the configured remote.
func OpenRepository(dir string, cfg Config) (*git.ShellRepository, error) {
	repo, err := git.OpenShellRepository(dir)
	if err != nil {
		return nil, err
	}
	repo.RemoteName = cfg.Remote
	return repo, nil
}

// Config returns the configuration the runner was built with.
func (r *Runner) Config() Config {
	return r.cfg
}

// Repository returns the repository sessions run against.
func (r *Runner) Repository() git.Repository {
	return r.repo
}

// Targets lists the branches that can be chosen as a target: remote-tracking
// branches when remoteTarget is set, local branches otherwise. The current
// branch is excluded.
func (r *Runner) Targets(ctx context.Context) (current string, targets []string, err error) {
	current, err = r.repo.CurrentBranch(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("determine current branch: %w", err)
	}

	kind := git.RefLocal
	if r.cfg.RemoteTarget {
		kind = git.RefRemote
	}
	names, err := r.repo.ListBranches(ctx, kind)
	if err != nil {
		return "", nil, fmt.Errorf("list %s branches: %w", kind, err)
	}

	return current, branches.Without(names, current), nil
}

// Run is a started session holding the repository lock.
type Run struct {
	session rebase.Session
	runner  *Runner
	repo    git.Repository
	dry     *git.DryRunRepository
	lock    *lock.Lock
	target  string
}

// Start takes the repository lock and starts a session that rebases the
// current branch onto target. Progress is delivered to sink.
func (r *Runner) Start(ctx context.Context, target string, sink rebase.ProgressSink) (*Run, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("a target branch is required")
	}

	gitDir, err := r.repo.GitDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate git directory: %w", err)
	}
	held, err := lock.Acquire(gitDir)
	if err != nil {
		return nil, err
	}

	run, err := r.start(ctx, target, sink, held)
	if err != nil {
		if releaseErr := held.Release(); releaseErr != nil {
			r.log.Warn("failed to release session lock", "error", releaseErr)
		}
		return nil, err
	}
	return run, nil
}

func (r *Runner) start(ctx context.Context, target string, sink rebase.ProgressSink, held *lock.Lock) (*Run, error) {
	current, err := r.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("determine current branch: %w", err)
	}

	rcfg, err := r.cfg.RebaseConfig()
	if err != nil {
		return nil, err
	}

	run := &Run{runner: r, repo: r.repo, lock: held, target: target}
	if r.cfg.DryRun {
		run.dry = git.NewDryRunRepository(r.repo)
		run.dry.RemoteName = r.cfg.Remote
		run.repo = run.dry
	}

	deps := r.deps
	deps.Sink = sink
	engine := rebase.NewEngine(run.repo, deps)

	session, err := engine.Start(current, target, rcfg)
	if err != nil {
		return nil, err
	}
	run.session = session

	r.log.Info("starting rebase",
		"session", session.ID(),
		"branch", current,
		"target", target,
		"kind", string(session.Kind()),
		"strategy", string(rcfg.Strategy),
		"dry_run", r.cfg.DryRun,
	)
	return run, nil
}

// Session returns the session to drive.
func (run *Run) Session() rebase.Session {
	return run.session
}

// Repository returns the repository the session mutates, which is a recording
// wrapper during a dry run.
func (run *Run) Repository() git.Repository {
	return run.repo
}

// Finish releases the lock and performs the follow-up for a successful
// session. The returned error is the session failure, or a push failure.
// Pull request problems are only reported as warnings.
func (run *Run) Finish(ctx context.Context) (Report, error) {
	r := run.runner
	defer func() {
		if err := run.lock.Release(); err != nil {
			r.log.Warn("failed to release session lock", "error", err)
		}
	}()

	report := newReport(run.session, run.target)
	report.DryRun = run.dry != nil

	switch report.Outcome.Kind {
	case rebase.OutcomeFailed:
		report.Planned = run.planned()
		return report, report.Outcome.Err
	case rebase.OutcomeSuccess:
	default:
		report.Planned = run.planned()
		return report, nil
	}

	if r.cfg.PushWithLease {
		if err := run.repo.PushWithLease(ctx, report.Branch); err != nil {
			report.Planned = run.planned()
			return report, fmt.Errorf("push %s: %w", report.Branch, err)
		}
		report.Pushed = run.dry == nil
		r.log.Info("pushed rebased branch", "branch", report.Branch, "dry_run", run.dry != nil)
	}
	report.Planned = run.planned()

	if r.cfg.RetargetPR && report.Pushed {
		if err := r.retargetPullRequest(ctx, &report); err != nil {
			r.log.Warn("failed to retarget pull request", "error", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("pull request not updated: %v", err))
		}
	}

	return report, nil
}

func (run *Run) planned() []string {
	if run.dry == nil {
		return nil
	}
	return run.dry.Operations()
}

// Execute starts a session, drives it to completion and finishes it.
func (r *Runner) Execute(ctx context.Context, target string, sink rebase.ProgressSink, onPause rebase.PauseFunc) (Report, error) {
	run, err := r.Start(ctx, target, sink)
	if err != nil {
		return Report{}, err
	}
	rebase.Drive(ctx, run.session, onPause)
	return run.Finish(ctx)
}

// retargetPullRequest points the open pull request for the rebased branch at
// the target and leaves the report as a comment.
func (r *Runner) retargetPullRequest(ctx context.Context, report *Report) error {
	if r.cfg.GitHubToken == "" {
		return fmt.Errorf("a GitHub token is required (set githubToken or GITHUB_TOKEN)")
	}

	remote, err := r.repo.RemoteURL(ctx)
	if err != nil {
		return fmt.Errorf("read remote url: %w", err)
	}
	repo, err := gh.ParseRepoFromRemote(remote)
	if err != nil {
		return err
	}
	if repo.Host != "github.com" && r.cfg.GitHubBaseURL == "" {
		return fmt.Errorf("remote host %s is not github.com; set githubBaseURL and githubUploadURL", repo.Host)
	}

	client, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("initialize github client: %w", err)
	}

	base := branches.StripRemotePrefix(report.Target, r.cfg.Remote)
	if err := client.EnsureBranchExists(ctx, repo.Owner, repo.Name, base); err != nil {
		return fmt.Errorf("check base branch %s: %w", base, err)
	}

	pr, err := client.FindOpenPullRequest(ctx, repo.Owner, repo.Name, report.Branch)
	if err != nil {
		if errors.Is(err, gh.ErrPullRequestNotFound) {
			r.log.Info("no open pull request for branch", "branch", report.Branch, "repository", repo.String())
			return nil
		}
		return fmt.Errorf("find pull request: %w", err)
	}

	if pr.Base != base {
		if err := client.UpdatePullRequestBase(ctx, repo.Owner, repo.Name, pr.Number, base); err != nil {
			return fmt.Errorf("update pull request #%d base: %w", pr.Number, err)
		}
		r.log.Info("retargeted pull request", "number", pr.Number, "from", pr.Base, "to", base)
		pr.Base = base
		report.Retargeted = true
	}
	report.PullRequest = &pr

	if err := client.CommentOnPullRequest(ctx, repo.Owner, repo.Name, pr.Number, report.Markdown()); err != nil {
		return fmt.Errorf("comment on pull request #%d: %w", pr.Number, err)
	}
	return nil
}
