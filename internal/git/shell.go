package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
)

// ShellRepository drives the system git binary inside an existing worktree.
// Read-only probes go through go-git where it can answer them.
type ShellRepository struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// Dir is the worktree the commands run in.
	Dir string

	// RemoteName controls which remote is fetched and pushed. Defaults to "origin".
	RemoteName string

	// NetworkRetries controls how many additional attempts should be made for network
	// oriented git commands (fetch, push). When zero, a default of 2 retries is used.
	NetworkRetries int

	// NetworkRetryDelay controls the initial backoff delay between retries. When zero,
	// a default of 1 second is used. Backoff grows exponentially per attempt.
	NetworkRetryDelay time.Duration

	// NetworkTimeout bounds network commands that would otherwise inherit an unbounded
	// context. When zero, a default of 2 minutes is used.
	NetworkTimeout time.Duration

	store *gogit.Repository
}

var _ Repository = (*ShellRepository)(nil)

// OpenShellRepository returns a ShellRepository rooted at the worktree containing dir.
func OpenShellRepository(dir string) (*ShellRepository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	r := &ShellRepository{Dir: abs}
	store, err := r.open()
	if err != nil {
		return nil, err
	}

	if wt, err := store.Worktree(); err == nil {
		r.Dir = wt.Filesystem.Root()
	}

	return r, nil
}

func (r *ShellRepository) gitBinary() string {
	if r.Git == "" {
		return "git"
	}
	return r.Git
}

func (r *ShellRepository) remoteName() string {
	if r.RemoteName == "" {
		return "origin"
	}
	return r.RemoteName
}

func (r *ShellRepository) IsWorkingTreeClean(ctx context.Context) (bool, error) {
	out, err := r.output(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) == "", nil
}

func (r *ShellRepository) FetchRemote(ctx context.Context) error {
	if err := r.run(ctx, "fetch", "--all"); err != nil {
		return fmt.Errorf("git fetch: %w", err)
	}
	// go-git indexes packfiles once per handle; reopen so fetched packs are visible.
	r.store = nil
	return nil
}

func (r *ShellRepository) CommitsBetween(ctx context.Context, from, to string, excludeMerges bool) ([]string, error) {
	args := []string{"rev-list", "--reverse"}
	if excludeMerges {
		args = append(args, "--no-merges")
	}
	args = append(args, fmt.Sprintf("%s..%s", from, to))

	out, err := r.output(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git rev-list: %w", err)
	}

	return splitLines(out), nil
}

func (r *ShellRepository) CommitSubject(ctx context.Context, id string) (string, error) {
	out, err := r.output(ctx, "show", "-s", "--format=%s", id)
	if err != nil {
		return "", fmt.Errorf("git show %s: %w", id, err)
	}
	return strings.TrimSpace(out), nil
}

func (r *ShellRepository) RevParse(ctx context.Context, rev string) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", rev, err)
	}
	return strings.TrimSpace(out), nil
}

func (r *ShellRepository) CreateBranch(ctx context.Context, name, startPoint string) error {
	if err := r.run(ctx, "checkout", "-b", name, startPoint); err != nil {
		return fmt.Errorf("git checkout -b %s %s: %w", name, startPoint, err)
	}
	return nil
}

func (r *ShellRepository) Checkout(ctx context.Context, name string) error {
	if err := r.run(ctx, "checkout", name); err != nil {
		return fmt.Errorf("git checkout %s: %w", name, err)
	}
	return nil
}

func (r *ShellRepository) DeleteBranch(ctx context.Context, name string) error {
	if err := r.run(ctx, "branch", "-D", name); err != nil {
		return fmt.Errorf("git branch -D %s: %w", name, err)
	}
	return nil
}

func (r *ShellRepository) ResetHard(ctx context.Context, branch, target string) error {
	current, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current != branch {
		return fmt.Errorf("refusing to reset %s while %s is checked out", branch, current)
	}
	if err := r.run(ctx, "reset", "--hard", target); err != nil {
		return fmt.Errorf("git reset --hard %s: %w", target, err)
	}
	return nil
}

func (r *ShellRepository) CreateAnnotatedRef(ctx context.Context, name, message, target string) error {
	if err := r.run(ctx, "tag", "-a", name, "-m", message, target); err != nil {
		return fmt.Errorf("git tag %s: %w", name, err)
	}
	return nil
}

func (r *ShellRepository) ApplyCommit(ctx context.Context, id string, opts ApplyOptions) ApplyResult {
	args := []string{"cherry-pick"}
	if opts.AllowEmpty {
		args = append(args, "--allow-empty")
	}
	args = append(args, id)

	out, err := r.output(ctx, args...)
	return ClassifyApply(out, err)
}

func (r *ShellRepository) ContinueApply(ctx context.Context) ApplyResult {
	out, err := r.output(ctx, "-c", "core.editor=true", "cherry-pick", "--continue")
	if err != nil && noSequencerInProgress(err) {
		// Either the user committed the resolution or abandoned the pick.
		// Callers tell the two apart by whether HEAD moved.
		return ApplyResult{Status: ApplyApplied, Output: out}
	}
	return ClassifyApply(out, err)
}

func (r *ShellRepository) SkipApply(ctx context.Context) error {
	err := r.run(ctx, "cherry-pick", "--skip")
	if err == nil || noSequencerInProgress(err) {
		return nil
	}
	return fmt.Errorf("git cherry-pick --skip: %w", err)
}

func (r *ShellRepository) AbortApply(ctx context.Context) error {
	err := r.run(ctx, "cherry-pick", "--abort")
	if err == nil || noSequencerInProgress(err) {
		return nil
	}
	return fmt.Errorf("git cherry-pick --abort: %w", err)
}

// ResolveConflicts takes the given side for every unmerged path and stages the
// result. A path the chosen side deleted is removed.
func (r *ShellRepository) ResolveConflicts(ctx context.Context, side Side) error {
	if side != SideOurs && side != SideTheirs {
		return fmt.Errorf("unknown conflict side %q", side)
	}

	paths, err := r.ConflictedPaths(ctx)
	if err != nil {
		return err
	}

	for _, path := range paths {
		err := r.run(ctx, "checkout", "--"+string(side), "--", path)
		if err != nil {
			var gitErr *GitError
			if !errors.As(err, &gitErr) || !strings.Contains(gitErr.Output, "does not have") {
				return fmt.Errorf("git checkout --%s %s: %w", side, path, err)
			}
			if err := r.run(ctx, "rm", "--quiet", "--force", "--", path); err != nil {
				return fmt.Errorf("git rm %s: %w", path, err)
			}
			continue
		}
		if err := r.run(ctx, "add", "--", path); err != nil {
			return fmt.Errorf("git add %s: %w", path, err)
		}
	}

	return nil
}

func (r *ShellRepository) ConflictedPaths(ctx context.Context) ([]string, error) {
	out, err := r.output(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("git diff --diff-filter=U: %w", err)
	}
	return splitLines(out), nil
}

func (r *ShellRepository) Rebase(ctx context.Context, onto string, opts RebaseOptions) ApplyResult {
	args := []string{"rebase"}
	if opts.StrategyOption != "" {
		args = append(args, "-X", opts.StrategyOption)
	}
	args = append(args, onto)

	out, err := r.output(ctx, args...)
	return ClassifyApply(out, err)
}

// ContinueRebase continues an in-progress rebase. A step that became empty
// after resolution is skipped rather than reported.
func (r *ShellRepository) ContinueRebase(ctx context.Context) ApplyResult {
	out, err := r.output(ctx, "-c", "core.editor=true", "rebase", "--continue")
	result := ClassifyApply(out, err)
	if result.Status != ApplyEmpty {
		return result
	}

	out, err = r.output(ctx, "-c", "core.editor=true", "rebase", "--skip")
	return ClassifyApply(out, err)
}

func (r *ShellRepository) AbortRebase(ctx context.Context) error {
	err := r.run(ctx, "rebase", "--abort")
	if err == nil {
		return nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) && strings.Contains(strings.ToLower(gitErr.Output), "no rebase in progress") {
		return nil
	}
	return fmt.Errorf("git rebase --abort: %w", err)
}

func (r *ShellRepository) IsRebaseInProgress(ctx context.Context) (bool, error) {
	gitDir, err := r.GitDir(ctx)
	if err != nil {
		return false, err
	}
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, dir)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// ShelveChanges stashes tracked and untracked changes under label. It returns
// label as the handle, or "" when there was nothing to stash.
func (r *ShellRepository) ShelveChanges(ctx context.Context, label string) (string, error) {
	if _, err := r.output(ctx, "stash", "push", "-u", "-m", label); err != nil {
		return "", fmt.Errorf("git stash push: %w", err)
	}

	ref, err := r.findStash(ctx, label)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", nil
	}
	return label, nil
}

// RestoreShelved pops the stash entry created under handle. The entry is looked
// up again so stashes pushed in the meantime do not shift it.
func (r *ShellRepository) RestoreShelved(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	ref, err := r.findStash(ctx, handle)
	if err != nil {
		return err
	}
	if ref == "" {
		return fmt.Errorf("stash %q not found", handle)
	}
	if err := r.run(ctx, "stash", "pop", ref); err != nil {
		return fmt.Errorf("git stash pop %s: %w", ref, err)
	}
	return nil
}

func (r *ShellRepository) findStash(ctx context.Context, label string) (string, error) {
	out, err := r.output(ctx, "stash", "list", "--format=%gd %gs")
	if err != nil {
		return "", fmt.Errorf("git stash list: %w", err)
	}
	for _, line := range splitLines(out) {
		ref, subject, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		if strings.HasSuffix(subject, label) {
			return ref, nil
		}
	}
	return "", nil
}

func (r *ShellRepository) PushWithLease(ctx context.Context, branch string) error {
	if err := r.run(ctx, "push", "-u", r.remoteName(), branch, "--force-with-lease"); err != nil {
		return fmt.Errorf("git push %s: %w", branch, err)
	}
	return nil
}

func (r *ShellRepository) GitDir(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", fmt.Errorf("git rev-parse --absolute-git-dir: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (r *ShellRepository) run(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

func (r *ShellRepository) output(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"-C", r.Dir}, args...)
	return r.runGit(ctx, cmd...)
}

func (r *ShellRepository) runGit(ctx context.Context, args ...string) (string, error) {
	primary := primaryGitCommand(args)
	isNetwork := isNetworkCommand(primary)

	retries := 0
	if isNetwork {
		retries = r.networkRetriesValue()
	}

	delay := r.networkRetryDelayValue()
	var (
		lastOut string
		lastErr error
	)

	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := r.applyNetworkTimeout(ctx, isNetwork)
		out, err := r.runGitOnce(attemptCtx, args...)
		cancel()

		if err == nil {
			return out, nil
		}
		lastOut, lastErr = out, err

		if !isNetwork {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == retries {
			break
		}

		select {
		case <-ctx.Done():
			return lastOut, ctx.Err()
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay = time.Second
		}
		delay *= 2
	}

	return lastOut, lastErr
}

func (r *ShellRepository) runGitOnce(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.gitBinary(), args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	setProcessGroup(cmd)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return "", &GitError{Args: args, Output: output.String(), Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return output.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return output.String(), ctxErr
			}
			return output.String(), &GitError{Args: args, Output: output.String(), Err: err}
		}
	}

	return output.String(), nil
}

func primaryGitCommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		}
		if strings.HasPrefix(arg, "-") {
			switch arg {
			case "-C", "--git-dir", "-c":
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func isNetworkCommand(cmd string) bool {
	switch cmd {
	case "fetch", "push", "pull", "ls-remote":
		return true
	default:
		return false
	}
}

func (r *ShellRepository) networkRetriesValue() int {
	if r.NetworkRetries < 0 {
		return 0
	}
	if r.NetworkRetries == 0 {
		return 2
	}
	return r.NetworkRetries
}

func (r *ShellRepository) networkRetryDelayValue() time.Duration {
	if r.NetworkRetryDelay <= 0 {
		return time.Second
	}
	return r.NetworkRetryDelay
}

func (r *ShellRepository) networkTimeoutValue() time.Duration {
	if r.NetworkTimeout <= 0 {
		return 2 * time.Minute
	}
	return r.NetworkTimeout
}

func (r *ShellRepository) applyNetworkTimeout(ctx context.Context, network bool) (context.Context, context.CancelFunc) {
	if !network {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && !deadline.IsZero() {
		return ctx, func() {}
	}
	timeout := r.networkTimeoutValue()
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// GitError wraps failures when invoking the git binary.
type GitError struct {
	Args   []string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("git %s: %v\n%s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *GitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func noSequencerInProgress(err error) bool {
	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	return strings.Contains(strings.ToLower(gitErr.Output), "no cherry-pick or revert in progress")
}

func splitLines(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
