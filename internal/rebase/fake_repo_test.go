package rebase_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rancher/auto-rebase/internal/git"
)

// fakeRepo models just enough of a repository for the engine: branches are
// commit lists, revisions are the joined lists, and apply behaviour is scripted
// per commit id.
type fakeRepo struct {
	head      string
	dirty     bool
	local     map[string][]string
	remote    map[string][]string
	tags      map[string]string
	revs      map[string][]string
	subjects  map[string]string
	noSubject map[string]bool

	rangeCommits  []string
	excludeMerges bool

	conflicts map[string]bool
	empty     map[string]bool
	broken    map[string]bool

	inProgress     string
	staged         bool
	continueResult []git.ApplyStatus
	resolveErr     error
	resolvedSides  []git.Side

	rebaseResults  []git.ApplyStatus
	rebasing       bool
	rebaseOpts     []git.RebaseOptions
	continueRebase int

	stashes    []string
	restoreErr error

	fetchErr  error
	tagErr    error
	revErr    map[string]error
	deleteErr error

	// hooks run when the named call starts, e.g. "fetch", "apply c2" or
	// "rebase". Tests use them to interrupt a session while git is busy.
	hooks map[string]func()

	calls []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		head: "feature",
		local: map[string][]string{
			"main":    {"m1"},
			"feature": {"m1", "c1", "c2", "c3"},
		},
		remote: map[string][]string{
			"main": {"m1", "m2"},
		},
		tags:         map[string]string{},
		revs:         map[string][]string{},
		subjects:     map[string]string{},
		rangeCommits: []string{"c1", "c2", "c3"},
		conflicts:    map[string]bool{},
		empty:        map[string]bool{},
		broken:       map[string]bool{},
		revErr:       map[string]error{},
		hooks:        map[string]func(){},
	}
}

func (f *fakeRepo) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeRepo) hook(name string) {
	if fn := f.hooks[name]; fn != nil {
		fn()
	}
}

func (f *fakeRepo) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRepo) indexOf(call string) int {
	return slices.Index(f.calls, call)
}

func tipOf(history []string) string {
	return strings.Join(history, ">")
}

func (f *fakeRepo) tip(branch string) string {
	return tipOf(f.local[branch])
}

func (f *fakeRepo) lookup(rev string) ([]string, bool) {
	if rev == "HEAD" {
		h, ok := f.local[f.head]
		return h, ok
	}
	if strings.HasPrefix(rev, "origin/") {
		h, ok := f.remote[strings.TrimPrefix(rev, "origin/")]
		return h, ok
	}
	if h, ok := f.local[rev]; ok {
		return h, true
	}
	h, ok := f.revs[rev]
	return h, ok
}

// Like exec.CommandContext, calls that would run git refuse a done context.

func (f *fakeRepo) CurrentBranch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.head, nil
}

func (f *fakeRepo) IsWorkingTreeClean(context.Context) (bool, error) {
	return !f.dirty, nil
}

func (f *fakeRepo) FetchRemote(ctx context.Context) error {
	f.record("fetch")
	f.hook("fetch")
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fetchErr
}

func (f *fakeRepo) RefExists(ctx context.Context, kind git.RefKind, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch kind {
	case git.RefRemote:
		_, ok := f.remote[name]
		return ok, nil
	case git.RefTag:
		_, ok := f.tags[name]
		return ok, nil
	default:
		_, ok := f.local[name]
		return ok, nil
	}
}

func (f *fakeRepo) MergeBase(context.Context, string, string) (string, error) {
	return "m1", nil
}

func (f *fakeRepo) CommitsBetween(_ context.Context, _, _ string, excludeMerges bool) ([]string, error) {
	f.excludeMerges = excludeMerges
	return slices.Clone(f.rangeCommits), nil
}

func (f *fakeRepo) CommitSubject(_ context.Context, id string) (string, error) {
	if f.noSubject[id] {
		return "", fmt.Errorf("git log %s: bad object", id)
	}
	if s, ok := f.subjects[id]; ok {
		return s, nil
	}
	return "subject " + id, nil
}

func (f *fakeRepo) RevParse(_ context.Context, rev string) (string, error) {
	if err := f.revErr[rev]; err != nil {
		return "", err
	}
	h, ok := f.lookup(rev)
	if !ok {
		return "", fmt.Errorf("unknown revision %s", rev)
	}
	t := tipOf(h)
	f.revs[t] = slices.Clone(h)
	return t, nil
}

func (f *fakeRepo) CreateBranch(_ context.Context, name, start string) error {
	f.record("create %s %s", name, start)
	h, ok := f.lookup(start)
	if !ok {
		return fmt.Errorf("unknown start point %s", start)
	}
	if _, exists := f.local[name]; exists {
		return fmt.Errorf("branch %s already exists", name)
	}
	f.local[name] = slices.Clone(h)
	f.head = name
	return nil
}

func (f *fakeRepo) Checkout(ctx context.Context, name string) error {
	f.record("checkout %s", name)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.inProgress != "" {
		return errors.New("you need to resolve your current index first")
	}
	if _, ok := f.local[name]; !ok {
		return fmt.Errorf("pathspec %s did not match", name)
	}
	f.head = name
	return nil
}

func (f *fakeRepo) DeleteBranch(ctx context.Context, name string) error {
	f.record("delete %s", name)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.head == name {
		return fmt.Errorf("cannot delete branch %s checked out", name)
	}
	delete(f.local, name)
	return nil
}

func (f *fakeRepo) ResetHard(_ context.Context, branch, target string) error {
	f.record("reset %s", branch)
	if f.head != branch {
		return fmt.Errorf("%s is not checked out", branch)
	}
	h, ok := f.lookup(target)
	if !ok {
		return fmt.Errorf("unknown target %s", target)
	}
	f.local[branch] = slices.Clone(h)
	return nil
}

func (f *fakeRepo) CreateAnnotatedRef(_ context.Context, name, message, target string) error {
	f.record("tag %s", name)
	if f.tagErr != nil {
		return f.tagErr
	}
	if _, ok := f.tags[name]; ok {
		return fmt.Errorf("tag %s already exists", name)
	}
	f.tags[name] = target
	return nil
}

func (f *fakeRepo) ApplyCommit(ctx context.Context, id string, _ git.ApplyOptions) git.ApplyResult {
	f.record("apply %s", id)
	f.hook("apply " + id)
	if err := ctx.Err(); err != nil {
		return git.ApplyResult{Status: git.ApplyFailed, Err: err}
	}
	switch {
	case f.conflicts[id]:
		f.inProgress = id
		return git.ApplyResult{Status: git.ApplyConflict, Output: "CONFLICT (content): Merge conflict in file.txt", Err: errors.New("exit status 1")}
	case f.empty[id]:
		f.inProgress = id
		return git.ApplyResult{Status: git.ApplyEmpty, Output: "The previous cherry-pick is now empty", Err: errors.New("exit status 1")}
	case f.broken[id]:
		return git.ApplyResult{Status: git.ApplyFailed, Output: "fatal: bad object", Err: errors.New("exit status 128")}
	}
	f.local[f.head] = append(f.local[f.head], id)
	return git.ApplyResult{Status: git.ApplyApplied}
}

func (f *fakeRepo) ContinueApply(context.Context) git.ApplyResult {
	f.record("continue")
	if len(f.continueResult) > 0 {
		status := f.continueResult[0]
		f.continueResult = f.continueResult[1:]
		if status != git.ApplyApplied {
			return git.ApplyResult{Status: status, Output: "error: Committing is not possible because you have unmerged files.", Err: errors.New("exit status 1")}
		}
	}
	if f.inProgress == "" {
		return git.ApplyResult{Status: git.ApplyApplied}
	}
	if !f.staged {
		return git.ApplyResult{Status: git.ApplyConflict, Output: "error: Committing is not possible because you have unmerged files.", Err: errors.New("exit status 1")}
	}
	f.local[f.head] = append(f.local[f.head], f.inProgress)
	f.inProgress = ""
	f.staged = false
	return git.ApplyResult{Status: git.ApplyApplied}
}

func (f *fakeRepo) SkipApply(context.Context) error {
	f.record("skip")
	f.inProgress = ""
	f.staged = false
	return nil
}

func (f *fakeRepo) AbortApply(ctx context.Context) error {
	f.record("abort")
	if err := ctx.Err(); err != nil {
		return err
	}
	f.inProgress = ""
	f.staged = false
	return nil
}

func (f *fakeRepo) ResolveConflicts(_ context.Context, side git.Side) error {
	f.record("resolve %s", side)
	f.resolvedSides = append(f.resolvedSides, side)
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.staged = true
	return nil
}

func (f *fakeRepo) ConflictedPaths(context.Context) ([]string, error) {
	if f.inProgress == "" && !f.rebasing {
		return nil, nil
	}
	return []string{"file.txt"}, nil
}

func (f *fakeRepo) Rebase(ctx context.Context, onto string, opts git.RebaseOptions) git.ApplyResult {
	f.record("rebase %s", onto)
	f.rebaseOpts = append(f.rebaseOpts, opts)
	f.hook("rebase")
	if err := ctx.Err(); err != nil {
		// Killed part way through: the rebase is left in progress.
		f.rebasing = true
		return git.ApplyResult{Status: git.ApplyFailed, Err: err}
	}
	return f.nextRebase(onto)
}

func (f *fakeRepo) nextRebase(onto string) git.ApplyResult {
	status := git.ApplyApplied
	if len(f.rebaseResults) > 0 {
		status = f.rebaseResults[0]
		f.rebaseResults = f.rebaseResults[1:]
	}
	if status == git.ApplyApplied {
		f.rebasing = false
		if h, ok := f.lookup(onto); ok {
			f.local[f.head] = append(slices.Clone(h), f.rangeCommits...)
		}
		return git.ApplyResult{Status: git.ApplyApplied}
	}
	f.rebasing = true
	return git.ApplyResult{Status: status, Output: "CONFLICT (content): Merge conflict in file.txt", Err: errors.New("exit status 1")}
}

func (f *fakeRepo) ContinueRebase(context.Context) git.ApplyResult {
	f.record("rebase --continue")
	f.continueRebase++
	return f.nextRebase("origin/main")
}

func (f *fakeRepo) AbortRebase(ctx context.Context) error {
	f.record("rebase --abort")
	if err := ctx.Err(); err != nil {
		return err
	}
	f.rebasing = false
	return nil
}

func (f *fakeRepo) IsRebaseInProgress(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.rebasing, nil
}

func (f *fakeRepo) ShelveChanges(_ context.Context, label string) (string, error) {
	f.record("stash %s", label)
	if !f.dirty {
		return "", nil
	}
	f.dirty = false
	f.stashes = append(f.stashes, label)
	return label, nil
}

func (f *fakeRepo) RestoreShelved(ctx context.Context, handle string) error {
	f.record("pop %s", handle)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.restoreErr != nil {
		return f.restoreErr
	}
	idx := slices.Index(f.stashes, handle)
	if idx < 0 {
		return fmt.Errorf("no stash %s", handle)
	}
	f.stashes = slices.Delete(f.stashes, idx, idx+1)
	f.dirty = true
	return nil
}

func (f *fakeRepo) PushWithLease(_ context.Context, branch string) error {
	f.record("push %s", branch)
	return nil
}

func (f *fakeRepo) ListBranches(_ context.Context, kind git.RefKind) ([]string, error) {
	source := f.local
	if kind == git.RefRemote {
		source = f.remote
	}
	var names []string
	for name := range source {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (f *fakeRepo) RemoteURL(context.Context) (string, error) {
	return "git@github.com:rancher/auto-rebase.git", nil
}

func (f *fakeRepo) GitDir(context.Context) (string, error) {
	return "/tmp/repo/.git", nil
}

// scratchBranches lists local branches created by sessions.
func (f *fakeRepo) scratchBranches() []string {
	var names []string
	for name := range f.local {
		if strings.HasPrefix(name, "temp-rebase-") {
			names = append(names, name)
		}
	}
	return names
}
