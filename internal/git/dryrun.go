package git

import (
	"context"
	"fmt"
	"strings"
)

// DryRunRepository forwards read-only probes to an underlying Repository and
// records every mutating call instead of running it. Mutations report success,
// and the branch it pretends to have checked out is tracked so follow-up probes
// stay consistent with the plan.
type DryRunRepository struct {
	// RemoteName is the remote recorded for pushes. Defaults to "origin".
	RemoteName string

	inner   Repository
	ops     []string
	head    string
	created map[string]string
	deleted map[string]bool
}

var _ Repository = (*DryRunRepository)(nil)

// NewDryRunRepository wraps inner.
func NewDryRunRepository(inner Repository) *DryRunRepository {
	return &DryRunRepository{
		inner:   inner,
		created: make(map[string]string),
		deleted: make(map[string]bool),
	}
}

// Operations returns the recorded git invocations in call order.
func (d *DryRunRepository) Operations() []string {
	out := make([]string, len(d.ops))
	copy(out, d.ops)
	return out
}

func (d *DryRunRepository) record(args ...string) {
	d.ops = append(d.ops, "git "+strings.Join(args, " "))
}

func (d *DryRunRepository) CurrentBranch(ctx context.Context) (string, error) {
	if d.head != "" {
		return d.head, nil
	}
	return d.inner.CurrentBranch(ctx)
}

func (d *DryRunRepository) IsWorkingTreeClean(ctx context.Context) (bool, error) {
	return d.inner.IsWorkingTreeClean(ctx)
}

func (d *DryRunRepository) FetchRemote(ctx context.Context) error {
	d.record("fetch", "--all")
	return nil
}

func (d *DryRunRepository) RefExists(ctx context.Context, kind RefKind, name string) (bool, error) {
	if kind == RefLocal {
		if _, ok := d.created[name]; ok {
			return true, nil
		}
		if d.deleted[name] {
			return false, nil
		}
	}
	return d.inner.RefExists(ctx, kind, name)
}

func (d *DryRunRepository) MergeBase(ctx context.Context, a, b string) (string, error) {
	return d.inner.MergeBase(ctx, a, b)
}

func (d *DryRunRepository) CommitsBetween(ctx context.Context, from, to string, excludeMerges bool) ([]string, error) {
	return d.inner.CommitsBetween(ctx, from, to, excludeMerges)
}

func (d *DryRunRepository) CommitSubject(ctx context.Context, id string) (string, error) {
	return d.inner.CommitSubject(ctx, id)
}

// RevParse resolves a branch created during the dry run to its start point.
func (d *DryRunRepository) RevParse(ctx context.Context, rev string) (string, error) {
	if start, ok := d.created[rev]; ok {
		return d.inner.RevParse(ctx, start)
	}
	return d.inner.RevParse(ctx, rev)
}

func (d *DryRunRepository) CreateBranch(ctx context.Context, name, startPoint string) error {
	d.record("checkout", "-b", name, startPoint)
	d.created[name] = startPoint
	delete(d.deleted, name)
	d.head = name
	return nil
}

func (d *DryRunRepository) Checkout(ctx context.Context, name string) error {
	d.record("checkout", name)
	d.head = name
	return nil
}

func (d *DryRunRepository) DeleteBranch(ctx context.Context, name string) error {
	d.record("branch", "-D", name)
	delete(d.created, name)
	d.deleted[name] = true
	return nil
}

func (d *DryRunRepository) ResetHard(ctx context.Context, branch, target string) error {
	d.record("reset", "--hard", target)
	return nil
}

func (d *DryRunRepository) CreateAnnotatedRef(ctx context.Context, name, message, target string) error {
	d.record("tag", "-a", name, "-m", fmt.Sprintf("%q", message), target)
	return nil
}

func (d *DryRunRepository) ApplyCommit(ctx context.Context, id string, opts ApplyOptions) ApplyResult {
	if opts.AllowEmpty {
		d.record("cherry-pick", "--allow-empty", id)
	} else {
		d.record("cherry-pick", id)
	}
	return ApplyResult{Status: ApplyApplied}
}

func (d *DryRunRepository) ContinueApply(ctx context.Context) ApplyResult {
	d.record("cherry-pick", "--continue")
	return ApplyResult{Status: ApplyApplied}
}

func (d *DryRunRepository) SkipApply(ctx context.Context) error {
	d.record("cherry-pick", "--skip")
	return nil
}

func (d *DryRunRepository) AbortApply(ctx context.Context) error {
	d.record("cherry-pick", "--abort")
	return nil
}

func (d *DryRunRepository) ResolveConflicts(ctx context.Context, side Side) error {
	d.record("checkout", "--"+string(side), "--", ".")
	return nil
}

func (d *DryRunRepository) ConflictedPaths(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (d *DryRunRepository) Rebase(ctx context.Context, onto string, opts RebaseOptions) ApplyResult {
	if opts.StrategyOption != "" {
		d.record("rebase", "-X", opts.StrategyOption, onto)
	} else {
		d.record("rebase", onto)
	}
	return ApplyResult{Status: ApplyApplied}
}

func (d *DryRunRepository) ContinueRebase(ctx context.Context) ApplyResult {
	d.record("rebase", "--continue")
	return ApplyResult{Status: ApplyApplied}
}

func (d *DryRunRepository) AbortRebase(ctx context.Context) error {
	d.record("rebase", "--abort")
	return nil
}

func (d *DryRunRepository) IsRebaseInProgress(ctx context.Context) (bool, error) {
	return false, nil
}

func (d *DryRunRepository) ShelveChanges(ctx context.Context, label string) (string, error) {
	clean, err := d.inner.IsWorkingTreeClean(ctx)
	if err != nil {
		return "", err
	}
	d.record("stash", "push", "-u", "-m", label)
	if clean {
		return "", nil
	}
	return label, nil
}

func (d *DryRunRepository) RestoreShelved(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	d.record("stash", "pop", handle)
	return nil
}

func (d *DryRunRepository) PushWithLease(ctx context.Context, branch string) error {
	remote := d.RemoteName
	if remote == "" {
		remote = "origin"
	}
	d.record("push", "-u", remote, branch, "--force-with-lease")
	return nil
}

func (d *DryRunRepository) ListBranches(ctx context.Context, kind RefKind) ([]string, error) {
	return d.inner.ListBranches(ctx, kind)
}

func (d *DryRunRepository) RemoteURL(ctx context.Context) (string, error) {
	return d.inner.RemoteURL(ctx)
}

func (d *DryRunRepository) GitDir(ctx context.Context) (string, error) {
	return d.inner.GitDir(ctx)
}
