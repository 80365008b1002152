package git

import "context"

// RefKind distinguishes local branches, remote-tracking branches and tags.
type RefKind int

const (
	RefLocal RefKind = iota
	RefRemote
	RefTag
)

func (k RefKind) String() string {
	switch k {
	case RefRemote:
		return "remote"
	case RefTag:
		return "tag"
	default:
		return "local"
	}
}

// Side names one half of a conflicting change.
type Side string

const (
	SideOurs   Side = "ours"
	SideTheirs Side = "theirs"
)

// ApplyStatus classifies the result of replaying a change.
type ApplyStatus int

const (
	ApplyApplied ApplyStatus = iota
	ApplyEmpty
	ApplyConflict
	ApplyFailed
)

func (s ApplyStatus) String() string {
	switch s {
	case ApplyApplied:
		return "applied"
	case ApplyEmpty:
		return "empty"
	case ApplyConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// ApplyResult is the structured outcome of a cherry-pick or rebase step. Err is
// set for every status except ApplyApplied.
type ApplyResult struct {
	Status ApplyStatus
	Output string
	Err    error
}

// ApplyOptions tunes a single cherry-pick.
type ApplyOptions struct {
	AllowEmpty bool
}

// RebaseOptions tunes a native rebase.
type RebaseOptions struct {
	// StrategyOption is passed as -X <value> when non-empty.
	StrategyOption string
}

// Repository exposes the version-control primitives the rebase engine needs.
// Calls are synchronous and must not be issued concurrently against the same
// worktree.
type Repository interface {
	CurrentBranch(ctx context.Context) (string, error)
	IsWorkingTreeClean(ctx context.Context) (bool, error)
	FetchRemote(ctx context.Context) error
	RefExists(ctx context.Context, kind RefKind, name string) (bool, error)
	MergeBase(ctx context.Context, a, b string) (string, error)
	CommitsBetween(ctx context.Context, from, to string, excludeMerges bool) ([]string, error)
	CommitSubject(ctx context.Context, id string) (string, error)
	RevParse(ctx context.Context, rev string) (string, error)

	CreateBranch(ctx context.Context, name, startPoint string) error
	Checkout(ctx context.Context, name string) error
	DeleteBranch(ctx context.Context, name string) error
	ResetHard(ctx context.Context, branch, target string) error
	CreateAnnotatedRef(ctx context.Context, name, message, target string) error

	ApplyCommit(ctx context.Context, id string, opts ApplyOptions) ApplyResult
	ContinueApply(ctx context.Context) ApplyResult
	SkipApply(ctx context.Context) error
	AbortApply(ctx context.Context) error
	ResolveConflicts(ctx context.Context, side Side) error
	ConflictedPaths(ctx context.Context) ([]string, error)

	Rebase(ctx context.Context, onto string, opts RebaseOptions) ApplyResult
	ContinueRebase(ctx context.Context) ApplyResult
	AbortRebase(ctx context.Context) error
	IsRebaseInProgress(ctx context.Context) (bool, error)

	ShelveChanges(ctx context.Context, label string) (string, error)
	RestoreShelved(ctx context.Context, handle string) error
	PushWithLease(ctx context.Context, branch string) error

	ListBranches(ctx context.Context, kind RefKind) ([]string, error)
	RemoteURL(ctx context.Context) (string, error)
	GitDir(ctx context.Context) (string, error)
}
