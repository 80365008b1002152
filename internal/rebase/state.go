package rebase

// State is a session's position in its state machine.
type State int

const (
	StateInitializing State = iota
	StateFetching
	StateComputingRange
	StateCreatingScratchBranch
	StateApplying
	StateConflictPause
	StateFinishing
	StateRebasing
	StateAutoResolving
	StateSucceeded
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateInitializing:          "initializing",
	StateFetching:              "fetching",
	StateComputingRange:        "computing-range",
	StateCreatingScratchBranch: "creating-scratch-branch",
	StateApplying:              "applying",
	StateConflictPause:         "conflict-pause",
	StateFinishing:             "finishing",
	StateRebasing:              "rebasing",
	StateAutoResolving:         "auto-resolving",
	StateSucceeded:             "succeeded",
	StateCancelled:             "cancelled",
	StateFailed:                "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateCancelled || s == StateFailed
}

// Kind names a session strategy.
type Kind string

const (
	KindCherryPick Kind = "cherry-pick"
	KindLinear     Kind = "linear"
)

// Disposition records what happened to one commit of the range.
type Disposition string

const (
	DispositionApplied          Disposition = "applied"
	DispositionSkippedEmpty     Disposition = "skipped-empty"
	DispositionSkippedConflict  Disposition = "skipped-conflict"
	DispositionResolvedOurs     Disposition = "resolved-ours"
	DispositionResolvedTheirs   Disposition = "resolved-theirs"
	DispositionResolvedManually Disposition = "resolved-manually"
)

// CommitResult is the per-commit record of a cherry-pick session.
type CommitResult struct {
	ID          string
	Subject     string
	Disposition Disposition
}
