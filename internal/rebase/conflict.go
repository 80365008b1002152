package rebase

import (
	"fmt"
	"strings"

	"github.com/rancher/auto-rebase/internal/git"
)

// Strategy selects how a conflicting commit is handled.
type Strategy string

const (
	StrategyPause  Strategy = "pause"
	StrategySkip   Strategy = "skip"
	StrategyOurs   Strategy = "ours"
	StrategyTheirs Strategy = "theirs"

	// StrategyFail aborts on the first conflict. It is not user-selectable.
	StrategyFail Strategy = "fail"
)

// Strategies lists the user-selectable strategies.
var Strategies = []Strategy{StrategyPause, StrategySkip, StrategyOurs, StrategyTheirs}

// ParseStrategy accepts a strategy name or one of its take-ours/take-theirs
// aliases. Empty input selects pause.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(StrategyPause):
		return StrategyPause, nil
	case string(StrategySkip):
		return StrategySkip, nil
	case string(StrategyOurs), "take-ours":
		return StrategyOurs, nil
	case string(StrategyTheirs), "take-theirs":
		return StrategyTheirs, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q (expected pause, skip, ours or theirs)", value)
	}
}

// Mode identifies which kind of session raised a conflict.
type Mode int

const (
	ModeCherryPick Mode = iota
	ModeLinear
)

// ConflictSignal describes a conflict reported by an apply step. Attempt counts
// automatic resolutions already tried for the same step.
type ConflictSignal struct {
	Mode    Mode
	Commit  string
	Attempt int
	Paths   []string
}

// ActionKind is what a session does about a conflict.
type ActionKind int

const (
	ActionPause ActionKind = iota
	ActionSkip
	ActionResolve
	ActionAbort
)

func (k ActionKind) String() string {
	switch k {
	case ActionPause:
		return "pause"
	case ActionSkip:
		return "skip"
	case ActionResolve:
		return "resolve"
	default:
		return "abort"
	}
}

// Action is the decision for one conflict. Side is set for ActionResolve.
type Action struct {
	Kind ActionKind
	Side git.Side
}

// Decide maps a strategy and a conflict to an action. Cherry-pick sessions honor
// every strategy; linear sessions only resolve once with a side and otherwise
// abort. A resolution is never retried for the same step.
func Decide(strategy Strategy, sig ConflictSignal) Action {
	if sig.Attempt > 0 {
		return Action{Kind: ActionAbort}
	}

	if sig.Mode == ModeLinear {
		switch strategy {
		case StrategyOurs:
			return Action{Kind: ActionResolve, Side: git.SideOurs}
		case StrategyTheirs:
			return Action{Kind: ActionResolve, Side: git.SideTheirs}
		default:
			return Action{Kind: ActionAbort}
		}
	}

	switch strategy {
	case StrategyPause:
		return Action{Kind: ActionPause}
	case StrategySkip:
		return Action{Kind: ActionSkip}
	case StrategyOurs:
		return Action{Kind: ActionResolve, Side: git.SideOurs}
	case StrategyTheirs:
		return Action{Kind: ActionResolve, Side: git.SideTheirs}
	default:
		return Action{Kind: ActionAbort}
	}
}
