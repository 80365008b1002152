package rebase

import (
	"errors"
	"fmt"

	"github.com/rancher/auto-rebase/internal/branches"
	"github.com/rancher/auto-rebase/internal/git"
	"github.com/rancher/auto-rebase/internal/lock"
)

type (
	// ValidationError is a malformed input detected before any side effect.
	ValidationError = branches.ValidationError
	// NotFoundError is a target branch that is absent after fetching.
	NotFoundError = branches.NotFoundError
	// ToolInvocationError is a git command that failed in an unclassified way.
	ToolInvocationError = git.GitError
)

var (
	// ErrDirtyWorktree is returned when the working tree has uncommitted changes
	// and autostash is disabled.
	ErrDirtyWorktree error = &ValidationError{
		Input:  "working tree",
		Reason: "uncommitted changes present; commit or stash them, or enable autostash",
	}

	// ErrNotPaused is returned by Resume when the session is not waiting on a
	// conflict.
	ErrNotPaused = errors.New("session is not paused on a conflict")

	// ErrSessionDone is returned when a finished session is stepped again.
	ErrSessionDone = errors.New("session has already finished")

	ErrSessionLocked = lock.ErrSessionLocked
)

// ResolutionFailure reports an automatic conflict resolution that did not
// complete. The in-flight operation is always aborted before it surfaces.
type ResolutionFailure struct {
	Commit string
	Side   git.Side
	Err    error
}

func (e *ResolutionFailure) Error() string {
	if e.Commit == "" {
		return fmt.Sprintf("auto-resolve using %q failed: %v", e.Side, e.Err)
	}
	return fmt.Sprintf("auto-resolve of commit %s using %q failed: %v", ShortID(e.Commit), e.Side, e.Err)
}

func (e *ResolutionFailure) Unwrap() error {
	return e.Err
}

// CleanupError is a failure after the session outcome was decided. It is
// logged and never changes the outcome.
type CleanupError struct {
	Op  string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s: %v", e.Op, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// OutcomeKind tags the terminal result of a session.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomeCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is set once when a session reaches a terminal state.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Done reports whether the outcome has been decided.
func (o Outcome) Done() bool {
	return o.Kind != OutcomePending
}

func (o Outcome) String() string {
	if o.Kind == OutcomeFailed && o.Err != nil {
		return fmt.Sprintf("failed: %v", o.Err)
	}
	return o.Kind.String()
}
