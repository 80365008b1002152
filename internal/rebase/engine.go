package rebase

import (
	"context"

	"github.com/rancher/auto-rebase/internal/git"
)

// Session is a rebase in progress, driven one step at a time by its caller.
// Calls must not overlap.
type Session interface {
	ID() string
	Kind() Kind
	State() State
	Step(ctx context.Context) (Event, error)
	Resume(ctx context.Context) (Event, error)
	Cancel(ctx context.Context) Event
	Outcome() Outcome
}

// Engine starts sessions that share a repository and collaborators.
type Engine struct {
	repo git.Repository
	deps Deps
}

// NewEngine returns an Engine operating on repo.
func NewEngine(repo git.Repository, deps Deps) *Engine {
	return &Engine{repo: repo, deps: deps.withDefaults()}
}

// Repository returns the repository sessions run against.
func (e *Engine) Repository() git.Repository {
	return e.repo
}

// StartCherryPick returns a cherry-pick session for current onto target.
func (e *Engine) StartCherryPick(current, target string, cfg Config) (*CherryPickSession, error) {
	return NewCherryPickSession(e.repo, current, target, cfg, e.deps)
}

// StartLinear returns a linear rebase session for current onto target.
func (e *Engine) StartLinear(current, target string, cfg Config) (*LinearSession, error) {
	return NewLinearSession(e.repo, current, target, cfg, e.deps)
}

// Start picks the session kind from cfg.Linear.
func (e *Engine) Start(current, target string, cfg Config) (Session, error) {
	if cfg.Linear {
		return e.StartLinear(current, target, cfg)
	}
	return e.StartCherryPick(current, target, cfg)
}

// PauseDecision is the caller's answer to a conflict pause.
type PauseDecision int

const (
	DecisionResume PauseDecision = iota
	DecisionCancel
)

// PauseFunc is consulted every time a session waits on a conflict.
type PauseFunc func(ctx context.Context, e Event) PauseDecision

// Drive steps s until it reaches a terminal state. onPause decides whether a
// paused session resumes or is cancelled; a nil onPause cancels. When ctx is
// done the session is cancelled using a context detached from ctx so that the
// cleanup commands still run.
func Drive(ctx context.Context, s Session, onPause PauseFunc) Outcome {
	var last Event
	for {
		state := s.State()
		if state.Terminal() {
			return s.Outcome()
		}

		if ctx.Err() != nil {
			s.Cancel(context.WithoutCancel(ctx))
			continue
		}

		if state == StateConflictPause {
			if onPause == nil || onPause(ctx, last) == DecisionCancel {
				s.Cancel(ctx)
				continue
			}
			last, _ = s.Resume(ctx)
			continue
		}

		last, _ = s.Step(ctx)
	}
}
