package rebase

import (
	"context"
	"fmt"

	"github.com/rancher/auto-rebase/internal/git"
)

// LinearSession runs a single native git rebase onto the target. A conflict is
// either resolved automatically once or the rebase is aborted; there is no
// pause.
type LinearSession struct {
	session

	side    git.Side
	started bool
}

var _ Session = (*LinearSession)(nil)

// NewLinearSession validates both branch names and returns a session in the
// Initializing state.
func NewLinearSession(repo git.Repository, current, target string, cfg Config, deps Deps) (*LinearSession, error) {
	base, err := newSession(KindLinear, repo, current, target, cfg, deps)
	if err != nil {
		return nil, err
	}
	return &LinearSession{session: base}, nil
}

func (s *LinearSession) strategy() Strategy {
	if s.cfg.ContinueOnConflict {
		return StrategyOurs
	}
	return StrategyFail
}

// Step advances the session by one phase. A non-nil error means the session
// has just failed.
func (s *LinearSession) Step(ctx context.Context) (Event, error) {
	switch s.state {
	case StateInitializing:
		e, err := s.prepareWorktree(ctx)
		if err != nil {
			return s.fail(ctx, err)
		}
		s.state = StateFetching
		return e, nil

	case StateFetching:
		e, err := s.fetchAndResolve(ctx)
		if err != nil {
			return s.fail(ctx, err)
		}
		s.state = StateRebasing
		return e, nil

	case StateRebasing:
		return s.rebase(ctx)

	case StateAutoResolving:
		return s.autoResolve(ctx)

	default:
		return Event{State: s.state}, ErrSessionDone
	}
}

func (s *LinearSession) rebase(ctx context.Context) (Event, error) {
	if err := s.repo.Checkout(ctx, s.current); err != nil {
		return s.fail(ctx, fmt.Errorf("checkout %s: %w", s.current, err))
	}
	if err := s.createBackup(ctx); err != nil {
		return s.fail(ctx, err)
	}

	var opts git.RebaseOptions
	if s.cfg.ContinueOnConflict {
		opts.StrategyOption = string(git.SideOurs)
	}

	s.say("Rebasing %s onto %s...", s.current, s.target.Rev())
	s.started = true
	res := s.repo.Rebase(ctx, s.target.Rev(), opts)
	switch res.Status {
	case git.ApplyApplied:
		return s.succeed(ctx), nil

	case git.ApplyConflict, git.ApplyEmpty:
		action := Decide(s.strategy(), ConflictSignal{Mode: ModeLinear})
		if action.Kind != ActionResolve {
			return s.fail(ctx, fmt.Errorf("rebase onto %s stopped on a conflict: %w", s.target.Rev(), res.Err))
		}
		s.side = action.Side
		s.state = StateAutoResolving
		e := Event{Message: fmt.Sprintf("Conflict detected, attempting to auto-resolve using '%s' strategy...", action.Side), Output: res.Output}
		return s.emit(e), nil

	default:
		return s.fail(ctx, fmt.Errorf("rebase onto %s: %w", s.target.Rev(), res.Err))
	}
}

// autoResolve makes the single permitted resolution attempt. Anything short of
// a clean continuation aborts the whole rebase.
func (s *LinearSession) autoResolve(ctx context.Context) (Event, error) {
	if err := s.repo.ResolveConflicts(ctx, s.side); err != nil {
		return s.fail(ctx, &ResolutionFailure{Side: s.side, Err: err})
	}

	res := s.repo.ContinueRebase(ctx)
	if res.Status == git.ApplyApplied {
		return s.succeed(ctx), nil
	}

	s.log.Info("auto-resolve did not complete the rebase", "status", res.Status.String())
	return s.fail(ctx, &ResolutionFailure{Side: s.side, Err: res.Err})
}

// Resume is not supported; linear sessions never pause.
func (s *LinearSession) Resume(ctx context.Context) (Event, error) {
	return Event{State: s.state}, ErrNotPaused
}

// Cancel aborts any rebase in progress and restores the shelf, even when ctx
// is already done.
func (s *LinearSession) Cancel(ctx context.Context) Event {
	if s.state.Terminal() {
		return Event{State: s.state}
	}
	ctx = context.WithoutCancel(ctx)
	s.abortInFlight(ctx)
	s.restoreShelf(ctx)
	s.settle(OutcomeCancelled, nil)
	return s.say("Rebase cancelled. %s was not changed.", s.current)
}

func (s *LinearSession) succeed(ctx context.Context) Event {
	s.restoreShelf(context.WithoutCancel(ctx))
	s.settle(OutcomeSuccess, nil)
	s.log.Info("rebase succeeded", "branch", s.current, "target", s.target.Rev())
	return s.say("Successfully rebased %s onto %s!", s.current, s.target.Rev())
}

// fail aborts and restores on a context detached from ctx. A failure caused by
// ctx ending is reported as a cancellation.
func (s *LinearSession) fail(ctx context.Context, err error) (Event, error) {
	teardown := context.WithoutCancel(ctx)
	s.abortInFlight(teardown)
	s.restoreShelf(teardown)
	if ctx.Err() != nil {
		return s.interrupted(err), err
	}
	s.settle(OutcomeFailed, err)
	s.log.Error("rebase failed", "error", err)
	return s.failureEvent(err), err
}

// abortInFlight guarantees a failed or cancelled session leaves no rebase in
// progress.
func (s *LinearSession) abortInFlight(ctx context.Context) {
	if !s.started {
		return
	}
	inProgress, err := s.repo.IsRebaseInProgress(ctx)
	if err != nil {
		s.log.Warn("could not check for a rebase in progress", "error", err)
	}
	if !inProgress && err == nil {
		return
	}
	if err := s.repo.AbortRebase(ctx); err != nil {
		s.log.Warn("could not abort rebase", "error", err)
	}
}
