package rebase

import (
	"context"
	"fmt"

	"github.com/rancher/auto-rebase/internal/branches"
	"github.com/rancher/auto-rebase/internal/git"
)

// CherryPickSession replays the commits of the current branch one at a time
// onto a scratch branch created from the target, then resets the current branch
// to the scratch tip. The current branch is only touched by that final reset.
type CherryPickSession struct {
	session

	commits  []string
	subjects map[string]string
	cursor   int
	results  []CommitResult
	scratch  string
	tip      string

	applying bool
	paused   Event
	// pausedAt is HEAD of the scratch branch when the session paused.
	pausedAt string
}

var _ Session = (*CherryPickSession)(nil)

// NewCherryPickSession validates both branch names and returns a session in the
// Initializing state. Nothing touches the repository until the first Step.
func NewCherryPickSession(repo git.Repository, current, target string, cfg Config, deps Deps) (*CherryPickSession, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyPause
	}
	base, err := newSession(KindCherryPick, repo, current, target, cfg, deps)
	if err != nil {
		return nil, err
	}
	return &CherryPickSession{session: base, subjects: make(map[string]string)}, nil
}

// Commits returns the computed range, oldest first.
func (s *CherryPickSession) Commits() []string {
	out := make([]string, len(s.commits))
	copy(out, s.commits)
	return out
}

// Cursor is the index of the next commit to apply.
func (s *CherryPickSession) Cursor() int {
	return s.cursor
}

// Results returns what happened to each commit handled so far.
func (s *CherryPickSession) Results() []CommitResult {
	out := make([]CommitResult, len(s.results))
	copy(out, s.results)
	return out
}

// ScratchBranch returns the temporary branch name once it has been chosen.
func (s *CherryPickSession) ScratchBranch() string {
	return s.scratch
}

// Tip is the commit the current branch was reset to on success.
func (s *CherryPickSession) Tip() string {
	return s.tip
}

// Step advances the session by one phase. A non-nil error means the session
// has just failed; the same error is carried by Outcome.
func (s *CherryPickSession) Step(ctx context.Context) (Event, error) {
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
		s.state = StateComputingRange
		return e, nil

	case StateComputingRange:
		return s.computeRange(ctx)

	case StateCreatingScratchBranch:
		return s.createScratch(ctx)

	case StateApplying:
		return s.applyNext(ctx)

	case StateConflictPause:
		return s.paused, nil

	case StateFinishing:
		return s.finish(ctx)

	default:
		return Event{State: s.state}, ErrSessionDone
	}
}

func (s *CherryPickSession) computeRange(ctx context.Context) (Event, error) {
	base, err := s.repo.MergeBase(ctx, s.target.Rev(), s.current)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("merge base of %s and %s: %w", s.target.Rev(), s.current, err))
	}

	commits, err := s.repo.CommitsBetween(ctx, base, s.current, true)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("list commits: %w", err))
	}

	s.commits = commits
	s.log.Info("computed commit range", "merge_base", ShortID(base), "commits", len(commits))
	s.state = StateCreatingScratchBranch
	return s.emit(Event{Message: fmt.Sprintf("Found %d commits to apply.", len(commits)), Total: len(commits)}), nil
}

func (s *CherryPickSession) createScratch(ctx context.Context) (Event, error) {
	name := branches.ScratchBranchName(s.deps.PID, shortToken(s.deps.NewID))
	if err := s.repo.CreateBranch(ctx, name, s.target.Rev()); err != nil {
		return s.fail(ctx, fmt.Errorf("create scratch branch %s: %w", name, err))
	}
	s.scratch = name
	s.log.Debug("created scratch branch", "branch", name, "start", s.target.Rev())

	s.state = StateApplying
	if len(s.commits) == 0 {
		s.state = StateFinishing
	}
	return s.say("Created temporary branch %s from %s.", name, s.target.Rev()), nil
}

func (s *CherryPickSession) applyNext(ctx context.Context) (Event, error) {
	if s.cursor >= len(s.commits) {
		s.state = StateFinishing
		return s.say("All commits handled."), nil
	}

	id := s.commits[s.cursor]
	if subject, err := s.repo.CommitSubject(ctx, id); err != nil {
		s.log.Debug("could not read commit subject", "commit", ShortID(id), "error", err)
	} else {
		s.subjects[id] = subject
	}
	s.emit(s.commitEvent(id, fmt.Sprintf("Applying commit %d/%d: %s", s.cursor+1, len(s.commits), ShortID(id))))

	res := s.repo.ApplyCommit(ctx, id, git.ApplyOptions{AllowEmpty: s.cfg.AllowEmpty})
	switch res.Status {
	case git.ApplyApplied:
		return s.advance(id, DispositionApplied, fmt.Sprintf("Applied commit %s.", ShortID(id))), nil

	case git.ApplyEmpty:
		s.applying = true
		if err := s.repo.SkipApply(ctx); err != nil {
			return s.fail(ctx, fmt.Errorf("skip empty commit %s: %w", ShortID(id), err))
		}
		s.applying = false
		return s.advance(id, DispositionSkippedEmpty, fmt.Sprintf("Commit %s is empty, skipping automatically.", ShortID(id))), nil

	case git.ApplyConflict:
		s.applying = true
		return s.handleConflict(ctx, id, res)

	default:
		s.applying = true
		return s.fail(ctx, fmt.Errorf("apply commit %s: %w", ShortID(id), res.Err))
	}
}

func (s *CherryPickSession) handleConflict(ctx context.Context, id string, res git.ApplyResult) (Event, error) {
	paths, err := s.repo.ConflictedPaths(ctx)
	if err != nil {
		s.log.Debug("could not list conflicted paths", "error", err)
	}

	action := Decide(s.cfg.Strategy, ConflictSignal{Mode: ModeCherryPick, Commit: id, Paths: paths})
	s.log.Info("conflict", "commit", ShortID(id), "action", action.Kind.String(), "paths", len(paths))

	switch action.Kind {
	case ActionSkip:
		if err := s.repo.SkipApply(ctx); err != nil {
			return s.fail(ctx, fmt.Errorf("skip conflicting commit %s: %w", ShortID(id), err))
		}
		s.applying = false
		return s.advance(id, DispositionSkippedConflict, fmt.Sprintf("Conflict on commit %s, skipping as per config.", ShortID(id))), nil

	case ActionResolve:
		return s.resolve(ctx, id, action.Side)

	case ActionPause:
		s.pausedAt = s.head(ctx)
		s.state = StateConflictPause
		e := s.commitEvent(id, fmt.Sprintf("Conflict on commit %s. Resolve conflicts in another terminal, then press Enter to continue.", ShortID(id)))
		e.Output = res.Output
		s.paused = s.emit(e)
		return s.paused, nil

	default:
		return s.fail(ctx, fmt.Errorf("conflict applying commit %s: %w", ShortID(id), res.Err))
	}
}

func (s *CherryPickSession) resolve(ctx context.Context, id string, side git.Side) (Event, error) {
	s.say("Conflict on commit %s, resolving with %s.", ShortID(id), side)

	if err := s.repo.ResolveConflicts(ctx, side); err != nil {
		return s.fail(ctx, &ResolutionFailure{Commit: id, Side: side, Err: err})
	}

	disposition := DispositionResolvedOurs
	if side == git.SideTheirs {
		disposition = DispositionResolvedTheirs
	}

	res := s.repo.ContinueApply(ctx)
	switch res.Status {
	case git.ApplyApplied:
	case git.ApplyEmpty:
		if err := s.repo.SkipApply(ctx); err != nil {
			return s.fail(ctx, &ResolutionFailure{Commit: id, Side: side, Err: err})
		}
	default:
		return s.fail(ctx, &ResolutionFailure{Commit: id, Side: side, Err: res.Err})
	}

	s.applying = false
	return s.advance(id, disposition, fmt.Sprintf("Resolved commit %s using %s.", ShortID(id), side)), nil
}

// Resume completes the paused step after the user resolved and staged the
// conflicts. When git still refuses, the session stays paused.
func (s *CherryPickSession) Resume(ctx context.Context) (Event, error) {
	if s.state != StateConflictPause {
		return Event{State: s.state}, ErrNotPaused
	}

	id := s.commits[s.cursor]
	res := s.repo.ContinueApply(ctx)
	switch res.Status {
	case git.ApplyApplied:
		if s.pausedAt != "" && s.head(ctx) == s.pausedAt {
			s.log.Warn("paused commit was neither continued nor committed", "commit", ShortID(id))
			e := s.commitEvent(id, fmt.Sprintf("Commit %s was not committed and no cherry-pick is in progress. Cherry-pick it again and resolve the conflicts, or cancel.", ShortID(id)))
			s.paused = s.emit(e)
			return s.paused, nil
		}
		s.applying = false
		s.state = StateApplying
		return s.advance(id, DispositionResolvedManually, fmt.Sprintf("Resolved commit %s, continuing.", ShortID(id))), nil

	case git.ApplyEmpty:
		if err := s.repo.SkipApply(ctx); err != nil {
			s.log.Warn("could not skip emptied commit", "commit", ShortID(id), "error", err)
			return s.stillPaused(id, res), nil
		}
		s.applying = false
		s.state = StateApplying
		return s.advance(id, DispositionSkippedEmpty, fmt.Sprintf("Commit %s is empty after resolution, skipping.", ShortID(id))), nil

	default:
		s.log.Info("resume refused", "commit", ShortID(id), "status", res.Status.String())
		return s.stillPaused(id, res), nil
	}
}

// head returns the commit checked out on the scratch branch, or "" when it
// cannot be read.
func (s *CherryPickSession) head(ctx context.Context) string {
	id, err := s.repo.RevParse(ctx, "HEAD")
	if err != nil {
		s.log.Debug("could not read HEAD", "error", err)
		return ""
	}
	return id
}

func (s *CherryPickSession) stillPaused(id string, res git.ApplyResult) Event {
	e := s.commitEvent(id, "Failed to continue. Make sure conflicts are resolved and staged, then press Enter to try again.")
	e.Output = res.Output
	s.paused = s.emit(e)
	return s.paused
}

// Cancel abandons the session. An in-flight cherry-pick is aborted before any
// branch switch; the current branch is left where it started. The teardown
// commands run even when ctx is already done.
func (s *CherryPickSession) Cancel(ctx context.Context) Event {
	if s.state.Terminal() {
		return Event{State: s.state}
	}

	ctx = context.WithoutCancel(ctx)
	s.abortInFlight(ctx)
	s.Cleanup(ctx)
	s.restoreShelf(ctx)
	s.settle(OutcomeCancelled, nil)
	s.log.Info("session cancelled", "cursor", s.cursor, "commits", len(s.commits))
	return s.say("Rebase cancelled. %s was not changed.", s.current)
}

// finish moves the current branch to the scratch tip. It is the only mutation
// of the user's branch.
func (s *CherryPickSession) finish(ctx context.Context) (Event, error) {
	s.say("Finishing rebase...")

	tip, err := s.repo.RevParse(ctx, s.scratch)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("resolve scratch branch %s: %w", s.scratch, err))
	}

	if err := s.repo.Checkout(ctx, s.current); err != nil {
		return s.fail(ctx, fmt.Errorf("checkout %s: %w", s.current, err))
	}

	if err := s.createBackup(ctx); err != nil {
		return s.fail(ctx, err)
	}

	if err := s.repo.ResetHard(ctx, s.current, tip); err != nil && !s.resetLanded(ctx, tip) {
		return s.fail(ctx, fmt.Errorf("reset %s to %s: %w", s.current, ShortID(tip), err))
	}
	s.tip = tip

	teardown := context.WithoutCancel(ctx)
	s.Cleanup(teardown)
	s.restoreShelf(teardown)
	s.settle(OutcomeSuccess, nil)
	s.log.Info("rebase succeeded", "branch", s.current, "target", s.target.Rev(), "tip", ShortID(tip))
	return s.say("Successfully rebased %s onto %s!", s.current, s.target.Rev()), nil
}

// resetLanded reports whether an interrupted reset moved the branch anyway.
func (s *CherryPickSession) resetLanded(ctx context.Context, tip string) bool {
	if ctx.Err() == nil {
		return false
	}
	at, err := s.repo.RevParse(context.WithoutCancel(ctx), s.current)
	return err == nil && at == tip
}

// Cleanup switches off the scratch branch and deletes it. It is safe to call at
// any time and any number of times; failures are logged only.
func (s *CherryPickSession) Cleanup(ctx context.Context) {
	if s.scratch == "" {
		return
	}

	head, err := s.repo.CurrentBranch(ctx)
	if err != nil {
		s.logCleanup("read current branch", err)
	} else if head == s.scratch {
		if err := s.repo.Checkout(ctx, s.current); err != nil {
			s.logCleanup("checkout "+s.current, err)
			return
		}
	}

	exists, err := s.repo.RefExists(ctx, git.RefLocal, s.scratch)
	if err != nil {
		s.logCleanup("check scratch branch", err)
		return
	}
	if !exists {
		return
	}
	if err := s.repo.DeleteBranch(ctx, s.scratch); err != nil {
		s.logCleanup("delete branch "+s.scratch, err)
		return
	}
	s.log.Debug("deleted scratch branch", "branch", s.scratch)
}

// fail tears the session down after a failed step. Teardown runs detached from
// ctx; when ctx itself has ended the session counts as cancelled.
func (s *CherryPickSession) fail(ctx context.Context, err error) (Event, error) {
	teardown := context.WithoutCancel(ctx)
	s.abortInFlight(teardown)
	s.Cleanup(teardown)
	s.restoreShelf(teardown)
	if ctx.Err() != nil {
		return s.interrupted(err), err
	}
	s.settle(OutcomeFailed, err)
	s.log.Error("rebase failed", "error", err, "cursor", s.cursor, "commits", len(s.commits))
	return s.failureEvent(err), err
}

func (s *CherryPickSession) abortInFlight(ctx context.Context) {
	if !s.applying {
		return
	}
	s.applying = false
	if err := s.repo.AbortApply(ctx); err != nil {
		s.log.Warn("could not abort cherry-pick", "error", err)
	}
}

func (s *CherryPickSession) advance(id string, disposition Disposition, message string) Event {
	s.results = append(s.results, CommitResult{ID: id, Subject: s.subjects[id], Disposition: disposition})
	s.cursor++
	if s.cursor >= len(s.commits) {
		s.state = StateFinishing
	}
	return s.emit(s.commitEvent(id, message))
}

func (s *CherryPickSession) commitEvent(id, message string) Event {
	return Event{Message: message, Commit: id, Index: s.cursor, Total: len(s.commits)}
}
