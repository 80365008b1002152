package rebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rancher/auto-rebase/internal/branches"
	"github.com/rancher/auto-rebase/internal/git"
)

// session holds what both strategies share: branch names, the worktree shelf
// and the terminal outcome.
type session struct {
	id       string
	kind     Kind
	repo     git.Repository
	cfg      Config
	deps     Deps
	log      *slog.Logger
	resolver *branches.Resolver
	stasher  *Stasher
	backups  *Backups

	current    string
	targetName string
	target     branches.Ref

	state     State
	outcome   Outcome
	shelf     StashHandle
	backupRef string
}

func newSession(kind Kind, repo git.Repository, current, target string, cfg Config, deps Deps) (session, error) {
	if repo == nil {
		return session{}, fmt.Errorf("git repository is required")
	}
	if err := branches.ValidateName(current); err != nil {
		return session{}, err
	}
	if err := branches.ValidateName(target); err != nil {
		return session{}, err
	}

	deps = deps.withDefaults()
	id := deps.NewID()

	return session{
		id:         id,
		kind:       kind,
		repo:       repo,
		cfg:        cfg,
		deps:       deps,
		log:        deps.Logger.With("session", id, "kind", string(kind)),
		resolver:   branches.NewResolver(repo, cfg.Remote),
		stasher:    NewStasher(repo, deps),
		backups:    NewBackups(repo, deps),
		current:    branches.StripRemotePrefix(current, cfg.Remote),
		targetName: target,
		state:      StateInitializing,
	}, nil
}

func (s *session) ID() string       { return s.id }
func (s *session) Kind() Kind       { return s.kind }
func (s *session) State() State     { return s.state }
func (s *session) Outcome() Outcome { return s.outcome }

// Current returns the branch being rebased.
func (s *session) Current() string { return s.current }

// Target returns the resolved target, valid once fetching has completed.
func (s *session) Target() branches.Ref { return s.target }

// BackupRef returns the backup tag created before the branch was rewritten.
func (s *session) BackupRef() string { return s.backupRef }

func (s *session) targetLabel() string {
	if s.target.Name != "" {
		return s.target.Rev()
	}
	return s.targetName
}

func (s *session) emit(e Event) Event {
	e.State = s.state
	e.Output = SanitizeOutput(e.Output)
	s.deps.Sink.Progress(e)
	return e
}

func (s *session) say(format string, args ...any) Event {
	return s.emit(Event{Message: fmt.Sprintf(format, args...)})
}

// prepareWorktree refuses a dirty tree unless autostash is enabled, in which
// case the changes are shelved for the lifetime of the session.
func (s *session) prepareWorktree(ctx context.Context) (Event, error) {
	clean, err := s.repo.IsWorkingTreeClean(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("check working tree: %w", err)
	}
	if clean {
		return s.say("Working tree is clean."), nil
	}
	if !s.cfg.Autostash {
		return Event{}, ErrDirtyWorktree
	}

	s.say("Stashing local changes...")
	handle, err := s.stasher.Shelve(ctx)
	if err != nil {
		return Event{}, err
	}
	s.shelf = handle
	if handle == "" {
		return s.say("Nothing to stash."), nil
	}
	s.log.Info("stashed local changes", "label", string(handle))
	return s.say("Stashed local changes as %s.", handle), nil
}

// fetchAndResolve refreshes remote-tracking refs and resolves the target.
func (s *session) fetchAndResolve(ctx context.Context) (Event, error) {
	s.say("Fetching all branches...")
	if err := s.repo.FetchRemote(ctx); err != nil {
		return Event{}, fmt.Errorf("fetch: %w", err)
	}

	ref, err := s.resolver.Resolve(ctx, s.targetName)
	if err != nil {
		return Event{}, err
	}
	s.target = ref
	s.log.Debug("resolved target", "target", ref.Rev(), "kind", ref.Kind.String())
	return s.say("Resolved target %s.", ref.Rev()), nil
}

func (s *session) createBackup(ctx context.Context) error {
	if !s.cfg.Backup {
		return nil
	}
	name, err := s.backups.Create(ctx, s.current)
	if err != nil {
		return err
	}
	s.backupRef = name
	s.log.Info("created backup tag", "tag", name, "branch", s.current)
	s.say("Created backup tag %s.", name)
	return nil
}

// restoreShelf pops the session's stash once. Failures are cleanup errors.
func (s *session) restoreShelf(ctx context.Context) {
	if s.shelf == "" {
		return
	}
	handle := s.shelf
	s.shelf = ""
	if err := s.stasher.Restore(ctx, handle); err != nil {
		s.logCleanup("restore stash", err)
		s.say("Could not restore stashed changes; they remain in the stash as %s.", handle)
		return
	}
	s.say("Restored stashed changes.")
}

func (s *session) logCleanup(op string, err error) {
	cleanupErr := &CleanupError{Op: op, Err: err}
	s.log.Warn("cleanup failed", "error", cleanupErr)
}

// interrupted settles a session whose caller's context ended during a step.
// Teardown has already run by then.
func (s *session) interrupted(err error) Event {
	s.settle(OutcomeCancelled, err)
	s.log.Info("session interrupted", "error", err)
	return s.say("Rebase interrupted. %s was not changed.", s.current)
}

func (s *session) settle(kind OutcomeKind, err error) {
	s.outcome = Outcome{Kind: kind, Err: err}
	switch kind {
	case OutcomeSuccess:
		s.state = StateSucceeded
	case OutcomeCancelled:
		s.state = StateCancelled
	default:
		s.state = StateFailed
	}
}

func (s *session) failureEvent(err error) Event {
	e := Event{Message: fmt.Sprintf("Rebase failed: %v", err)}
	var gitErr *git.GitError
	if errors.As(err, &gitErr) {
		e.Output = gitErr.Output
	}
	return s.emit(e)
}
