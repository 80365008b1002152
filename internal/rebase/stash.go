package rebase

import (
	"context"
	"fmt"

	"github.com/rancher/auto-rebase/internal/git"
)

// StashHandle identifies one shelved set of changes. The zero value means
// nothing was shelved.
type StashHandle string

// Stasher shelves local changes before a session and restores them afterwards.
type Stasher struct {
	repo  git.Repository
	pid   int
	newID func() string
}

// NewStasher returns a Stasher for repo.
func NewStasher(repo git.Repository, deps Deps) *Stasher {
	deps = deps.withDefaults()
	return &Stasher{repo: repo, pid: deps.PID, newID: deps.NewID}
}

// Label returns a fresh stash message, auto-rebase-<pid>-<id8>.
func (s *Stasher) Label() string {
	return fmt.Sprintf("auto-rebase-%d-%s", s.pid, shortToken(s.newID))
}

// Shelve stashes tracked and untracked changes. A clean tree yields the zero
// handle.
func (s *Stasher) Shelve(ctx context.Context) (StashHandle, error) {
	handle, err := s.repo.ShelveChanges(ctx, s.Label())
	if err != nil {
		return "", fmt.Errorf("stash local changes: %w", err)
	}
	return StashHandle(handle), nil
}

// Restore pops exactly the entry named by h. The zero handle is a no-op.
func (s *Stasher) Restore(ctx context.Context, h StashHandle) error {
	if h == "" {
		return nil
	}
	if err := s.repo.RestoreShelved(ctx, string(h)); err != nil {
		return fmt.Errorf("restore stash %s: %w", h, err)
	}
	return nil
}
