package rebase

import (
	"context"
	"fmt"
	"time"

	"github.com/rancher/auto-rebase/internal/branches"
	"github.com/rancher/auto-rebase/internal/git"
)

// maxBackupSuffix bounds the search for a free tag name.
const maxBackupSuffix = 100

// Backups creates annotated tags that record a branch tip before it is reset.
type Backups struct {
	repo git.Repository
	now  func() time.Time
}

// NewBackups returns a Backups for repo.
func NewBackups(repo git.Repository, deps Deps) *Backups {
	deps = deps.withDefaults()
	return &Backups{repo: repo, now: deps.Now}
}

// Create tags the current tip of branch and returns the tag name. An existing
// tag is never overwritten; a numeric suffix is appended instead.
func (b *Backups) Create(ctx context.Context, branch string) (string, error) {
	sha, err := b.repo.RevParse(ctx, branch)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", branch, err)
	}

	base := branches.BackupRefName(branch, b.now())
	name := base
	for n := 1; ; n++ {
		exists, err := b.repo.RefExists(ctx, git.RefTag, name)
		if err != nil {
			return "", fmt.Errorf("check tag %s: %w", name, err)
		}
		if !exists {
			break
		}
		if n > maxBackupSuffix {
			return "", fmt.Errorf("no free backup tag name for %s", base)
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}

	message := fmt.Sprintf("Backup before auto-rebase reset: %s @ %s", branch, sha)
	if err := b.repo.CreateAnnotatedRef(ctx, name, message, sha); err != nil {
		return "", fmt.Errorf("create backup tag %s: %w", name, err)
	}
	return name, nil
}
