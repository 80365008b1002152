// Package lock serializes auto-rebase sessions against a single repository.
package lock

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileName is created inside the git directory while a session runs.
const FileName = "auto-rebase.lock"

// ErrSessionLocked is returned when another session holds the repository lock.
var ErrSessionLocked = errors.New("another auto-rebase session is already running in this repository")

// Lock is an exclusive, process-wide hold on a repository.
type Lock struct {
	file *flock.Flock
}

// Acquire takes the session lock inside gitDir without blocking.
func Acquire(gitDir string) (*Lock, error) {
	if gitDir == "" {
		return nil, fmt.Errorf("git directory is required")
	}

	file := flock.New(filepath.Join(gitDir, FileName))
	locked, err := file.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", file.Path(), err)
	}
	if !locked {
		return nil, ErrSessionLocked
	}
	return &Lock{file: file}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.file.Path()
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := l.file.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.file.Path(), err)
	}
	return nil
}
