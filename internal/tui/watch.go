package tui

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// IndexWatcher reports changes to a git directory, such as the index being
// rewritten by git add while a session waits on a conflict. Bursts of events
// collapse into a single notification.
type IndexWatcher struct {
	watcher *fsnotify.Watcher
	changes chan struct{}
	log     *slog.Logger
	once    sync.Once
}

// WatchGitDir starts watching gitDir.
func WatchGitDir(gitDir string, log *slog.Logger) (*IndexWatcher, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := watcher.Add(gitDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", gitDir, err)
	}

	w := &IndexWatcher{
		watcher: watcher,
		changes: make(chan struct{}, 1),
		log:     log,
	}
	go w.loop()
	return w, nil
}

// Changes delivers one value per burst of changes. It is closed when the
// watcher is closed.
func (w *IndexWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher. It is safe to call more than once.
func (w *IndexWatcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

func (w *IndexWatcher) loop() {
	defer close(w.changes)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ignoreGitPath(ev.Name) {
				continue
			}
			w.log.Debug("git directory changed", "op", ev.Op.String(), "path", ev.Name)
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("fsnotify error", "error", err)
		}
	}
}

// ignoreGitPath skips lock files, which git creates and renames on every
// write.
func ignoreGitPath(path string) bool {
	return strings.HasSuffix(filepath.Base(path), ".lock")
}
