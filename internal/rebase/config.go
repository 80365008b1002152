package rebase

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Config captures the runtime controls a session needs.
type Config struct {
	// Remote names the remote whose tracking branches targets resolve to.
	// Defaults to origin.
	Remote             string
	Linear             bool
	Strategy           Strategy
	AllowEmpty         bool
	ContinueOnConflict bool
	Autostash          bool
	Backup             bool
}

// Deps are the collaborators shared by every session an Engine starts. Zero
// values are replaced with working defaults.
type Deps struct {
	Logger *slog.Logger
	Sink   ProgressSink
	Now    func() time.Time
	PID    int
	NewID  func() string
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Sink == nil {
		d.Sink = discardSink{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.PID == 0 {
		d.PID = os.Getpid()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

func shortToken(newID func() string) string {
	id := newID()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
