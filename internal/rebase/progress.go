package rebase

import "strings"

// Event is a progress report emitted while a session advances.
type Event struct {
	Message string
	State   State
	Commit  string
	Index   int
	Total   int
	Output  string
}

// ProgressSink receives human-readable progress. Implementations must not call
// back into the session.
type ProgressSink interface {
	Progress(Event)
}

// SinkFunc adapts a plain function to ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) Progress(e Event) {
	f(e)
}

type discardSink struct{}

func (discardSink) Progress(Event) {}

// SanitizeOutput drops bytes outside printable ASCII, keeping newlines, carriage
// returns and tabs, so tool output cannot inject terminal control sequences.
func SanitizeOutput(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7e) {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ShortID abbreviates a commit id to seven characters.
func ShortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
