// Package archive persists the commentary transcript: every prompt the
// schedulers deliver to the voice session is appended as one immutable entry.
//
// The production implementation is PostgreSQL-backed (see the postgres
// subpackage); [NopLog] serves deployments without a database, and the mock
// subpackage provides a call-recording test double.
package archive

import (
	"context"
	"time"

	"github.com/MrWong99/playcall/internal/commentary"
)

// Kind classifies what produced an archived prompt.
type Kind string

const (
	// KindOpening is the one-time session opener.
	KindOpening Kind = "opening"

	// KindPeriodic is a prompt emitted by the fixed-cadence strategy.
	KindPeriodic Kind = "periodic"

	// KindEvent is a prompt emitted in reaction to a detection event.
	KindEvent Kind = "event"
)

// IsValid reports whether k is a recognised entry kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindOpening, KindPeriodic, KindEvent:
		return true
	}
	return false
}

// Entry is one delivered commentary prompt.
type Entry struct {
	// ID is a UUID assigned when the entry is written.
	ID string

	// SessionID identifies the commentary session the prompt belongs to.
	SessionID string

	// Kind classifies the prompt (opening, periodic, event).
	Kind Kind

	// Style is the commentary style active when the prompt was delivered.
	Style commentary.Style

	// Level is the knowledge level active when the prompt was delivered.
	Level commentary.Level

	// Prompt is the exact text sent to the voice session.
	Prompt string

	// CreatedAt is the delivery timestamp (UTC).
	CreatedAt time.Time
}

// SearchOpts narrows a full-text search over archived prompts.
type SearchOpts struct {
	// SessionID restricts results to one session when non-empty.
	SessionID string

	// Kind restricts results to one entry kind when non-empty.
	Kind Kind

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Log is the append-only commentary transcript. All implementations must be
// safe for concurrent use: the periodic loop and the event handler write
// independently.
type Log interface {
	// Write appends one entry. An empty ID is assigned by the implementation.
	Write(ctx context.Context, e Entry) error

	// Recent returns up to limit entries for sessionID, newest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)

	// Search performs a full-text search over prompt text.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// NopLog is a Log that discards writes and returns empty results. Used when
// no archive DSN is configured.
type NopLog struct{}

var _ Log = NopLog{}

func (NopLog) Write(context.Context, Entry) error { return nil }

func (NopLog) Recent(context.Context, string, int) ([]Entry, error) { return []Entry{}, nil }

func (NopLog) Search(context.Context, string, SearchOpts) ([]Entry, error) { return []Entry{}, nil }

func (NopLog) Ping(context.Context) error { return nil }

func (NopLog) Close() error { return nil }
