// Package mock provides a call-recording test double for the archive.Log
// interface. Configure the error fields to simulate store failures and
// inspect the recorded calls after exercising the code under test.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/playcall/internal/archive"
)

// Log is a mock implementation of archive.Log. All methods are safe for
// concurrent use.
type Log struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// WriteErr, if non-nil, is returned by every Write call.
	WriteErr error

	// RecentErr, if non-nil, is returned by every Recent call.
	RecentErr error

	// SearchErr, if non-nil, is returned by every Search call.
	SearchErr error

	// PingErr, if non-nil, is returned by every Ping call.
	PingErr error

	// --- Call records ---

	// Written records every entry passed to Write in order.
	Written []archive.Entry

	// RecentCalls counts Recent invocations.
	RecentCalls int

	// SearchCalls counts Search invocations.
	SearchCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

var _ archive.Log = (*Log)(nil)

// Write records the entry and returns WriteErr.
func (l *Log) Write(_ context.Context, e archive.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.WriteErr != nil {
		return l.WriteErr
	}
	l.Written = append(l.Written, e)
	return nil
}

// Recent returns the recorded entries for sessionID, newest first.
func (l *Log) Recent(_ context.Context, sessionID string, limit int) ([]archive.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.RecentCalls++
	if l.RecentErr != nil {
		return nil, l.RecentErr
	}
	var out []archive.Entry
	for i := len(l.Written) - 1; i >= 0; i-- {
		if l.Written[i].SessionID != sessionID {
			continue
		}
		out = append(out, l.Written[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if out == nil {
		out = []archive.Entry{}
	}
	return out, nil
}

// Search returns every recorded entry matching opts; the query string is
// ignored beyond requiring it to be non-empty.
func (l *Log) Search(_ context.Context, query string, opts archive.SearchOpts) ([]archive.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SearchCalls++
	if l.SearchErr != nil {
		return nil, l.SearchErr
	}
	out := []archive.Entry{}
	if query == "" {
		return out, nil
	}
	for _, e := range l.Written {
		if opts.SessionID != "" && e.SessionID != opts.SessionID {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Ping returns PingErr.
func (l *Log) Ping(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.PingErr
}

// Close counts the call and returns nil.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.CloseCalls++
	return nil
}

// Prompts returns the prompt text of every written entry, in order.
func (l *Log) Prompts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.Written))
	for i, e := range l.Written {
		out[i] = e.Prompt
	}
	return out
}

// Reset clears all recorded calls and entries.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Written = nil
	l.RecentCalls = 0
	l.SearchCalls = 0
	l.CloseCalls = 0
}
