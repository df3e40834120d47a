// Package postgres provides a PostgreSQL-backed implementation of the
// commentary archive.
//
// All operations share a single [pgxpool.Pool]. [NewLog] runs an idempotent
// migration so the commentary_entries table and its indexes always exist;
// full-text search uses a GIN index over the prompt text.
//
// Usage:
//
//	log, err := postgres.NewLog(ctx, dsn)
//	if err != nil { … }
//	defer log.Close()
//
//	_ = log.Write(ctx, entry)
//	recent, _ := log.Recent(ctx, sessionID, 50)
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/playcall/internal/archive"
	"github.com/MrWong99/playcall/internal/commentary"
)

const ddlCommentaryEntries = `
CREATE TABLE IF NOT EXISTS commentary_entries (
    id          UUID         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    kind        TEXT         NOT NULL,
    style       TEXT         NOT NULL DEFAULT '',
    level       TEXT         NOT NULL DEFAULT '',
    prompt      TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_commentary_entries_session
    ON commentary_entries (session_id, created_at);

CREATE INDEX IF NOT EXISTS idx_commentary_entries_fts
    ON commentary_entries USING GIN (to_tsvector('english', prompt));
`

// Log is the PostgreSQL-backed commentary archive. Obtain one via [NewLog].
// All methods are safe for concurrent use.
type Log struct {
	pool *pgxpool.Pool
}

var _ archive.Log = (*Log)(nil)

// NewLog connects to the database at dsn, verifies the connection, and runs
// the idempotent migration.
func NewLog(ctx context.Context, dsn string) (*Log, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlCommentaryEntries); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}

	return &Log{pool: pool}, nil
}

// Write implements [archive.Log]. It assigns a UUID when the entry carries
// none and defaults CreatedAt to now.
func (l *Log) Write(ctx context.Context, e archive.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO commentary_entries (id, session_id, kind, style, level, prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := l.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		string(e.Kind),
		string(e.Style),
		string(e.Level),
		e.Prompt,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive: write entry: %w", err)
	}
	return nil
}

// Recent implements [archive.Log]. Entries are returned newest first.
func (l *Log) Recent(ctx context.Context, sessionID string, limit int) ([]archive.Entry, error) {
	q := `
		SELECT id, session_id, kind, style, level, prompt, created_at
		FROM   commentary_entries
		WHERE  session_id = $1
		ORDER  BY created_at DESC`

	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [archive.Log]. It performs a PostgreSQL full-text search
// over the prompt column and applies optional filters from opts.
//
// The query is passed to plainto_tsquery so no special operator syntax is
// required.
func (l *Log) Search(ctx context.Context, query string, opts archive.SearchOpts) ([]archive.Entry, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', prompt) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}
	if opts.Kind != "" {
		conditions = append(conditions, "kind = "+next(string(opts.Kind)))
	}

	q := "SELECT id, session_id, kind, style, level, prompt, created_at\n" +
		"FROM   commentary_entries\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}
	return collectEntries(rows)
}

// Ping implements [archive.Log].
func (l *Log) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("archive: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (l *Log) Close() error {
	l.pool.Close()
	return nil
}

// collectEntries scans pgx rows into a slice of archive entries.
func collectEntries(rows pgx.Rows) ([]archive.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Entry, error) {
		var (
			e     archive.Entry
			kind  string
			style string
			level string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &kind, &style, &level, &e.Prompt, &e.CreatedAt); err != nil {
			return archive.Entry{}, err
		}
		e.Kind = archive.Kind(kind)
		e.Style = commentary.Style(style)
		e.Level = commentary.Level(level)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	return entries, nil
}
