// Package sqlite provides a cache.Store backed by SQLite (modernc.org/sqlite).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonwraymond/restcache/cache"
	"github.com/jonwraymond/restcache/cache/sqlite/migrations"
)

// ErrPathRequired indicates Open was called without a database path.
var ErrPathRequired = errors.New("sqlite: storage path is required")

const columns = `cache_key, domain, path, query, payload, status_code, expires_at,
	last_requested, tag, needs_refresh, pending_args`

// Store is a SQLite implementation of cache.Store. Timestamps are stored as
// UTC Unix milliseconds.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrPathRequired
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertByKey inserts rec or replaces the row with the same key.
func (s *Store) UpsertByKey(ctx context.Context, rec cache.Record) error {
	if rec.Key == "" {
		return cache.ErrInvalidURL
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache_entries (`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (cache_key) DO UPDATE SET
	domain = excluded.domain,
	path = excluded.path,
	query = excluded.query,
	payload = excluded.payload,
	status_code = excluded.status_code,
	expires_at = excluded.expires_at,
	last_requested = excluded.last_requested,
	tag = excluded.tag,
	needs_refresh = excluded.needs_refresh,
	pending_args = excluded.pending_args
`,
		rec.Key, rec.Domain, rec.Path, rec.Query, rec.Payload, rec.StatusCode,
		toMillis(rec.ExpiresAt), toMillis(rec.LastRequested),
		rec.Tag, boolInt(rec.NeedsRefresh), rec.PendingArgs,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", rec.Key, err)
	}
	return nil
}

// GetByKey returns the row stored under key.
func (s *Store) GetByKey(ctx context.Context, key string) (cache.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM cache_entries WHERE cache_key = ?`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, fmt.Errorf("sqlite: get %s: %w", key, err)
	}
	return rec, true, nil
}

// DeleteWhere deletes up to limit rows matching f, in key order.
func (s *Store) DeleteWhere(ctx context.Context, f cache.Filter, limit int) (int64, error) {
	if f.IsZero() {
		return 0, cache.ErrEmptyFilter
	}
	where, args := whereClause(f)
	args = append(args, cache.NormalizeLimit(limit))

	res, err := s.db.ExecContext(ctx, `
DELETE FROM cache_entries WHERE cache_key IN (
	SELECT cache_key FROM cache_entries`+where+` ORDER BY cache_key LIMIT ?
)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n, nil
}

// ScanWhere returns up to limit rows matching f, in key order.
func (s *Store) ScanWhere(ctx context.Context, f cache.Filter, limit int) ([]cache.Record, error) {
	where, args := whereClause(f)
	args = append(args, cache.NormalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM cache_entries`+where+` ORDER BY cache_key LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan: %w", err)
	}
	defer rows.Close()

	var out []cache.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan rows: %w", err)
	}
	return out, nil
}

// Compact rebuilds the database file to reclaim space from deleted rows.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("sqlite: vacuum: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func whereClause(f cache.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Key != "" {
		conds = append(conds, "cache_key = ?")
		args = append(args, f.Key)
	}
	if f.Tag != "" {
		conds = append(conds, "tag = ?")
		args = append(args, f.Tag)
	}
	if f.NeedsRefresh != nil {
		conds = append(conds, "needs_refresh = ?")
		args = append(args, boolInt(*f.NeedsRefresh))
	}
	if !f.ExpiresBefore.IsZero() {
		conds = append(conds, "expires_at < ?")
		args = append(args, toMillis(f.ExpiresBefore))
	}
	if !f.LastRequestedBefore.IsZero() {
		conds = append(conds, "last_requested < ?")
		args = append(args, toMillis(f.LastRequestedBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (cache.Record, error) {
	var (
		rec           cache.Record
		expiresAt     int64
		lastRequested int64
		needsRefresh  int64
		payload, args []byte
	)
	if err := row.Scan(
		&rec.Key, &rec.Domain, &rec.Path, &rec.Query, &payload, &rec.StatusCode,
		&expiresAt, &lastRequested, &rec.Tag, &needsRefresh, &args,
	); err != nil {
		return cache.Record{}, err
	}
	rec.Payload = payload
	rec.PendingArgs = args
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.LastRequested = fromMillis(lastRequested)
	rec.NeedsRefresh = needsRefresh != 0
	return rec, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ cache.Store     = (*Store)(nil)
	_ cache.Compactor = (*Store)(nil)
	_ cache.Pinger    = (*Store)(nil)
)
