// Package postgres provides a cache.Store backed by PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonwraymond/restcache/cache"
)

//go:embed schema.sql
var schemaSQL string

// Errors returned by the Postgres store.
var (
	ErrNilPool       = errors.New("postgres: nil pool")
	ErrSchemaMissing = errors.New("postgres: cache_entries table missing, run migrations")
)

const columns = `cache_key, domain, path, query, payload, status_code, expires_at,
	last_requested, tag, needs_refresh, pending_args`

// Store is a Postgres implementation of cache.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and, when migrate is true, applies the schema.
func Open(ctx context.Context, dsn string, migrate bool) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := NewStore(pool)
	if migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the cache table and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s.pool == nil {
		return ErrNilPool
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertByKey inserts rec or replaces the row with the same key.
func (s *Store) UpsertByKey(ctx context.Context, rec cache.Record) error {
	if s.pool == nil {
		return ErrNilPool
	}
	if rec.Key == "" {
		return cache.ErrInvalidURL
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO cache_entries (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (cache_key) DO UPDATE SET
	domain = EXCLUDED.domain,
	path = EXCLUDED.path,
	query = EXCLUDED.query,
	payload = EXCLUDED.payload,
	status_code = EXCLUDED.status_code,
	expires_at = EXCLUDED.expires_at,
	last_requested = EXCLUDED.last_requested,
	tag = EXCLUDED.tag,
	needs_refresh = EXCLUDED.needs_refresh,
	pending_args = EXCLUDED.pending_args
`,
		rec.Key, rec.Domain, rec.Path, rec.Query, rec.Payload, rec.StatusCode,
		rec.ExpiresAt.UTC(), rec.LastRequested.UTC(),
		rec.Tag, rec.NeedsRefresh, rec.PendingArgs,
	)
	if err != nil {
		return classify("upsert", err)
	}
	return nil
}

// GetByKey returns the row stored under key.
func (s *Store) GetByKey(ctx context.Context, key string) (cache.Record, bool, error) {
	if s.pool == nil {
		return cache.Record{}, false, ErrNilPool
	}
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM cache_entries WHERE cache_key = $1`, key)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.Record{}, false, nil
	}
	if err != nil {
		return cache.Record{}, false, classify("get", err)
	}
	return rec, true, nil
}

// DeleteWhere deletes up to limit rows matching f, in key order.
func (s *Store) DeleteWhere(ctx context.Context, f cache.Filter, limit int) (int64, error) {
	if s.pool == nil {
		return 0, ErrNilPool
	}
	if f.IsZero() {
		return 0, cache.ErrEmptyFilter
	}
	where, args := whereClause(f)
	args = append(args, cache.NormalizeLimit(limit))

	tag, err := s.pool.Exec(ctx, `
DELETE FROM cache_entries WHERE cache_key IN (
	SELECT cache_key FROM cache_entries`+where+` ORDER BY cache_key LIMIT $`+strconv.Itoa(len(args))+`
)`, args...)
	if err != nil {
		return 0, classify("delete", err)
	}
	return tag.RowsAffected(), nil
}

// ScanWhere returns up to limit rows matching f, in key order.
func (s *Store) ScanWhere(ctx context.Context, f cache.Filter, limit int) ([]cache.Record, error) {
	if s.pool == nil {
		return nil, ErrNilPool
	}
	where, args := whereClause(f)
	args = append(args, cache.NormalizeLimit(limit))

	rows, err := s.pool.Query(ctx,
		`SELECT `+columns+` FROM cache_entries`+where+` ORDER BY cache_key LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, classify("scan", err)
	}
	defer rows.Close()

	var out []cache.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, classify("scan row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("scan rows", err)
	}
	return out, nil
}

// Compact runs VACUUM on the cache table.
func (s *Store) Compact(ctx context.Context) error {
	if s.pool == nil {
		return ErrNilPool
	}
	if _, err := s.pool.Exec(ctx, `VACUUM cache_entries`); err != nil {
		return classify("vacuum", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return ErrNilPool
	}
	return s.pool.Ping(ctx)
}

func whereClause(f cache.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.Key != "" {
		add("cache_key = ?", f.Key)
	}
	if f.Tag != "" {
		add("tag = ?", f.Tag)
	}
	if f.NeedsRefresh != nil {
		add("needs_refresh = ?", *f.NeedsRefresh)
	}
	if !f.ExpiresBefore.IsZero() {
		add("expires_at < ?", f.ExpiresBefore.UTC())
	}
	if !f.LastRequestedBefore.IsZero() {
		add("last_requested < ?", f.LastRequestedBefore.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(row pgx.Row) (cache.Record, error) {
	var rec cache.Record
	if err := row.Scan(
		&rec.Key, &rec.Domain, &rec.Path, &rec.Query, &rec.Payload, &rec.StatusCode,
		&rec.ExpiresAt, &rec.LastRequested, &rec.Tag, &rec.NeedsRefresh, &rec.PendingArgs,
	); err != nil {
		return cache.Record{}, err
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.LastRequested = rec.LastRequested.UTC()
	return rec, nil
}

// classify wraps err, mapping a missing table to ErrSchemaMissing.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %s: %v", ErrSchemaMissing, op, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

var (
	_ cache.Store     = (*Store)(nil)
	_ cache.Compactor = (*Store)(nil)
	_ cache.Pinger    = (*Store)(nil)
)
