package geocode

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the Postgres cache uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultPostgresTable is the cache table used when none is configured.
const DefaultPostgresTable = "geocode_cache"

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// PostgresStore is a CacheStore in a shared Postgres table.
type PostgresStore struct {
	pool    Pool
	table   string
	closeFn func()
}

// NewPostgresStore uses an existing pool. table may be schema-qualified.
func NewPostgresStore(pool Pool, table string) (*PostgresStore, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, eris.Errorf("postgres: invalid cache table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// OpenPostgres connects to dsn and creates the cache table if needed.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	s, err := NewPostgresStore(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.closeFn = pool.Close
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the cache table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			address   TEXT PRIMARY KEY,
			status    TEXT NOT NULL,
			latitude  DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			source    TEXT NOT NULL DEFAULT '',
			quality   TEXT NOT NULL DEFAULT '',
			reason    TEXT NOT NULL DEFAULT '',
			cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table))
	return eris.Wrap(err, "postgres: migrate cache table")
}

// Get implements CacheStore.
func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e        Entry
		status   string
		lat, lon *float64
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT status, latitude, longitude, source, quality, reason, cached_at FROM %s WHERE address = $1`, s.table),
		key,
	).Scan(&status, &lat, &lon, &e.Source, &e.Quality, &e.Reason, &e.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "postgres: get cache entry")
	}
	e.Status = EntryStatus(status)
	if lat != nil {
		e.Latitude = *lat
	}
	if lon != nil {
		e.Longitude = *lon
	}
	return e, true, nil
}

// Put implements CacheStore.
func (s *PostgresStore) Put(ctx context.Context, key string, e Entry) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (address, status, latitude, longitude, source, quality, reason, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			status = EXCLUDED.status,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			source = EXCLUDED.source,
			quality = EXCLUDED.quality,
			reason = EXCLUDED.reason,
			cached_at = EXCLUDED.cached_at`, s.table),
		key, string(e.Status), nullCoord(e, e.Latitude), nullCoord(e, e.Longitude),
		e.Source, e.Quality, e.Reason, e.CachedAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

// Delete implements CacheStore.
func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE address = $1`, s.table), key)
	if err != nil {
		return false, eris.Wrap(err, "postgres: delete cache entry")
	}
	return tag.RowsAffected() > 0, nil
}

// Counts implements CacheStore.
func (s *PostgresStore) Counts(ctx context.Context) (map[EntryStatus]int, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.table))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count cache entries")
	}
	defer rows.Close()

	counts := make(map[EntryStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[EntryStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate counts")
}

// Close implements CacheStore.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
