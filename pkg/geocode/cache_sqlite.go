package geocode

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const sqliteCacheMigration = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	address    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	latitude   REAL,
	longitude  REAL,
	source     TEXT NOT NULL DEFAULT '',
	quality    TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	cached_at  TEXT NOT NULL
);
`

// SQLiteStore is a CacheStore in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteCacheMigration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements CacheStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e        Entry
		status   string
		lat, lon sql.NullFloat64
		cachedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, latitude, longitude, source, quality, reason, cached_at FROM geocode_cache WHERE address = ?`,
		key,
	).Scan(&status, &lat, &lon, &e.Source, &e.Quality, &e.Reason, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, eris.Wrap(err, "sqlite: get cache entry")
	}
	e.Status = EntryStatus(status)
	e.Latitude = lat.Float64
	e.Longitude = lon.Float64
	if t, err := time.Parse(time.RFC3339Nano, cachedAt); err == nil {
		e.CachedAt = t
	}
	return e, true, nil
}

// Put implements CacheStore.
func (s *SQLiteStore) Put(ctx context.Context, key string, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address, status, latitude, longitude, source, quality, reason, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			status = excluded.status,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			source = excluded.source,
			quality = excluded.quality,
			reason = excluded.reason,
			cached_at = excluded.cached_at`,
		key, string(e.Status), nullCoord(e, e.Latitude), nullCoord(e, e.Longitude),
		e.Source, e.Quality, e.Reason, e.CachedAt.UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

// Delete implements CacheStore.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM geocode_cache WHERE address = ?`, key)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: delete cache entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// Counts implements CacheStore.
func (s *SQLiteStore) Counts(ctx context.Context) (map[EntryStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM geocode_cache GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count cache entries")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[EntryStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[EntryStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate counts")
}

// Close implements CacheStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullCoord stores NULL coordinates for failure entries.
func nullCoord(e Entry, v float64) any {
	if !e.Resolved() {
		return nil
	}
	return v
}
