// Package sqlite persists per-granule station samples so that re-runs over
// the same dates skip downloading granules that were already sampled.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

// Cache is a sample cache backed by a SQLite file. Samples are keyed by the
// granule's file name under layout, so runs against another product or
// version never reuse them.
type Cache struct {
	db     *sql.DB
	layout domain.Layout
}

// Open opens or creates the cache at path for granules named by layout.
func Open(path string, layout domain.Layout) (*Cache, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, layout: layout}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Lookup returns the cached samples of granule g for stations. It reports a
// miss unless every station was sampled from g before at the same
// coordinates. Stations that fell outside the raster or on nodata are cached
// as absent and omitted from the returned map.
func (c *Cache) Lookup(ctx context.Context, g domain.Granule, stations []domain.Station) (map[string]float64, bool, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT station_id, lat, lon, value FROM samples WHERE granule = ?`, c.granuleKey(g))
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup %s: %w", g, err)
	}
	defer rows.Close()

	type cached struct {
		lat, lon float64
		value    sql.NullFloat64
	}
	found := make(map[string]cached)
	for rows.Next() {
		var id string
		var row cached
		if err := rows.Scan(&id, &row.lat, &row.lon, &row.value); err != nil {
			return nil, false, fmt.Errorf("sqlite: scan %s: %w", g, err)
		}
		found[id] = row
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup %s: %w", g, err)
	}

	values := make(map[string]float64, len(stations))
	for _, st := range stations {
		row, ok := found[st.ID]
		if !ok || row.lat != st.Lat || row.lon != st.Lon {
			return nil, false, nil
		}
		if row.value.Valid {
			values[st.ID] = row.value.Float64
		}
	}
	return values, true, nil
}

// Store records the samples of granule g for stations. Stations missing from
// values are stored as absent.
func (c *Cache) Store(ctx context.Context, g domain.Granule, stations []domain.Station, values map[string]float64) (err error) {
	if len(stations) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (granule, station_id, lat, lon, value, sampled_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(granule, station_id)
		DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			value = excluded.value,
			sampled_at = excluded.sampled_at
	`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	key := c.granuleKey(g)
	now := domain.Now().UTC().Format("2006-01-02T15:04:05Z")
	for _, st := range stations {
		var value any
		if v, ok := values[st.ID]; ok {
			value = v
		}
		if _, err = stmt.ExecContext(ctx, key, st.ID, st.Lat, st.Lon, value, now); err != nil {
			return fmt.Errorf("sqlite: store %s/%s: %w", g, st.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (c *Cache) migrate() error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS samples (
			granule TEXT NOT NULL,
			station_id TEXT NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			value REAL,
			sampled_at TEXT NOT NULL,
			PRIMARY KEY (granule, station_id)
		);`,
	}

	for _, statement := range statements {
		if _, err := c.db.Exec(statement); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) granuleKey(g domain.Granule) string {
	return c.layout.FileName(g)
}
