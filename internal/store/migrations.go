package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    pour_points TEXT NOT NULL,
    id_field TEXT NOT NULL,
    lakes TEXT NOT NULL,
    workspace TEXT NOT NULL,
    buffer_degrees REAL,
    buffer_meters REAL,
    cell_size REAL,
    sites_total INTEGER NOT NULL DEFAULT 0,
    sites_succeeded INTEGER,
    sites_failed INTEGER,
    sites_skipped INTEGER,
    interrupted BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS site_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    site_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    step TEXT,
    error_message TEXT,
    tiles TEXT,
    polygons INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    recorded_at DATETIME NOT NULL,
    UNIQUE(run_id, site_id)
);

CREATE INDEX IF NOT EXISTS idx_site_runs_status ON site_runs(run_id, status);
`,
	},
	{
		Version:     2,
		Description: "Add tile download log",
		SQL: `
CREATE TABLE IF NOT EXISTS tile_downloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT REFERENCES runs(id),
    tile TEXT NOT NULL,
    source TEXT NOT NULL,
    bytes INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL,
    error_message TEXT,
    downloaded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tile_downloads_tile ON tile_downloads(tile);
`,
	},
	{
		Version:     3,
		Description: "Add compressed failure details",
		SQL: `
CREATE TABLE IF NOT EXISTS failure_details (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    site_id INTEGER NOT NULL,
    recorded_at DATETIME NOT NULL,
    detail_compressed BLOB NOT NULL,
    detail_hash TEXT NOT NULL,
    UNIQUE(run_id, site_id)
);
`,
	},
}

// ErrLedgerTooNew is returned when the ledger was migrated by a newer build.
var ErrLedgerTooNew = errors.New("ledger schema is newer than this build")

// Migrate brings the ledger schema up to the latest version. Versions are
// applied in order above the highest one already recorded.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT,
		applied_at DATETIME
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := s.MigrationVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	latest := migrations[len(migrations)-1].Version
	if current > latest {
		return fmt.Errorf("%w: version %d, expected at most %d", ErrLedgerTooNew, current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		log.Printf("store: migrating ledger to v%d (%s)", m.Version, m.Description)
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationVersion returns the highest schema version applied, or 0 for a
// fresh database.
func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
