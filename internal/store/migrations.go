package store

import (
	"database/sql"
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
CREATE TABLE IF NOT EXISTS cmg_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    bus_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    epoch INTEGER NOT NULL,
    cmg REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(bus_id, epoch)
);

CREATE TABLE IF NOT EXISTS cost_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plant_id TEXT NOT NULL,
    plant_name TEXT,
    timestamp TEXT NOT NULL,
    epoch INTEGER NOT NULL,
    cost REAL NOT NULL,
    editor TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(plant_id, epoch)
);

CREATE TABLE IF NOT EXISTS status_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plant_id TEXT NOT NULL,
    bus_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    epoch INTEGER NOT NULL,
    cmg REAL NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('ON', 'OFF', 'HOLD')),
    cost_snapshot_id INTEGER REFERENCES cost_snapshots(id),
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(plant_id, epoch)
);

CREATE INDEX IF NOT EXISTS idx_cmg_bus_epoch ON cmg_samples(bus_id, epoch);
CREATE INDEX IF NOT EXISTS idx_status_plant_epoch ON status_records(plant_id, epoch);
`,
	},
	{
		Version:     2,
		Description: "Add decoupling_events table",
		SQL: `
CREATE TABLE IF NOT EXISTS decoupling_events (
    bus_id TEXT PRIMARY KEY,
    decoupled BOOLEAN NOT NULL,
    reference_plant TEXT,
    segment TEXT,
    comment TEXT,
    source TEXT NOT NULL DEFAULT 'cen',
    detected_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "Add programmed_forecasts table",
		SQL: `
CREATE TABLE IF NOT EXISTS programmed_forecasts (
    plant_id TEXT NOT NULL,
    reference_bus TEXT,
    forecast_date DATE NOT NULL,
    h00 REAL, h01 REAL, h02 REAL, h03 REAL, h04 REAL, h05 REAL,
    h06 REAL, h07 REAL, h08 REAL, h09 REAL, h10 REAL, h11 REAL,
    h12 REAL, h13 REAL, h14 REAL, h15 REAL, h16 REAL, h17 REAL,
    h18 REAL, h19 REAL, h20 REAL, h21 REAL, h22 REAL, h23 REAL,
    updated_at DATETIME,
    PRIMARY KEY (plant_id, forecast_date)
);
`,
	},
	{
		Version:     4,
		Description: "Add ingest_runs table for fetch auditing",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    http_status INTEGER,
    records_parsed INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
