package store

import (
	"database/sql"
	"time"
)

type Store struct {
	db    *sql.DB
	loc   *time.Location
	buses []string
}

// New wraps an open SQLite handle. buses lists the canonical bus
// identifiers used when a fallback window has to cover "all buses".
func New(db *sql.DB, loc *time.Location, buses []string) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc, buses: buses}
}

func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) Location() *time.Location {
	return s.loc
}

// timestamp renders an epoch as market-local wall time, the format the
// coordinator uses everywhere.
func (s *Store) timestamp(epoch int64) string {
	return time.Unix(epoch, 0).In(s.loc).Format("2006-01-02 15:04:05")
}
