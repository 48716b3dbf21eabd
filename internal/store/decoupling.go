package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/busid"
	"github.com/hbsenergia/cmgtrack/internal/models"
)

// UpsertDecoupling records the decoupling state of a bus. One row per
// bus, overwritten in place, guarded by detected_at: an event older than
// or equal to the stored one is rejected and the stored event is
// returned with applied=false. The read and write happen in one
// transaction so concurrent writers cannot interleave.
func (s *Store) UpsertDecoupling(ev models.DecouplingEvent) (models.DecouplingEvent, bool, error) {
	ev.BusID = busid.Canonical(ev.BusID)
	if ev.BusID == "" {
		return ev, false, fmt.Errorf("decoupling event has no bus_id")
	}
	if ev.Source == "" {
		ev.Source = "cen"
	}
	ev.UpdatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return ev, false, err
	}
	defer tx.Rollback()

	current, err := scanDecoupling(tx.QueryRow(`
		SELECT bus_id, decoupled, reference_plant, segment, comment, source, detected_at, updated_at
		FROM decoupling_events
		WHERE bus_id = ?
	`, ev.BusID))
	if err != nil && err != sql.ErrNoRows {
		return ev, false, err
	}

	if current != nil && !ev.DetectedAt.After(current.DetectedAt) {
		return *current, false, nil
	}

	_, err = tx.Exec(`
		INSERT INTO decoupling_events (bus_id, decoupled, reference_plant, segment, comment, source, detected_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bus_id) DO UPDATE SET
			decoupled = excluded.decoupled,
			reference_plant = excluded.reference_plant,
			segment = excluded.segment,
			comment = excluded.comment,
			source = excluded.source,
			detected_at = excluded.detected_at,
			updated_at = excluded.updated_at
	`, ev.BusID, ev.Decoupled, ev.ReferencePlant, ev.Segment, ev.Comment, ev.Source, ev.DetectedAt.UTC(), ev.UpdatedAt)
	if err != nil {
		return ev, false, err
	}

	if err := tx.Commit(); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

// LatestDecoupling returns the current state for a bus, or nil when the
// bus has never reported.
func (s *Store) LatestDecoupling(busID string) (*models.DecouplingEvent, error) {
	ev, err := scanDecoupling(s.db.QueryRow(`
		SELECT bus_id, decoupled, reference_plant, segment, comment, source, detected_at, updated_at
		FROM decoupling_events
		WHERE bus_id = ?
	`, busid.Canonical(busID)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// AllDecoupling returns the current state of every bus that has reported.
func (s *Store) AllDecoupling() ([]models.DecouplingEvent, error) {
	rows, err := s.db.Query(`
		SELECT bus_id, decoupled, reference_plant, segment, comment, source, detected_at, updated_at
		FROM decoupling_events
		ORDER BY bus_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.DecouplingEvent
	for rows.Next() {
		var ev models.DecouplingEvent
		if err := rows.Scan(&ev.BusID, &ev.Decoupled, &ev.ReferencePlant, &ev.Segment, &ev.Comment, &ev.Source, &ev.DetectedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecoupling(row rowScanner) (*models.DecouplingEvent, error) {
	var ev models.DecouplingEvent
	err := row.Scan(&ev.BusID, &ev.Decoupled, &ev.ReferencePlant, &ev.Segment, &ev.Comment, &ev.Source, &ev.DetectedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
