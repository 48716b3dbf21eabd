package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/models"
)

// ErrDuplicateSnapshot is returned when a cost snapshot already exists
// for the same plant and epoch.
var ErrDuplicateSnapshot = errors.New("cost snapshot already recorded for this epoch")

// RecordCost appends an operational cost snapshot for a plant. Snapshots
// are append-only and recorded even when the value has not changed, so
// the ledger shows what the cost was at every decision point. A zero
// `at` means now.
func (s *Store) RecordCost(plantID, plantName string, cost float64, editor string, at time.Time) (*models.CostSnapshot, error) {
	if at.IsZero() {
		at = time.Now()
	}
	epoch := at.Unix()

	snap := models.CostSnapshot{
		PlantID:   plantID,
		PlantName: plantName,
		Timestamp: s.timestamp(epoch),
		Epoch:     epoch,
		Cost:      cost,
		Editor:    editor,
	}

	result, err := s.db.Exec(`
		INSERT INTO cost_snapshots (plant_id, plant_name, timestamp, epoch, cost, editor)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(plant_id, epoch) DO NOTHING
	`, snap.PlantID, snap.PlantName, snap.Timestamp, snap.Epoch, snap.Cost, snap.Editor)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrDuplicateSnapshot
	}

	snap.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// LatestCost returns the newest snapshot for a plant, or nil when the
// plant has none.
func (s *Store) LatestCost(plantID string) (*models.CostSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, plant_id, plant_name, timestamp, epoch, cost, editor
		FROM cost_snapshots
		WHERE plant_id = ?
		ORDER BY epoch DESC
		LIMIT 1
	`, plantID)

	var snap models.CostSnapshot
	var name, editor sql.NullString
	err := row.Scan(&snap.ID, &snap.PlantID, &name, &snap.Timestamp, &snap.Epoch, &snap.Cost, &editor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.PlantName = name.String
	snap.Editor = editor.String
	return &snap, nil
}

// CostHistory returns the most recent snapshots for a plant, newest
// first.
func (s *Store) CostHistory(plantID string, limit int) ([]models.CostSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, plant_id, plant_name, timestamp, epoch, cost, editor
		FROM cost_snapshots
		WHERE plant_id = ?
		ORDER BY epoch DESC
		LIMIT ?
	`, plantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.CostSnapshot
	for rows.Next() {
		var snap models.CostSnapshot
		var name, editor sql.NullString
		if err := rows.Scan(&snap.ID, &snap.PlantID, &name, &snap.Timestamp, &snap.Epoch, &snap.Cost, &editor); err != nil {
			return nil, err
		}
		snap.PlantName = name.String
		snap.Editor = editor.String
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
