package store

import (
	"database/sql"
	"strings"

	"github.com/hbsenergia/cmgtrack/internal/busid"
	"github.com/hbsenergia/cmgtrack/internal/models"
)

// InsertStatus stores one decision. Re-running the engine over the same
// hour is a no-op: the unique (plant_id, epoch) constraint absorbs the
// duplicate and inserted reports false.
func (s *Store) InsertStatus(rec models.StatusRecord) (bool, error) {
	ts := rec.Timestamp
	if ts == "" {
		ts = s.timestamp(rec.Epoch)
	}

	result, err := s.db.Exec(`
		INSERT INTO status_records (plant_id, bus_id, timestamp, epoch, cmg, status, cost_snapshot_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plant_id, epoch) DO NOTHING
	`, rec.PlantID, busid.Canonical(rec.BusID), ts, rec.Epoch, rec.CMg, rec.Status, rec.CostSnapshotID)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const statusSelect = `
	SELECT r.id, r.plant_id, r.bus_id, r.timestamp, r.epoch, r.cmg, r.status, r.cost_snapshot_id, c.cost
	FROM status_records r
	LEFT JOIN cost_snapshots c ON c.id = r.cost_snapshot_id
`

// LatestStatus returns the newest decision for a plant, or nil when the
// plant has none. The joined cost is not valid when the snapshot row is
// missing.
func (s *Store) LatestStatus(plantID string) (*models.StatusRecord, error) {
	row := s.db.QueryRow(statusSelect+`
		WHERE r.plant_id = ?
		ORDER BY r.epoch DESC
		LIMIT 1
	`, plantID)

	var rec models.StatusRecord
	err := row.Scan(&rec.ID, &rec.PlantID, &rec.BusID, &rec.Timestamp, &rec.Epoch, &rec.CMg, &rec.Status, &rec.CostSnapshotID, &rec.Cost)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// StatusHistory returns decisions newest first, optionally filtered to a
// set of plants. limit <= 0 means the default of 50.
func (s *Store) StatusHistory(limit int, plantIDs []string) ([]models.StatusRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := statusSelect
	var args []any
	if len(plantIDs) > 0 {
		query += " WHERE r.plant_id IN (?" + strings.Repeat(", ?", len(plantIDs)-1) + ")"
		for _, id := range plantIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY r.epoch DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.StatusRecord
	for rows.Next() {
		var rec models.StatusRecord
		if err := rows.Scan(&rec.ID, &rec.PlantID, &rec.BusID, &rec.Timestamp, &rec.Epoch, &rec.CMg, &rec.Status, &rec.CostSnapshotID, &rec.Cost); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
