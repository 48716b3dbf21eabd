package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/hbsenergia/cmgtrack/internal/busid"
	"github.com/hbsenergia/cmgtrack/internal/metrics"
	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/synth"
)

// ErrOutOfRange is returned for marginal cost values outside the valid
// range. Callers log and drop the sample.
var ErrOutOfRange = errors.New("marginal cost out of valid range")

// InsertSample stores one hourly weighted sample. Re-inserting the same
// (bus, epoch) is a no-op. Synthetic samples are refused: fallback data
// must never become history.
func (s *Store) InsertSample(sample models.MarginalCostSample) error {
	if sample.Synthetic {
		return errors.New("refusing to persist synthetic sample")
	}
	if !synth.InRange(sample.CMg) {
		return fmt.Errorf("%w: %s %.4f", ErrOutOfRange, sample.BusID, sample.CMg)
	}

	bus := busid.Canonical(sample.BusID)
	ts := sample.Timestamp
	if ts == "" {
		ts = s.timestamp(sample.Epoch)
	}

	_, err := s.db.Exec(`
		INSERT INTO cmg_samples (bus_id, timestamp, epoch, cmg)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bus_id, epoch) DO NOTHING
	`, bus, ts, sample.Epoch, sample.CMg)
	return err
}

// QueryWindow returns the samples in [endEpoch-hoursBack*3600, endEpoch]
// ascending by epoch. An empty busID means all buses. The result is never
// empty: when the query fails or matches nothing, a synthesized window is
// returned instead (flagged Synthetic, not persisted).
func (s *Store) QueryWindow(busID string, endEpoch int64, hoursBack int) []models.MarginalCostSample {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	startEpoch := endEpoch - int64(hoursBack)*3600

	var bus string
	if busID != "" {
		bus = busid.Canonical(busID)
	}

	samples, err := s.queryWindow(bus, startEpoch, endEpoch)
	if err != nil {
		log.Printf("store: query cmg window %q: %v, serving fallback", bus, err)
	}
	if err == nil && len(samples) > 0 {
		return samples
	}

	fallbackBuses := s.buses
	if bus != "" {
		fallbackBuses = []string{bus}
	}
	metrics.FallbackWindowsTotal.WithLabelValues(fallbackLabel(bus)).Inc()
	return synth.Window(endEpoch, hoursBack, fallbackBuses, s.loc)
}

func fallbackLabel(bus string) string {
	if bus == "" {
		return "all"
	}
	return bus
}

func (s *Store) queryWindow(bus string, startEpoch, endEpoch int64) ([]models.MarginalCostSample, error) {
	query := `
		SELECT id, bus_id, timestamp, epoch, cmg
		FROM cmg_samples
		WHERE epoch >= ? AND epoch <= ?`
	args := []any{startEpoch, endEpoch}
	if bus != "" {
		query += " AND bus_id = ?"
		args = append(args, bus)
	}
	query += " ORDER BY epoch ASC, bus_id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.MarginalCostSample
	for rows.Next() {
		var sm models.MarginalCostSample
		if err := rows.Scan(&sm.ID, &sm.BusID, &sm.Timestamp, &sm.Epoch, &sm.CMg); err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// LatestSample returns the newest stored sample for a bus, or nil when
// the bus has no history.
func (s *Store) LatestSample(busID string) (*models.MarginalCostSample, error) {
	row := s.db.QueryRow(`
		SELECT id, bus_id, timestamp, epoch, cmg
		FROM cmg_samples
		WHERE bus_id = ?
		ORDER BY epoch DESC
		LIMIT 1
	`, busid.Canonical(busID))

	var sm models.MarginalCostSample
	err := row.Scan(&sm.ID, &sm.BusID, &sm.Timestamp, &sm.Epoch, &sm.CMg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sm, nil
}
