// Package engine derives ON/OFF/HOLD operational status from marginal
// cost against operational cost.
package engine

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/hbsenergia/cmgtrack/internal/config"
	"github.com/hbsenergia/cmgtrack/internal/metrics"
	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/store"
)

type Status string

const (
	StatusOn   Status = "ON"
	StatusOff  Status = "OFF"
	StatusHold Status = "HOLD"
)

// Classify applies the decision rule. A plant runs when the market pays
// at least its cost. Below cost, holdMargin sets how deep the shortfall
// must be before the plant shuts down instead of holding; a zero margin
// means any shortfall is OFF.
func Classify(marginalCost, operationalCost, holdMargin float64) Status {
	switch {
	case marginalCost >= operationalCost:
		return StatusOn
	case operationalCost-marginalCost > holdMargin:
		return StatusOff
	default:
		return StatusHold
	}
}

type Engine struct {
	store      *store.Store
	holdMargin float64
}

func New(store *store.Store, holdMargin float64) *Engine {
	return &Engine{store: store, holdMargin: holdMargin}
}

// Decide classifies a plant against one marginal cost sample and records
// the decision. Without a cost snapshot there is nothing to compare
// against, so the hour is skipped: logged, no record, no error. Re-runs
// over an already decided hour are no-ops.
func (e *Engine) Decide(plant config.Plant, sample models.MarginalCostSample) (*models.StatusRecord, error) {
	snap, err := e.store.LatestCost(plant.ID)
	if err != nil {
		return nil, fmt.Errorf("latest cost for %s: %w", plant.ID, err)
	}
	if snap == nil {
		log.Printf("engine: no cost snapshot for %s, skipping decision", plant.ID)
		return nil, nil
	}

	status := Classify(sample.CMg, snap.Cost, e.holdMargin)

	rec := models.StatusRecord{
		PlantID:        plant.ID,
		BusID:          plant.BusID,
		Timestamp:      sample.Timestamp,
		Epoch:          sample.Epoch,
		CMg:            sample.CMg,
		Status:         string(status),
		CostSnapshotID: sql.NullInt64{Int64: snap.ID, Valid: true},
		Cost:           sql.NullFloat64{Float64: snap.Cost, Valid: true},
	}

	inserted, err := e.store.InsertStatus(rec)
	if err != nil {
		return nil, fmt.Errorf("insert status for %s: %w", plant.ID, err)
	}
	if !inserted {
		log.Printf("engine: %s already decided for epoch %d", plant.ID, sample.Epoch)
		return &rec, nil
	}

	metrics.StatusDecisionsTotal.WithLabelValues(plant.ID, string(status)).Inc()
	log.Printf("engine: %s %s (cmg=%.2f cost=%.2f)", plant.ID, status, sample.CMg, snap.Cost)
	return &rec, nil
}
