package models

import (
	"database/sql"
	"fmt"
	"time"
)

// MarginalCostSample is one hourly weighted marginal cost for a bus.
// Synthetic samples are generated when the store has no real data for a
// window; they are served to callers but never persisted.
type MarginalCostSample struct {
	ID        int64
	BusID     string
	Timestamp string // "2006-01-02 15:04:05" in market local time
	Epoch     int64
	CMg       float64
	Synthetic bool
}

// CMgPoint is a raw marginal cost reading from the coordinator API,
// before hourly aggregation.
type CMgPoint struct {
	BusID string
	At    time.Time
	Value float64
}

// DecouplingEvent is the current decoupling state of a bus. One row per
// bus; newer observations overwrite older ones in place.
type DecouplingEvent struct {
	BusID          string
	Decoupled      bool
	ReferencePlant sql.NullString
	Segment        sql.NullString
	Comment        sql.NullString
	Source         string
	DetectedAt     time.Time
	UpdatedAt      time.Time
}

// CostSnapshot is one computed operational cost for a plant at a point
// in time. Snapshots are append-only.
type CostSnapshot struct {
	ID        int64
	PlantID   string
	PlantName string
	Timestamp string
	Epoch     int64
	Cost      float64
	Editor    string
}

// StatusRecord is one ON/OFF/HOLD decision for a plant. Cost carries the
// joined snapshot value on reads and is not valid when the snapshot row
// is gone.
type StatusRecord struct {
	ID             int64
	PlantID        string
	BusID          string
	Timestamp      string
	Epoch          int64
	CMg            float64
	Status         string
	CostSnapshotID sql.NullInt64
	Cost           sql.NullFloat64
}

// ProgrammedForecast holds the 24 programmed marginal cost values for a
// plant on a given date, indexed by hour of day.
type ProgrammedForecast struct {
	PlantID      string
	ReferenceBus string
	ForecastDate time.Time
	Values       [24]float64
	Synthetic    bool
}

// Hourly returns the forecast values keyed "00:00" through "23:00".
func (p ProgrammedForecast) Hourly() map[string]float64 {
	out := make(map[string]float64, 24)
	for h, v := range p.Values {
		out[fmt.Sprintf("%02d:00", h)] = v
	}
	return out
}
