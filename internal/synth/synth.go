// Package synth generates plausible marginal cost data for windows and
// forecast dates where the store has nothing. Dashboards keep rendering
// through coordinator outages; synthetic data is flagged and never
// written back to the store.
package synth

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/busid"
	"github.com/hbsenergia/cmgtrack/internal/models"
)

// Valid marginal cost range in USD/MWh. Values outside this range are
// treated as bad data everywhere in the system.
const (
	MinCMg = 0.0
	MaxCMg = 1000.0
)

var busBases = map[string]float64{
	"CHARRUA_220":  45.75,
	"QUILLOTA_220": 48.32,
}

const defaultBusBase = 50.0

// Window returns one sample per bus per whole hour over the
// [endEpoch-hoursBack*3600, endEpoch] range. Values follow a per-bus base
// with a mild upward trend toward the end of the window and a bounded
// random perturbation. Timestamps are strictly ascending per bus.
func Window(endEpoch int64, hoursBack int, busIDs []string, loc *time.Location) []models.MarginalCostSample {
	if hoursBack <= 0 {
		hoursBack = 24
	}
	if loc == nil {
		loc = time.UTC
	}

	samples := make([]models.MarginalCostSample, 0, hoursBack*len(busIDs))
	for _, raw := range busIDs {
		bus := busid.Canonical(raw)
		base, ok := busBases[bus]
		if !ok {
			base = defaultBusBase
		}

		for i := 0; i < hoursBack; i++ {
			epoch := endEpoch - int64(hoursBack-1-i)*3600
			epoch -= epoch % 3600

			trend := (float64(i)/float64(hoursBack))*10 - 5
			noise := rand.Float64()*5 - 2.5
			value := clamp(base + trend + noise)

			samples = append(samples, models.MarginalCostSample{
				BusID:     bus,
				Timestamp: time.Unix(epoch, 0).In(loc).Format("2006-01-02 15:04:05"),
				Epoch:     epoch,
				CMg:       round2(value),
				Synthetic: true,
			})
		}
	}
	return samples
}

// ForecastCurve returns a 24-value programmed cost curve for a plant:
// a plant-specific base that ramps up through the day and plateaus in
// the evening, with small noise. Values are never zero.
func ForecastCurve(plantID string) [24]float64 {
	base := defaultBusBase
	switch {
	case strings.Contains(strings.ToLower(plantID), "quillota"):
		base = 48.0
	case strings.Contains(strings.ToLower(plantID), "angeles"):
		base = 45.0
	}

	var values [24]float64
	for h := 0; h < 24; h++ {
		ramp := math.Min(float64(h), 18) * 0.5
		noise := rand.Float64()*2 - 1
		v := clamp(base + ramp + noise)
		if v < 1 {
			v = 1
		}
		values[h] = round2(v)
	}
	return values
}

// InRange reports whether a marginal cost value is inside the valid range.
func InRange(v float64) bool {
	return v >= MinCMg && v <= MaxCMg
}

func clamp(v float64) float64 {
	if v < MinCMg {
		return MinCMg
	}
	if v > MaxCMg {
		return MaxCMg
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
