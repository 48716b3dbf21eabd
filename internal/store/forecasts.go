package store

import (
	"database/sql"
	"log"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/busid"
	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/synth"
)

// PutForecast stores the 24-value programmed curve for a plant and date,
// replacing the whole row when one already exists.
func (s *Store) PutForecast(f models.ProgrammedForecast) error {
	date := f.ForecastDate.Format("2006-01-02")

	args := []any{f.PlantID, busid.Canonical(f.ReferenceBus), date}
	for _, v := range f.Values {
		args = append(args, v)
	}
	args = append(args, time.Now().UTC())

	_, err := s.db.Exec(`
		INSERT INTO programmed_forecasts (
			plant_id, reference_bus, forecast_date,
			h00, h01, h02, h03, h04, h05, h06, h07, h08, h09, h10, h11,
			h12, h13, h14, h15, h16, h17, h18, h19, h20, h21, h22, h23,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plant_id, forecast_date) DO UPDATE SET
			reference_bus = excluded.reference_bus,
			h00 = excluded.h00, h01 = excluded.h01, h02 = excluded.h02, h03 = excluded.h03,
			h04 = excluded.h04, h05 = excluded.h05, h06 = excluded.h06, h07 = excluded.h07,
			h08 = excluded.h08, h09 = excluded.h09, h10 = excluded.h10, h11 = excluded.h11,
			h12 = excluded.h12, h13 = excluded.h13, h14 = excluded.h14, h15 = excluded.h15,
			h16 = excluded.h16, h17 = excluded.h17, h18 = excluded.h18, h19 = excluded.h19,
			h20 = excluded.h20, h21 = excluded.h21, h22 = excluded.h22, h23 = excluded.h23,
			updated_at = excluded.updated_at
	`, args...)
	return err
}

// GetForecast returns the programmed curve for a plant and date. On a
// miss or a query error the caller still gets a usable curve: a
// synthesized one, flagged Synthetic, with found=false.
func (s *Store) GetForecast(plantID string, date time.Time) (models.ProgrammedForecast, bool) {
	f := models.ProgrammedForecast{
		PlantID:      plantID,
		ForecastDate: date,
	}

	var refBus sql.NullString
	dest := []any{&refBus}
	for i := range f.Values {
		dest = append(dest, &f.Values[i])
	}

	err := s.db.QueryRow(`
		SELECT reference_bus,
			h00, h01, h02, h03, h04, h05, h06, h07, h08, h09, h10, h11,
			h12, h13, h14, h15, h16, h17, h18, h19, h20, h21, h22, h23
		FROM programmed_forecasts
		WHERE plant_id = ? AND forecast_date = ?
	`, plantID, date.Format("2006-01-02")).Scan(dest...)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("store: get forecast %s %s: %v, serving fallback", plantID, date.Format("2006-01-02"), err)
		}
		f.Values = synth.ForecastCurve(plantID)
		f.Synthetic = true
		return f, false
	}

	f.ReferenceBus = refBus.String
	return f, true
}
