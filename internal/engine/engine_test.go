package engine

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hbsenergia/cmgtrack/internal/config"
	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, time.UTC, []string{"QUILLOTA_220"})
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		cmg        float64
		cost       float64
		holdMargin float64
		want       Status
	}{
		{"market above cost", 52.30, 48.00, 0, StatusOn},
		{"market well below cost", 40.00, 48.00, 0, StatusOff},
		{"shortfall inside margin", 47.90, 48.00, 0.50, StatusHold},
		{"equal is on", 48.00, 48.00, 0, StatusOn},
		{"any shortfall off at zero margin", 47.99, 48.00, 0, StatusOff},
		{"shortfall at margin boundary holds", 47.50, 48.00, 0.50, StatusHold},
		{"shortfall past margin", 47.49, 48.00, 0.50, StatusOff},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.cmg, c.cost, c.holdMargin); got != c.want {
				t.Errorf("Classify(%.2f, %.2f, %.2f) = %s, want %s", c.cmg, c.cost, c.holdMargin, got, c.want)
			}
		})
	}
}

var testPlant = config.Plant{ID: "quillota", Name: "Central Quillota", BusID: "QUILLOTA_220"}

func sampleAt(epoch int64, cmg float64) models.MarginalCostSample {
	return models.MarginalCostSample{BusID: "QUILLOTA_220", Epoch: epoch, CMg: cmg}
}

func TestDecide_RecordsStatus(t *testing.T) {
	st := setupTestStore(t)
	eng := New(st, 0)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if _, err := st.RecordCost(testPlant.ID, testPlant.Name, 48.0, "system", at); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	rec, err := eng.Decide(testPlant, sampleAt(at.Unix(), 52.30))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec == nil || rec.Status != string(StatusOn) {
		t.Fatalf("rec = %+v, want ON", rec)
	}

	stored, err := st.LatestStatus(testPlant.ID)
	if err != nil {
		t.Fatalf("LatestStatus: %v", err)
	}
	if stored == nil || stored.Status != "ON" {
		t.Fatalf("stored = %+v, want ON", stored)
	}
	if !stored.Cost.Valid || stored.Cost.Float64 != 48.0 {
		t.Errorf("joined cost = %+v, want 48.0", stored.Cost)
	}
}

func TestDecide_NoSnapshotSkips(t *testing.T) {
	st := setupTestStore(t)
	eng := New(st, 0)

	rec, err := eng.Decide(testPlant, sampleAt(time.Now().Unix(), 52.30))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec != nil {
		t.Fatalf("rec = %+v, want nil when no snapshot exists", rec)
	}

	stored, err := st.LatestStatus(testPlant.ID)
	if err != nil {
		t.Fatalf("LatestStatus: %v", err)
	}
	if stored != nil {
		t.Errorf("a record was written without a snapshot: %+v", stored)
	}
}

func TestDecide_Idempotent(t *testing.T) {
	st := setupTestStore(t)
	eng := New(st, 0)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if _, err := st.RecordCost(testPlant.ID, testPlant.Name, 48.0, "system", at); err != nil {
		t.Fatal(err)
	}

	sample := sampleAt(at.Unix(), 40.0)
	if _, err := eng.Decide(testPlant, sample); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := eng.Decide(testPlant, sample); err != nil {
		t.Fatalf("Decide rerun: %v", err)
	}

	history, err := st.StatusHistory(0, []string{testPlant.ID})
	if err != nil {
		t.Fatalf("StatusHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].Status != "OFF" {
		t.Errorf("status = %q, want OFF", history[0].Status)
	}
}

func TestDecide_HoldMargin(t *testing.T) {
	st := setupTestStore(t)
	eng := New(st, 0.50)

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if _, err := st.RecordCost(testPlant.ID, testPlant.Name, 48.0, "system", at); err != nil {
		t.Fatal(err)
	}

	rec, err := eng.Decide(testPlant, sampleAt(at.Unix(), 47.90))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec == nil || rec.Status != string(StatusHold) {
		t.Fatalf("rec = %+v, want HOLD", rec)
	}
}
