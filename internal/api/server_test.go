package api_test

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hbsenergia/cmgtrack/internal/api"
	"github.com/hbsenergia/cmgtrack/internal/config"
	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/store"
)

func setupServer(t *testing.T) (*store.Store, *api.Server) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	s := store.New(db, time.UTC, cfg.Buses())
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s, api.NewServer(s, cfg, "8080", time.UTC)
}

func get(t *testing.T, srv *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint_DegradedWithoutSamples(t *testing.T) {
	t.Parallel()
	_, srv := setupServer(t)

	w := get(t, srv, "/health")
	if w.Code != 503 {
		t.Fatalf("code = %d, want 503 with no samples", w.Code)
	}

	var health struct {
		Status string `json:"status"`
		Buses  []struct {
			BusID string `json:"bus_id"`
			Stale bool   `json:"stale"`
		} `json:"buses"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
	if len(health.Buses) != 2 {
		t.Errorf("len(buses) = %d, want 2", len(health.Buses))
	}
}

func TestHealthEndpoint_OKWithFreshSamples(t *testing.T) {
	t.Parallel()
	s, srv := setupServer(t)

	epoch := time.Now().Truncate(time.Hour).Unix()
	for _, bus := range []string{"CHARRUA_220", "QUILLOTA_220"} {
		if err := s.InsertSample(models.MarginalCostSample{BusID: bus, Epoch: epoch, CMg: 48}); err != nil {
			t.Fatal(err)
		}
	}

	w := get(t, srv, "/health")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestCMgEndpoint_FallbackWindow(t *testing.T) {
	t.Parallel()
	_, srv := setupServer(t)

	w := get(t, srv, "/api/cmg?bus=CHARRUA_220&hours=24")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}

	var resp struct {
		Hours     int  `json:"hours"`
		Synthetic bool `json:"synthetic"`
		Samples   []struct {
			BusID string  `json:"BusID"`
			CMg   float64 `json:"CMg"`
		} `json:"samples"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Synthetic {
		t.Error("expected synthetic window with an empty store")
	}
	if len(resp.Samples) != 24 {
		t.Fatalf("len(samples) = %d, want 24", len(resp.Samples))
	}
	for _, sm := range resp.Samples {
		if sm.CMg < 0 || sm.CMg > 1000 {
			t.Errorf("CMg = %f outside valid range", sm.CMg)
		}
	}
}

func TestCMgEndpoint_StoredData(t *testing.T) {
	t.Parallel()
	s, srv := setupServer(t)

	epoch := time.Now().Truncate(time.Hour).Unix()
	if err := s.InsertSample(models.MarginalCostSample{BusID: "QUILLOTA_220", Epoch: epoch, CMg: 48.32}); err != nil {
		t.Fatal(err)
	}

	w := get(t, srv, "/api/cmg?bus=quillota__220&hours=2")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), `"synthetic":true`) {
		t.Error("stored data reported as synthetic")
	}
	if !strings.Contains(w.Body.String(), "48.32") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestStatusLatestEndpoint(t *testing.T) {
	t.Parallel()
	s, srv := setupServer(t)

	at := time.Now().Truncate(time.Hour)
	snap, err := s.RecordCost("quillota", "Central Quillota", 48.0, "system", at)
	if err != nil {
		t.Fatal(err)
	}
	rec := models.StatusRecord{
		PlantID:        "quillota",
		BusID:          "QUILLOTA_220",
		Epoch:          at.Unix(),
		CMg:            52.3,
		Status:         "ON",
		CostSnapshotID: sql.NullInt64{Int64: snap.ID, Valid: true},
	}
	if _, err := s.InsertStatus(rec); err != nil {
		t.Fatal(err)
	}

	w := get(t, srv, "/api/status/latest?plant=quillota")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Status":"ON"`) {
		t.Errorf("body = %s", w.Body.String())
	}

	// Without a plant filter: one entry per configured plant, null when
	// the plant has no decisions yet.
	w = get(t, srv, "/api/status/latest")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
	if string(all["los_angeles"]) != "null" {
		t.Errorf("los_angeles = %s, want null", all["los_angeles"])
	}
}

func TestStatusHistoryEndpoint_Empty(t *testing.T) {
	t.Parallel()
	_, srv := setupServer(t)

	w := get(t, srv, "/api/status/history")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
}

func TestDecouplingEndpoint(t *testing.T) {
	t.Parallel()
	s, srv := setupServer(t)

	_, _, err := s.UpsertDecoupling(models.DecouplingEvent{
		BusID:      "CHARRUA_220",
		Decoupled:  true,
		DetectedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := get(t, srv, "/api/decoupling?bus=charrua__22O")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Decoupled":true`) {
		t.Errorf("body = %s", w.Body.String())
	}

	w = get(t, srv, "/api/decoupling")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "CHARRUA_220") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestForecastEndpoint(t *testing.T) {
	t.Parallel()
	_, srv := setupServer(t)

	w := get(t, srv, "/api/forecast")
	if w.Code != 400 {
		t.Fatalf("code = %d, want 400 without plant", w.Code)
	}

	w = get(t, srv, "/api/forecast?plant=quillota&date=2026-03-10")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}

	var resp struct {
		PlantID   string             `json:"plant_id"`
		Date      string             `json:"date"`
		Synthetic bool               `json:"synthetic"`
		Hourly    map[string]float64 `json:"hourly"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Synthetic {
		t.Error("expected synthetic forecast on a miss")
	}
	if len(resp.Hourly) != 24 {
		t.Fatalf("len(hourly) = %d, want 24", len(resp.Hourly))
	}
	for hour, v := range resp.Hourly {
		if v <= 0 {
			t.Errorf("hour %s = %f, want positive", hour, v)
		}
	}
	if _, ok := resp.Hourly["13:00"]; !ok {
		t.Error("expected key 13:00")
	}

	w = get(t, srv, "/api/forecast?plant=quillota&date=10-03-2026")
	if w.Code != 400 {
		t.Fatalf("code = %d, want 400 for bad date", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	_, srv := setupServer(t)

	w := get(t, srv, "/metrics")
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected prometheus output")
	}
}
