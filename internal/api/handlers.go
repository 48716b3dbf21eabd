package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/metrics"
	"github.com/hbsenergia/cmgtrack/internal/models"
)

func (s *Server) writeJSON(w http.ResponseWriter, path string, v any) {
	metrics.APIRequestsTotal.WithLabelValues(path).Inc()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write %s: %v", path, err)
	}
}

type cmgResponse struct {
	Bus       string                      `json:"bus,omitempty"`
	Hours     int                         `json:"hours"`
	Synthetic bool                        `json:"synthetic"`
	Samples   []models.MarginalCostSample `json:"samples"`
}

// handleCMg serves the marginal cost window for one bus, or all buses
// when no bus is given. Empty windows come back filled with synthesized
// data, never as an error.
func (s *Server) handleCMg(w http.ResponseWriter, r *http.Request) {
	bus := r.URL.Query().Get("bus")
	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	samples := s.store.QueryWindow(bus, time.Now().Unix(), hours)

	resp := cmgResponse{Bus: bus, Hours: hours, Samples: samples}
	if len(samples) > 0 && samples[0].Synthetic {
		resp.Synthetic = true
	}
	s.writeJSON(w, "/api/cmg", resp)
}

func (s *Server) handleStatusLatest(w http.ResponseWriter, r *http.Request) {
	plantID := r.URL.Query().Get("plant")

	if plantID != "" {
		rec, err := s.store.LatestStatus(plantID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, "/api/status/latest", rec)
		return
	}

	latest := make(map[string]*models.StatusRecord, len(s.cfg.Plants))
	for _, plant := range s.cfg.Plants {
		rec, err := s.store.LatestStatus(plant.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		latest[plant.ID] = rec
	}
	s.writeJSON(w, "/api/status/latest", latest)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	var plantIDs []string
	if plants := r.URL.Query().Get("plants"); plants != "" {
		for _, id := range strings.Split(plants, ",") {
			if id = strings.TrimSpace(id); id != "" {
				plantIDs = append(plantIDs, id)
			}
		}
	}

	history, err := s.store.StatusHistory(limit, plantIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []models.StatusRecord{}
	}
	s.writeJSON(w, "/api/status/history", history)
}

func (s *Server) handleDecoupling(w http.ResponseWriter, r *http.Request) {
	bus := r.URL.Query().Get("bus")

	if bus != "" {
		ev, err := s.store.LatestDecoupling(bus)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, "/api/decoupling", ev)
		return
	}

	events, err := s.store.AllDecoupling()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.DecouplingEvent{}
	}
	s.writeJSON(w, "/api/decoupling", events)
}

type forecastResponse struct {
	PlantID      string             `json:"plant_id"`
	ReferenceBus string             `json:"reference_bus,omitempty"`
	Date         string             `json:"date"`
	Synthetic    bool               `json:"synthetic"`
	Hourly       map[string]float64 `json:"hourly"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	plantID := r.URL.Query().Get("plant")
	if plantID == "" {
		http.Error(w, "plant parameter required", http.StatusBadRequest)
		return
	}

	date := time.Now().In(s.loc)
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, s.loc)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	f, _ := s.store.GetForecast(plantID, date)
	s.writeJSON(w, "/api/forecast", forecastResponse{
		PlantID:      f.PlantID,
		ReferenceBus: f.ReferenceBus,
		Date:         date.Format("2006-01-02"),
		Synthetic:    f.Synthetic,
		Hourly:       f.Hourly(),
	})
}

type busHealth struct {
	BusID      string `json:"bus_id"`
	LastSample string `json:"last_sample,omitempty"`
	AgeHours   int    `json:"age_hours"`
	Stale      bool   `json:"stale"`
}

type healthStatus struct {
	Status       string      `json:"status"`
	Buses        []busHealth `json:"buses"`
	RecentErrors []string    `json:"recent_errors,omitempty"`
	Errors       []string    `json:"errors,omitempty"`
}

// handleHealth reports store reachability, per-bus sample freshness and
// recent ingest failures. Stale buses degrade the status; store errors
// make it an error. Anything other than ok responds 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(healthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}

	health := healthStatus{
		Status: "ok",
		Buses:  make([]busHealth, 0, len(s.cfg.Plants)),
	}

	staleThreshold := 2 * time.Hour
	now := time.Now()

	for _, bus := range s.cfg.Buses() {
		sample, err := s.store.LatestSample(bus)
		if err != nil {
			health.Errors = append(health.Errors, bus+": "+err.Error())
			continue
		}

		bh := busHealth{BusID: bus}
		if sample != nil {
			age := now.Sub(time.Unix(sample.Epoch, 0))
			bh.LastSample = sample.Timestamp
			bh.AgeHours = int(age.Hours())
			bh.Stale = age > staleThreshold
		} else {
			bh.Stale = true
			bh.AgeHours = -1
		}

		if bh.Stale {
			health.Status = "degraded"
		}
		health.Buses = append(health.Buses, bh)
	}

	failures, err := s.store.GetRecentIngestErrors(5)
	if err != nil {
		health.Errors = append(health.Errors, "ingest_runs: "+err.Error())
	}
	for _, f := range failures {
		health.RecentErrors = append(health.RecentErrors, f.Source+"/"+f.Endpoint+": "+f.ErrorMessage.String)
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("health: write response: %v", err)
	}
}
