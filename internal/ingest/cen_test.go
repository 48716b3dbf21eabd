package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testBuses = []string{"CHARRUA_220", "QUILLOTA_220"}

func cenServer(t *testing.T, handler http.HandlerFunc) *CENClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewCENClient(server.URL, "test-key", testBuses, time.UTC)
}

func TestFetchRealCMg(t *testing.T) {
	decoupled := true
	client := cenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("User-Api-Key"); got != "test-key" {
			t.Errorf("User-Api-Key = %q", got)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
		}
		if req["fechaGte"] == "" || req["fechaLte"] == "" {
			t.Errorf("request window missing: %v", req)
		}

		rows := []map[string]any{
			{"barra": "CHARRUA__220", "fecha": "2026-03-10 14:15:00", "cmg": 45.7},
			{"barra": "charrua_22O", "fecha": "2026-03-10 14:45:00", "cmg": 46.2, "desacople": decoupled},
			{"barra": "OTRA_BARRA_154", "fecha": "2026-03-10 14:00:00", "cmg": 99.9},
			{"barra": "QUILLOTA_220", "fecha": "not a date", "cmg": 48.3},
		}
		json.NewEncoder(w).Encode(rows)
	})

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	points, events, result, err := client.FetchRealCMg(from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("FetchRealCMg: %v", err)
	}

	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2 (unknown bus and bad date dropped)", len(points))
	}
	for _, p := range points {
		if p.BusID != "CHARRUA_220" {
			t.Errorf("BusID = %q, want CHARRUA_220", p.BusID)
		}
	}
	if result.RecordsParsed != 2 || result.ParseErrors != 1 {
		t.Errorf("result = %+v", result)
	}

	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if ev := events[0]; ev.BusID != "CHARRUA_220" || !ev.Decoupled || ev.Source != "cen" {
		t.Errorf("event = %+v", ev)
	}
}

func TestFetchRealCMg_MalformedBody(t *testing.T) {
	client := cenServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>mantenimiento</html>")
	})

	points, events, result, err := client.FetchRealCMg(time.Now().AddDate(0, 0, -1), time.Now())
	if err != nil {
		t.Fatalf("malformed body should not error, got %v", err)
	}
	if len(points) != 0 || len(events) != 0 {
		t.Errorf("points = %v, events = %v, want none", points, events)
	}
	if result.ParseErrors == 0 {
		t.Error("parse failure not counted")
	}
}

func TestFetchRealCMg_ClientError(t *testing.T) {
	client := cenServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, _, result, err := client.FetchRealCMg(time.Now().AddDate(0, 0, -1), time.Now())
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if result.HTTPStatus != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d, want 400", result.HTTPStatus)
	}
}

func TestFetchRealCMg_EmptyArray(t *testing.T) {
	client := cenServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "[]")
	})

	points, _, result, err := client.FetchRealCMg(time.Now().AddDate(0, 0, -1), time.Now())
	if err != nil {
		t.Fatalf("FetchRealCMg: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("points = %v, want none", points)
	}
	if result.ParseErrors != 0 {
		t.Errorf("ParseErrors = %d, want 0 for a valid empty response", result.ParseErrors)
	}
}
