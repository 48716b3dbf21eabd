package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hbsenergia/cmgtrack/internal/busid"
	"github.com/hbsenergia/cmgtrack/internal/httputil"
	"github.com/hbsenergia/cmgtrack/internal/metrics"
	"github.com/hbsenergia/cmgtrack/internal/models"
)

const (
	DefaultCENBaseURL = "https://api.coordinador.cl/v2"
	cmgRealEndpoint   = "costos-marginales/reales"
)

// CENClient fetches real marginal costs from the coordinator API.
type CENClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	loc     *time.Location
	buses   map[string]bool
}

// NewCENClient builds a client restricted to the given buses. Readings
// for other buses are dropped after canonicalization.
func NewCENClient(baseURL, apiKey string, buses []string, loc *time.Location) *CENClient {
	if baseURL == "" {
		baseURL = DefaultCENBaseURL
	}
	if loc == nil {
		loc = time.UTC
	}
	busSet := make(map[string]bool, len(buses))
	for _, b := range busid.CanonicalAll(buses) {
		busSet[b] = true
	}
	return &CENClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httputil.NewClient(),
		loc:     loc,
		buses:   busSet,
	}
}

// FetchResult carries per-call bookkeeping for the ingest audit trail.
type FetchResult struct {
	HTTPStatus    int
	RecordsParsed int
	ParseErrors   int
}

type cmgRealRequest struct {
	FechaGte string `json:"fechaGte"`
	FechaLte string `json:"fechaLte"`
}

type cmgRealRow struct {
	Barra     string  `json:"barra"`
	Fecha     string  `json:"fecha"`
	CMg       float64 `json:"cmg"`
	Desacople *bool   `json:"desacople,omitempty"`
}

// FetchRealCMg returns raw marginal cost points for the configured buses
// in [from, to], plus any decoupling observations the response carried
// (latest per bus). A malformed body is degraded to zero points with the
// parse failure counted, not returned as an error; only transport and
// HTTP failures are errors.
func (c *CENClient) FetchRealCMg(from, to time.Time) ([]models.CMgPoint, []models.DecouplingEvent, *FetchResult, error) {
	result := &FetchResult{}

	payload, err := json.Marshal(cmgRealRequest{
		FechaGte: from.In(c.loc).Format("2006-01-02"),
		FechaLte: to.In(c.loc).Format("2006-01-02"),
	})
	if err != nil {
		return nil, nil, result, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/" + cmgRealEndpoint

	var body []byte
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("User-Api-Key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.CENAPICallsTotal.WithLabelValues(cmgRealEndpoint, "error").Inc()
			return backoff.Permanent(fmt.Errorf("fetch cmg: %w", err))
		}
		defer resp.Body.Close()

		metrics.CENAPILatency.WithLabelValues(cmgRealEndpoint).Observe(time.Since(start).Seconds())
		metrics.CENAPICallsTotal.WithLabelValues(cmgRealEndpoint, strconv.Itoa(resp.StatusCode)).Inc()
		result.HTTPStatus = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch cmg: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch cmg: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, nil, result, err
	}

	var rows []cmgRealRow
	if err := json.Unmarshal(body, &rows); err != nil {
		log.Printf("cen: malformed response (%d bytes), serving nothing: %v", len(body), err)
		result.ParseErrors++
		return nil, nil, result, nil
	}

	var points []models.CMgPoint
	latestDecoupling := make(map[string]models.DecouplingEvent)
	for _, row := range rows {
		bus := busid.Canonical(row.Barra)
		if len(c.buses) > 0 && !c.buses[bus] {
			continue
		}

		at, err := time.ParseInLocation("2006-01-02 15:04:05", row.Fecha, c.loc)
		if err != nil {
			result.ParseErrors++
			continue
		}

		result.RecordsParsed++
		points = append(points, models.CMgPoint{BusID: bus, At: at, Value: row.CMg})

		if row.Desacople != nil {
			current, ok := latestDecoupling[bus]
			if !ok || at.After(current.DetectedAt) {
				latestDecoupling[bus] = models.DecouplingEvent{
					BusID:      bus,
					Decoupled:  *row.Desacople,
					Source:     "cen",
					DetectedAt: at,
				}
			}
		}
	}

	var events []models.DecouplingEvent
	for _, ev := range latestDecoupling {
		events = append(events, ev)
	}

	return points, events, result, nil
}
