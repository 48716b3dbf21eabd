package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/hbsenergia/cmgtrack/internal/cmg"
	"github.com/hbsenergia/cmgtrack/internal/config"
	"github.com/hbsenergia/cmgtrack/internal/engine"
	"github.com/hbsenergia/cmgtrack/internal/metrics"
	"github.com/hbsenergia/cmgtrack/internal/models"
	"github.com/hbsenergia/cmgtrack/internal/store"
)

type Scheduler struct {
	store       *store.Store
	cen         *CENClient
	programmed  *ProgrammedClient
	engine      *engine.Engine
	cfg         config.Config
	loc         *time.Location
	cmgInterval time.Duration
	fcInterval  time.Duration
}

func NewScheduler(st *store.Store, cen *CENClient, programmed *ProgrammedClient, eng *engine.Engine, cfg config.Config, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:       st,
		cen:         cen,
		programmed:  programmed,
		engine:      eng,
		cfg:         cfg,
		loc:         loc,
		cmgInterval: time.Hour,
		fcInterval:  6 * time.Hour,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.runCycle()
	s.refreshForecasts()

	cmgTicker := time.NewTicker(s.cmgInterval)
	fcTicker := time.NewTicker(s.fcInterval)
	defer cmgTicker.Stop()
	defer fcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-cmgTicker.C:
			s.runCycle()
		case <-fcTicker.C:
			s.refreshForecasts()
		}
	}
}

// IngestOnce runs a single full cycle: fetch, aggregate, snapshot costs,
// decide, refresh forecasts.
func (s *Scheduler) IngestOnce() error {
	s.runCycle()
	s.refreshForecasts()
	return nil
}

// Backfill re-ingests marginal cost history day by day, then snapshots
// costs and decides against the freshest samples.
func (s *Scheduler) Backfill(days int) error {
	now := time.Now().In(s.loc)
	for d := days; d >= 1; d-- {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -d)
		log.Printf("scheduler: backfilling %s", dayStart.Format("2006-01-02"))
		s.ingestCMg(dayStart, dayStart.AddDate(0, 0, 1))
	}
	s.snapshotCosts()
	s.decide()
	return nil
}

// runCycle covers today and yesterday so hours that straddled the
// previous fetch get their remaining points.
func (s *Scheduler) runCycle() {
	now := time.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -1)
	s.ingestCMg(from, now)
	s.snapshotCosts()
	s.decide()
}

func (s *Scheduler) ingestCMg(from, to time.Time) {
	log.Printf("scheduler: ingesting cmg %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	run, err := s.store.StartIngestRun("cen", cmgRealEndpoint)
	if err != nil {
		log.Printf("scheduler: start ingest run: %v", err)
	}

	points, decouplings, result, err := s.cen.FetchRealCMg(from, to)
	if run != nil && result != nil {
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.RecordsParsed = sql.NullInt64{Int64: int64(result.RecordsParsed), Valid: true}
		if result.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(result.ParseErrors), Valid: true}
		}
	}
	if err != nil {
		log.Printf("scheduler: fetch cmg: %v", err)
		if run != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
			s.store.CompleteIngestRun(run)
		}
		return
	}

	stored := s.storeHourlySamples(points)
	s.applyDecouplings(decouplings)

	if run != nil {
		run.Success = true
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		s.store.CompleteIngestRun(run)
	}
	log.Printf("scheduler: stored %d hourly samples from %d points", stored, len(points))
}

// storeHourlySamples buckets raw points per bus per hour and stores the
// weighted average of each bucket. Duplicate hours are no-ops.
func (s *Scheduler) storeHourlySamples(points []models.CMgPoint) int {
	byBus := make(map[string][]models.CMgPoint)
	for _, p := range points {
		byBus[p.BusID] = append(byBus[p.BusID], p)
	}

	stored := 0
	for bus, busPoints := range byBus {
		hours := make(map[int64]bool)
		for _, p := range busPoints {
			hours[p.At.Truncate(time.Hour).Unix()] = true
		}

		sorted := make([]int64, 0, len(hours))
		for h := range hours {
			sorted = append(sorted, h)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		for _, hourEpoch := range sorted {
			hourStart := time.Unix(hourEpoch, 0).In(s.loc)
			value, err := cmg.WeightedHourly(busPoints, hourStart, time.Hour)
			if err != nil {
				continue
			}

			sample := models.MarginalCostSample{
				BusID:     bus,
				Timestamp: hourStart.Format("2006-01-02 15:04:05"),
				Epoch:     hourEpoch,
				CMg:       value,
			}
			if err := s.store.InsertSample(sample); err != nil {
				if errors.Is(err, store.ErrOutOfRange) {
					log.Printf("scheduler: dropping sample %s@%d: %v", bus, hourEpoch, err)
				} else {
					log.Printf("scheduler: insert sample %s@%d: %v", bus, hourEpoch, err)
				}
				continue
			}
			metrics.SamplesIngested.WithLabelValues(bus).Inc()
			stored++
		}
	}
	return stored
}

func (s *Scheduler) applyDecouplings(events []models.DecouplingEvent) {
	for _, ev := range events {
		_, applied, err := s.store.UpsertDecoupling(ev)
		if err != nil {
			log.Printf("scheduler: upsert decoupling %s: %v", ev.BusID, err)
			continue
		}
		if applied {
			log.Printf("scheduler: decoupling %s: decoupled=%t at %s", ev.BusID, ev.Decoupled, ev.DetectedAt.Format("2006-01-02 15:04"))
		}
	}
}

// snapshotCosts appends one operational cost snapshot per plant per
// cycle, aligned to the current hour so decisions and snapshots share an
// epoch.
func (s *Scheduler) snapshotCosts() {
	at := time.Now().In(s.loc).Truncate(time.Hour)
	for _, plant := range s.cfg.Plants {
		_, err := s.store.RecordCost(plant.ID, plant.Name, plant.OperationalCost(), plant.Editor, at)
		if errors.Is(err, store.ErrDuplicateSnapshot) {
			continue
		}
		if err != nil {
			log.Printf("scheduler: record cost %s: %v", plant.ID, err)
		}
	}
}

func (s *Scheduler) decide() {
	for _, plant := range s.cfg.Plants {
		sample, err := s.store.LatestSample(plant.BusID)
		if err != nil {
			log.Printf("scheduler: latest sample %s: %v", plant.BusID, err)
			continue
		}
		if sample == nil {
			log.Printf("scheduler: no samples for %s, skipping decision for %s", plant.BusID, plant.ID)
			continue
		}
		if _, err := s.engine.Decide(plant, *sample); err != nil {
			log.Printf("scheduler: decide %s: %v", plant.ID, err)
		}
	}
}

func (s *Scheduler) refreshForecasts() {
	if s.programmed == nil {
		return
	}

	log.Println("scheduler: refreshing programmed forecasts")
	run, err := s.store.StartIngestRun("programmed", "cmg_programado")
	if err != nil {
		log.Printf("scheduler: start ingest run: %v", err)
	}

	date := time.Now().In(s.loc)
	forecasts, parseErrors, err := s.programmed.FetchDaily(date)
	if run != nil {
		if parseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(parseErrors), Valid: true}
		}
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(forecasts)), Valid: true}
	}
	if err != nil {
		log.Printf("scheduler: fetch programmed forecasts: %v", err)
		if run != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
			s.store.CompleteIngestRun(run)
		}
		return
	}

	stored := 0
	for _, f := range forecasts {
		if err := s.store.PutForecast(f); err != nil {
			log.Printf("scheduler: put forecast %s: %v", f.PlantID, err)
			continue
		}
		stored++
	}

	if run != nil {
		run.Success = true
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		s.store.CompleteIngestRun(run)
	}
	log.Printf("scheduler: stored %d programmed forecasts", stored)
}
