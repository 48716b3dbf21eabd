package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	_ "modernc.org/sqlite"

	"github.com/hbsenergia/cmgtrack/internal/api"
	"github.com/hbsenergia/cmgtrack/internal/config"
	"github.com/hbsenergia/cmgtrack/internal/engine"
	"github.com/hbsenergia/cmgtrack/internal/ingest"
	"github.com/hbsenergia/cmgtrack/internal/store"
)

var cli struct {
	DB      string `help:"Path to SQLite database." default:"data/cmgtrack.db"`
	Port    string `help:"HTTP server port." default:"8080"`
	Config  string `help:"Path to plant configuration YAML. Empty uses built-in defaults." env:"CMGTRACK_CONFIG"`
	APIKey  string `help:"Coordinador API key." env:"CEN_API_KEY"`
	APIBase string `help:"Coordinador API base URL." env:"CEN_API_BASE" default:"${cen_base}"`
	FTPHost string `help:"Programmed forecast FTP host." env:"CEN_FTP_HOST"`

	NoPoll   bool `help:"Disable polling (server only, for local dev)."`
	Once     bool `help:"Run a single ingestion cycle and exit."`
	Backfill int  `help:"Backfill N days of marginal cost history and exit." default:"0"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("cmgtrack"),
		kong.Description("Marginal cost tracking and plant status decisions."),
		kong.Vars{"cen_base": ingest.DefaultCENBaseURL},
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if cli.APIKey == "" {
		log.Println("warning: CEN_API_KEY not set, coordinator fetches will be rejected upstream")
	}

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		log.Printf("Warning: could not load America/Santiago timezone, using UTC: %v", err)
		loc = time.UTC
	}

	st := store.New(db, loc, cfg.Buses())
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	eng := engine.New(st, cfg.HoldMargin)
	cen := ingest.NewCENClient(cli.APIBase, cli.APIKey, cfg.Buses(), loc)
	programmed := ingest.NewProgrammedClient(cli.FTPHost)
	scheduler := ingest.NewScheduler(st, cen, programmed, eng, cfg, loc)
	server := api.NewServer(st, cfg, cli.Port, loc)

	if cli.Backfill > 0 {
		log.Printf("backfilling %d days", cli.Backfill)
		if err := scheduler.Backfill(cli.Backfill); err != nil {
			log.Fatalf("backfill: %v", err)
		}
		log.Println("done")
		return
	}

	if cli.Once {
		log.Println("running single ingestion")
		if err := scheduler.IngestOnce(); err != nil {
			log.Fatalf("ingest: %v", err)
		}
		log.Println("done")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cli.NoPoll {
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	log.Printf("starting server on :%s", cli.Port)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
