package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hbsenergia/cmgtrack/internal/config"
	"github.com/hbsenergia/cmgtrack/internal/store"
)

type Server struct {
	store *store.Store
	cfg   config.Config
	port  string
	loc   *time.Location
}

func NewServer(store *store.Store, cfg config.Config, port string, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		store: store,
		cfg:   cfg,
		port:  port,
		loc:   loc,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/cmg", s.handleCMg)
	mux.HandleFunc("/api/status/latest", s.handleStatusLatest)
	mux.HandleFunc("/api/status/history", s.handleStatusHistory)
	mux.HandleFunc("/api/decoupling", s.handleDecoupling)
	mux.HandleFunc("/api/forecast", s.handleForecast)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
