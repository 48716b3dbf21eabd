package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CENAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmgtrack_cen_api_calls_total",
			Help: "Total Coordinador API calls",
		},
		[]string{"endpoint", "status"},
	)

	CENAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmgtrack_cen_api_latency_seconds",
			Help:    "Coordinador API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmgtrack_cmg_samples_ingested_total",
			Help: "Total hourly marginal cost samples successfully stored",
		},
		[]string{"bus"},
	)

	FallbackWindowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmgtrack_fallback_windows_total",
			Help: "Total marginal cost windows served from synthesized data",
		},
		[]string{"bus"},
	)

	StatusDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmgtrack_status_decisions_total",
			Help: "Total plant status decisions recorded",
		},
		[]string{"plant", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmgtrack_api_requests_total",
			Help: "Total dashboard API requests",
		},
		[]string{"path"},
	)
)
