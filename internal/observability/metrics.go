package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JoinRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "join_requests_total", Help: "Join requests submitted"})
	AdmissionsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "admissions_total", Help: "Riders admitted after unanimous approval"})
	VetoesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "vetoes_total", Help: "Join requests rejected by a single veto"})
	DeferredTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "admissions_deferred_total", Help: "Admissions left pending (seats exhausted or oracle down)"})
	PendingRequests   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "pending_requests", Help: "Join requests currently pending"})

	OracleCallsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "oracle_calls_total", Help: "Distance oracle measurements attempted"})
	OracleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "oracle_failures_total", Help: "Distance oracle measurements failed"})
	InsertionLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "carpool", Name: "insertion_latency_seconds", Help: "Route insertion search latency"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
