package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synthiacore/synthia/internal/health"
)

var (
	// Scheduler metrics

	JobsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "jobs_submitted_total",
		Help:      "Total jobs accepted into the queue, by priority.",
	}, []string{"priority"})

	JobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "jobs_finished_total",
		Help:      "Total jobs reaching a terminal state, by state.",
	}, []string{"state"})

	LeasesGrantedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "leases_granted_total",
		Help:      "Total leases granted.",
	})

	LeaseDenialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "lease_denials_total",
		Help:      "Total lease requests denied, by reason.",
	}, []string{"reason"})

	LeasesExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "leases_expired_total",
		Help:      "Total leases reclaimed by the reaper.",
	})

	LeasedUnits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "synthia",
		Name:      "leased_capacity_units",
		Help:      "Capacity units currently held by active leases.",
	})

	ActiveLeases = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "synthia",
		Name:      "active_leases",
		Help:      "Number of active leases.",
	})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synthia",
		Name:      "queue_depth",
		Help:      "Queued jobs per priority class.",
	}, []string{"priority"})

	// Sampler metrics

	BusyRating = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "synthia",
		Name:      "busy_rating",
		Help:      "Current derived busy rating (0-10).",
	})

	SamplerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "synthia",
		Name:      "sampler_tick_duration_seconds",
		Help:      "Time taken to collect one health snapshot.",
		Buckets:   prometheus.DefBuckets,
	})

	// History writer metrics

	HistoryWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "history_writes_total",
		Help:      "Durable history writes, by outcome.",
	}, []string{"outcome"})

	HistoryDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "history_dropped_total",
		Help:      "History records dropped because the writer queue was full.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "synthia",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synthia",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsFinishedTotal,
		LeasesGrantedTotal,
		LeaseDenialsTotal,
		LeasesExpiredTotal,
		LeasedUnits,
		ActiveLeases,
		QueueDepth,
		BusyRating,
		SamplerTickDuration,
		HistoryWritesTotal,
		HistoryDroppedTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves Prometheus metrics plus liveness/readiness on a
// dedicated port, away from the API surface.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if b, err := json.Marshal(v); err == nil {
		_, _ = w.Write(b)
	}
}
