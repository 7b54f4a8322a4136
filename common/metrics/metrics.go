// Package metrics registers the Prometheus series shared by the server and
// the worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brokerdesk"

var (
	// JobTotalDuration is enqueue to send, the figure the reply SLA is judged on.
	JobTotalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reply",
		Name:      "total_duration_seconds",
		Help:      "Time from queueing an inbound message to sending the reply",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60},
	}, []string{"priority"})

	JobStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reply",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each reply stage (queue_wait, generate, send)",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30},
	}, []string{"stage"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reply",
		Name:      "jobs_total",
		Help:      "Reply jobs by outcome (sent, fallback, failed, requeued, dlq, skipped)",
	}, []string{"outcome"})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "responder",
		Name:      "generations_total",
		Help:      "LLM generations by model tier and outcome",
	}, []string{"tier", "outcome"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half open)",
	}, []string{"name"})

	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "breaker",
		Name:      "rejections_total",
		Help:      "Calls rejected without being attempted because the circuit was open",
	}, []string{"name"})

	BrokerReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "brokers",
		Name:      "reservations_total",
		Help:      "Broker capacity operations by outcome",
	}, []string{"op", "outcome"})

	LeadsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "leads",
		Name:      "scored_total",
		Help:      "Scored lead submissions by gate and segment",
	}, []string{"gate", "segment"})
)

func ObserveStage(stage string, d time.Duration) {
	if d < 0 {
		return
	}
	JobStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer exposes Handler at path on addr, for binaries without an HTTP
// router of their own.
func NewServer(addr, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
