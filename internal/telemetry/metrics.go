package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "protocol_jobs_submitted_total", Help: "Jobs accepted by the API"})
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "protocol_jobs_dispatch_failures_total", Help: "Jobs stored but not handed to the queue"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "protocol_rate_limit_rejects_total", Help: "Submissions rejected by rate limiter"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "protocol_jobs_completed_total", Help: "Jobs that produced a protocol"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "protocol_jobs_failed_total", Help: "Jobs marked failed, by error kind"}, []string{"kind"})
	JobsSkipped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "protocol_jobs_skipped_total", Help: "Deliveries for jobs already in a terminal state"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "protocol_jobs_inflight", Help: "Jobs currently being processed"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "protocol_queue_depth", Help: "Jobs waiting in the ready queue"})
	RetentionDeleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "protocol_retention_deleted_total", Help: "Jobs removed by the retention sweep"})
	StageDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "protocol_stage_duration_seconds",
		Help:    "Time spent per pipeline stage",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900, 1800},
	}, []string{"stage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			DispatchFailures,
			RateLimitRejects,
			JobsCompleted,
			JobsFailed,
			JobsSkipped,
			InFlightGauge,
			QueueDepthGauge,
			RetentionDeleted,
			StageDuration,
		)
	})
	return promhttp.Handler()
}

// ObserveStage records how long a pipeline stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
