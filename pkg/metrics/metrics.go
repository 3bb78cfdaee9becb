package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicemetrics"

var (
	// EventsRecorded counts accepted stage events by stage.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "events_total",
		Help:      "Stage events accepted by the recorder.",
	}, []string{"stage"})

	// EventsDropped counts rejected events by reason.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "events_dropped_total",
		Help:      "Stage events dropped before recording.",
	}, []string{"reason"})

	// LatencySamples counts derived user-latency samples.
	LatencySamples = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "latency_samples_total",
		Help:      "User-experienced latency samples produced by the correlator.",
	})

	// SyncRuns counts full sync passes by outcome.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Full sync passes by outcome.",
	}, []string{"outcome"})

	// SyncCandidates counts per-candidate sync results.
	SyncCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "candidates_total",
		Help:      "Sync candidates processed by result.",
	}, []string{"result"})

	// SyncRecordsCreated counts durable rows created by sync.
	SyncRecordsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "records_created_total",
		Help:      "Durable records created by the reconciliation engine.",
	})

	// SyncDuration observes full-pass wall time.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of full sync passes.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// RegisterActiveCalls exposes the live session count as a gauge.
func RegisterActiveCalls(count func() float64) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "active_calls",
		Help:      "Calls currently tracked in memory.",
	}, count)
}

// Route mounts the prometheus scrape endpoint.
func Route(r *gin.Engine, path string) {
	r.GET(path, gin.WrapH(promhttp.Handler()))
}
