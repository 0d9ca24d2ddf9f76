// Package metrics registers the internal prometheus instruments tracked
// regardless of whether an HTTP /metrics endpoint is ever served (spec §1
// places the web surface out of scope, but ambient observability is
// carried anyway — see SPEC_FULL's ambient stack section). Grounded on the
// teacher's use of client_golang in its job-queue instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every gauge/counter/histogram this module exposes.
type Registry struct {
	QueueDepth          prometheus.Gauge
	TranscodeJobsByStat *prometheus.CounterVec
	ReconcileDuration   prometheus.Histogram
	ReconcileInserted   prometheus.Counter
	ReconcileRemoved    prometheus.Counter
	PlexEventsIngested  *prometheus.CounterVec
	TraktSyncErrors     *prometheus.CounterVec
}

// NewRegistry builds and registers a Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "moviecollection",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of entries currently in the playback queue.",
		}),
		TranscodeJobsByStat: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moviecollection",
			Subsystem: "transcode",
			Name:      "jobs_total",
			Help:      "Transcode/move jobs processed, labeled by outcome.",
		}, []string{"job_type", "outcome"}),
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "moviecollection",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of a Reconciliation Pass run.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReconcileInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moviecollection",
			Subsystem: "reconcile",
			Name:      "inserted_total",
			Help:      "Collection entries inserted by the Reconciliation Pass.",
		}),
		ReconcileRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "moviecollection",
			Subsystem: "reconcile",
			Name:      "removed_total",
			Help:      "Collection entries soft-deleted by the Reconciliation Pass.",
		}),
		PlexEventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moviecollection",
			Subsystem: "plex",
			Name:      "events_ingested_total",
			Help:      "Plex webhook events ingested, labeled by event type.",
		}, []string{"event"}),
		TraktSyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moviecollection",
			Subsystem: "trakt",
			Name:      "sync_errors_total",
			Help:      "Trakt Sync errors, labeled by sync phase.",
		}, []string{"phase"}),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.TranscodeJobsByStat,
		m.ReconcileDuration,
		m.ReconcileInserted,
		m.ReconcileRemoved,
		m.PlexEventsIngested,
		m.TraktSyncErrors,
	)
	return m
}
