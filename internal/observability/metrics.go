package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// reconciliation engine.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec // labels: outcome={success,snapshot_error,save_error}
	CycleDuration    prometheus.Histogram
	SnapshotSize     prometheus.Histogram
	IncidentsTracked prometheus.Gauge

	// Notification delivery metrics.
	NotificationsSent   prometheus.Counter
	NotificationsEdited prometheus.Counter
	NotificationErrors  *prometheus.CounterVec // labels: op={send,edit}

	// Lifecycle metrics.
	IncidentsClosed  prometheus.Counter
	IncidentsMerged  prometheus.Counter
	NarrativeErrors  prometheus.Counter
	RecordsPruned    prometheus.Counter

	// Event sink metrics.
	EventsPublished prometheus.Counter
	SinkEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "cycles_total",
			Help:      "Completed polling cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cad_notifier",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete poll-reconcile-persist cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		SnapshotSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cad_notifier",
			Name:      "snapshot_size",
			Help:      "Number of matching incidents per feed snapshot.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 50, 75, 100},
		}),
		IncidentsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cad_notifier",
			Name:      "incidents_tracked",
			Help:      "Incidents currently held in the tracking table.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "notifications_sent_total",
			Help:      "Total new notification messages sent.",
		}),
		NotificationsEdited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "notifications_edited_total",
			Help:      "Total in-place notification edits.",
		}),
		NotificationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "notification_errors_total",
			Help:      "Notification delivery failures by operation.",
		}, []string{"op"}),
		IncidentsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "incidents_closed_total",
			Help:      "Incidents closed after dropping off the feed.",
		}),
		IncidentsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "incidents_merged_total",
			Help:      "Incidents merged into a nearby tracked incident.",
		}),
		NarrativeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "narrative_fetch_errors_total",
			Help:      "Failed detail narrative fetches.",
		}),
		RecordsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "records_pruned_total",
			Help:      "Tracking records dropped by day or retention pruning.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cad_notifier",
			Name:      "events_published_total",
			Help:      "Lifecycle events published to the Kafka sink.",
		}),
		SinkEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cad_notifier",
			Name:      "sink_enabled",
			Help:      "1 when the Kafka event sink is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.SnapshotSize,
		m.IncidentsTracked,
		m.NotificationsSent,
		m.NotificationsEdited,
		m.NotificationErrors,
		m.IncidentsClosed,
		m.IncidentsMerged,
		m.NarrativeErrors,
		m.RecordsPruned,
		m.EventsPublished,
		m.SinkEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CyclesTotal:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "cycles_total"}, []string{"outcome"}),
		CycleDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "cad_notifier", Name: "cycle_duration_seconds"}),
		SnapshotSize:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "cad_notifier", Name: "snapshot_size"}),
		IncidentsTracked:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "cad_notifier", Name: "incidents_tracked"}),
		NotificationsSent:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "notifications_sent_total"}),
		NotificationsEdited: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "notifications_edited_total"}),
		NotificationErrors:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "notification_errors_total"}, []string{"op"}),
		IncidentsClosed:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "incidents_closed_total"}),
		IncidentsMerged:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "incidents_merged_total"}),
		NarrativeErrors:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "narrative_fetch_errors_total"}),
		RecordsPruned:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "records_pruned_total"}),
		EventsPublished:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "cad_notifier", Name: "events_published_total"}),
		SinkEnabled:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "cad_notifier", Name: "sink_enabled"}),
	}
}
