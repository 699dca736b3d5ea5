package alerting

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineHooks are optional callbacks fired by the engine and monitor. Nil
// fields are skipped.
type EngineHooks struct {
	OnIngest        func(outcome string, duration float64)
	OnConflict      func()
	OnEnrichFailure func(source string)
	OnEscalate      func(level int)
	OnNotify        func(outcome string)
	OnSweep         func(duration float64, scanned, escalated int)
	OnTransition    func(to Status)
}

// Metrics holds Prometheus metrics for the alert decision engine.
type Metrics struct {
	IngestTotal       *prometheus.CounterVec
	IngestDuration    *prometheus.HistogramVec
	ConflictsTotal    prometheus.Counter
	EnrichFailures    *prometheus.CounterVec
	EscalationsTotal  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	SweepScanned      prometheus.Histogram
	SweepEscalated    prometheus.Histogram
	TransitionsTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pams_ingest_total",
			Help: "Total candidate ingestions by outcome.",
		}, []string{"outcome"}),
		IngestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pams_ingest_duration_seconds",
			Help:    "Duration of candidate ingestion in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"outcome"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pams_ingest_conflicts_total",
			Help: "Compare-and-swap conflicts retried during ingestion.",
		}),
		EnrichFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pams_enrichment_failures_total",
			Help: "Enrichment sources that were unavailable, by source.",
		}, []string{"source"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pams_escalations_total",
			Help: "Alerts escalated by the monitor, by new level.",
		}, []string{"level"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pams_notifications_total",
			Help: "Notification requests by outcome.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pams_escalation_sweep_duration_seconds",
			Help:    "Duration of escalation sweeps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
		SweepScanned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pams_escalation_sweep_scanned",
			Help:    "Active alerts scanned per sweep.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 .. ~16k
		}),
		SweepEscalated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pams_escalation_sweep_escalated",
			Help:    "Alerts escalated per sweep.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pams_status_transitions_total",
			Help: "Alert status transitions by target status.",
		}, []string{"to"}),
	}

	reg.MustRegister(
		m.IngestTotal,
		m.IngestDuration,
		m.ConflictsTotal,
		m.EnrichFailures,
		m.EscalationsTotal,
		m.NotificationsSent,
		m.SweepDuration,
		m.SweepScanned,
		m.SweepEscalated,
		m.TransitionsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that updates the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnIngest: func(outcome string, duration float64) {
			m.IngestTotal.WithLabelValues(outcome).Inc()
			m.IngestDuration.WithLabelValues(outcome).Observe(duration)
		},
		OnConflict: func() {
			m.ConflictsTotal.Inc()
		},
		OnEnrichFailure: func(source string) {
			m.EnrichFailures.WithLabelValues(source).Inc()
		},
		OnEscalate: func(level int) {
			m.EscalationsTotal.WithLabelValues(strconv.Itoa(level)).Inc()
		},
		OnNotify: func(outcome string) {
			m.NotificationsSent.WithLabelValues(outcome).Inc()
		},
		OnSweep: func(duration float64, scanned, escalated int) {
			m.SweepDuration.Observe(duration)
			m.SweepScanned.Observe(float64(scanned))
			m.SweepEscalated.Observe(float64(escalated))
		},
		OnTransition: func(to Status) {
			m.TransitionsTotal.WithLabelValues(string(to)).Inc()
		},
	}
}
