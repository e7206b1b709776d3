package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful analyses.
	OutcomeSuccess = "success"
	// OutcomeError labels failed analyses or detections (store or dependency issues).
	OutcomeError = "error"
)

const namespace = "mirador_sentry"

var (
	detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detector evaluations, partitioned by outcome (insufficient, normal, anomalous, error).",
		},
		[]string{"outcome"},
	)

	incidentsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents opened by the ledger.",
		},
	)

	incidentsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_resolved_total",
			Help:      "Incidents resolved through the API.",
		},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Root-cause analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_seconds",
			Help:      "Root-cause analysis latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the hub, partitioned by type.",
		},
		[]string{"type"},
	)

	hubSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Currently registered live event subscribers.",
		},
	)

	ingestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Ingested records, partitioned by kind (metric, log).",
		},
		[]string{"kind"},
	)
)

// Register attaches mirador-sentry collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		detectionsTotal,
		incidentsCreatedTotal,
		incidentsResolvedTotal,
		analysesTotal,
		analysisDurationSeconds,
		eventsPublishedTotal,
		hubSubscribers,
		ingestedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveDetection counts one detector evaluation.
func ObserveDetection(outcome string) {
	if outcome == "" {
		outcome = OutcomeError
	}
	detectionsTotal.WithLabelValues(outcome).Inc()
}

// IncidentCreated counts a newly opened incident.
func IncidentCreated() { incidentsCreatedTotal.Inc() }

// IncidentResolved counts a resolve call.
func IncidentResolved() { incidentsResolvedTotal.Inc() }

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// EventPublished counts a hub publish by event type.
func EventPublished(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// SetSubscribers reports the current hub subscriber count.
func SetSubscribers(n int) {
	hubSubscribers.Set(float64(n))
}

// AddIngested counts ingested records of a kind.
func AddIngested(kind string, n int) {
	if n <= 0 {
		return
	}
	ingestedTotal.WithLabelValues(kind).Add(float64(n))
}
