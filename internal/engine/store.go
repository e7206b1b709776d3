package engine

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/ledger"
	"github.com/miradorstack/mirador-sentry/internal/models"
)

// MetricStore is the read side of the time-series store used by detection and analysis.
type MetricStore interface {
	// SeriesFor returns the newest limit points for the pair, oldest first.
	SeriesFor(ctx context.Context, service, metric string, limit int) ([]models.MetricPoint, error)
	DistinctServices(ctx context.Context) ([]string, error)
	DistinctMetrics(ctx context.Context, service string) ([]string, error)
	// MetricWindow returns points inside [start-padding, end+padding], oldest first, capped at limit.
	MetricWindow(ctx context.Context, service, metric string, start, end time.Time, padding time.Duration, limit int) ([]models.MetricPoint, error)
}

// LogStore is the read side of the log store used by analysis.
type LogStore interface {
	// LogWindow returns entries inside [start-padding, end+padding], oldest first, capped at limit.
	LogWindow(ctx context.Context, service string, start, end time.Time, padding time.Duration, limit int) ([]models.LogEntry, error)
}

// IncidentLedger is the subset of the ledger the detection pipeline drives.
type IncidentLedger interface {
	Upsert(ctx context.Context, key, service, metric string, assessment models.AnomalyAssessment) (ledger.UpsertResult, error)
	CandidatePairs(ctx context.Context) ([]models.ServicePair, error)
}

// EventPublisher fans events out to live subscribers.
type EventPublisher interface {
	Publish(event models.Event) int
}
