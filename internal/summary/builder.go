// Package summary aggregates per-service dashboards from stored series and open incidents.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// SparklineLimit bounds the points returned per sparkline.
const SparklineLimit = 30

// SparklineMetrics are the metrics rendered as sparklines.
var SparklineMetrics = []string{models.MetricLatencyP95, models.MetricErrorRate}

// SeriesSource reads stored metric series.
type SeriesSource interface {
	DistinctServices(ctx context.Context) ([]string, error)
	SeriesFor(ctx context.Context, service, metric string, limit int) ([]models.MetricPoint, error)
}

// IncidentSource lists open incidents.
type IncidentSource interface {
	ListOpen(ctx context.Context, limit int) ([]models.Incident, error)
}

// Builder produces service summaries.
type Builder struct {
	series    SeriesSource
	incidents IncidentSource
	logger    *slog.Logger
}

// NewBuilder constructs a Builder; incidents may be nil.
func NewBuilder(logger *slog.Logger, series SeriesSource, incidents IncidentSource) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{series: series, incidents: incidents, logger: logger}
}

// Build returns one summary per known service, sorted by service name.
// Series read failures leave the affected metric out rather than failing the summary.
func (b *Builder) Build(ctx context.Context) ([]models.ServiceSummary, error) {
	services, err := b.series.DistinctServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	sort.Strings(services)

	openByService := make(map[string]int)
	if b.incidents != nil {
		open, err := b.incidents.ListOpen(ctx, 0)
		if err != nil {
			b.logger.Warn("open incident lookup failed", slog.Any("error", err))
		}
		for _, inc := range open {
			openByService[inc.Service]++
		}
	}

	summaries := make([]models.ServiceSummary, 0, len(services))
	for _, service := range services {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summaries = append(summaries, b.buildOne(ctx, service, openByService[service]))
	}
	return summaries, nil
}

func (b *Builder) buildOne(ctx context.Context, service string, open int) models.ServiceSummary {
	s := models.ServiceSummary{
		Service:       service,
		Latest:        make(map[string]float64),
		Sparklines:    make(map[string][]float64),
		OpenIncidents: open,
	}

	for _, metric := range models.RecognisedMetrics {
		limit := 1
		if isSparkline(metric) {
			limit = SparklineLimit
		}
		points, err := b.series.SeriesFor(ctx, service, metric, limit)
		if err != nil {
			b.logger.Debug("summary series read failed",
				slog.String("service", service),
				slog.String("metric", metric),
				slog.Any("error", err),
			)
			continue
		}
		if len(points) == 0 {
			continue
		}
		s.Latest[metric] = points[len(points)-1].Value
		if isSparkline(metric) {
			values := make([]float64, len(points))
			for i, p := range points {
				values[i] = p.Value
			}
			s.Sparklines[metric] = values
		}
	}
	return s
}

func isSparkline(metric string) bool {
	for _, m := range SparklineMetrics {
		if m == metric {
			return true
		}
	}
	return false
}
