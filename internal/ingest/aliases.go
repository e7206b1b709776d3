// Package ingest normalises incoming metric batches and parses raw log lines.
package ingest

import (
	"math"
	"strings"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

var metricAliases = map[string]string{
	"latency_p95":    models.MetricLatencyP95,
	"p95_latency_ms": models.MetricLatencyP95,
	"latency_ms_p95": models.MetricLatencyP95,
	"errors_rate":    models.MetricErrorRate,
	"err_rate":       models.MetricErrorRate,
	"cpu":            models.MetricCPU,
	"cpu_percent":    models.MetricCPU,
	"cpu_usage":      models.MetricCPU,
	"rss_mb":         models.MetricMemoryRSS,
	"memory_rss":     models.MetricMemoryRSS,
	"memory_mb":      models.MetricMemoryRSS,
	"mem_rss_mb":     models.MetricMemoryRSS,
}

// CanonicalMetric maps known aliases onto the recognised metric names.
// Unknown names are lower-cased and trimmed but otherwise kept.
func CanonicalMetric(name string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := metricAliases[cleaned]; ok {
		return canonical
	}
	return cleaned
}

// NormalizeMetrics canonicalises metric names and drops points that cannot be stored.
func NormalizeMetrics(points []models.MetricPoint) (kept []models.MetricPoint, skipped int) {
	kept = make([]models.MetricPoint, 0, len(points))
	for _, p := range points {
		p.Service = strings.TrimSpace(p.Service)
		p.Metric = CanonicalMetric(p.Metric)
		if p.Service == "" || p.Metric == "" || p.Timestamp.IsZero() || math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			skipped++
			continue
		}
		p.Timestamp = p.Timestamp.UTC()
		kept = append(kept, p)
	}
	return kept, skipped
}

// NormalizeLogs drops entries without a service or timestamp and upper-cases levels.
func NormalizeLogs(entries []models.LogEntry) (kept []models.LogEntry, skipped int) {
	kept = make([]models.LogEntry, 0, len(entries))
	for _, e := range entries {
		e.Service = strings.TrimSpace(e.Service)
		if e.Service == "" || e.Timestamp.IsZero() {
			skipped++
			continue
		}
		e.Level = strings.ToUpper(strings.TrimSpace(e.Level))
		if e.Level == "" {
			e.Level = DefaultLevel
		}
		e.Timestamp = e.Timestamp.UTC()
		kept = append(kept, e)
	}
	return kept, skipped
}

// AffectedPairs returns the distinct recognised pairs touched by a batch, in first-seen order.
func AffectedPairs(points []models.MetricPoint) []models.ServicePair {
	seen := make(map[string]struct{})
	var pairs []models.ServicePair
	for _, p := range points {
		if !models.IsRecognisedMetric(p.Metric) {
			continue
		}
		pair := models.ServicePair{Service: p.Service, Metric: p.Metric}
		if _, ok := seen[pair.Key()]; ok {
			continue
		}
		seen[pair.Key()] = struct{}{}
		pairs = append(pairs, pair)
	}
	return pairs
}
