package engine

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

const (
	memoryLeakTitle = "Memory leak / OOM risk"
	slopeThreshold  = 2.0
)

func isMemoryMetric(metric string) bool {
	return strings.HasPrefix(strings.ToLower(metric), "memory")
}

// slope is the average change per point between the first and last sample.
func slope(series []models.MetricPoint) float64 {
	if len(series) < 2 {
		return 0
	}
	return (series[len(series)-1].Value - series[0].Value) / float64(len(series)-1)
}

// memoryTrendHypothesis flags steadily growing memory over the incident window.
func memoryTrendHypothesis(inc models.Incident, series []models.MetricPoint) (models.Hypothesis, bool) {
	if !isMemoryMetric(inc.Metric) {
		return models.Hypothesis{}, false
	}
	s := slope(series)
	if s <= slopeThreshold {
		return models.Hypothesis{}, false
	}
	confidence := 60 + inc.Severity/3
	if confidence > 95 {
		confidence = 95
	}
	return models.Hypothesis{
		Title:      memoryLeakTitle,
		Confidence: confidence,
		Evidence: []models.Evidence{{
			Kind:   models.EvidenceMetric,
			Detail: fmt.Sprintf("Memory usage increased %.1f MB/minute during window", s),
		}},
	}, true
}
