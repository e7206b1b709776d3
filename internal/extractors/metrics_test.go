package extractors

import (
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

func buildSeries(metric string, values ...float64) []models.MetricPoint {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	series := make([]models.MetricPoint, 0, len(values))
	for i, v := range values {
		series = append(series, models.MetricPoint{
			Service:   "checkout",
			Metric:    metric,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Value:     v,
		})
	}
	return series
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestAnomalyDetectorLatencySpike(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	values := append(repeat(100, 20), repeat(400, 5)...)
	series := buildSeries(models.MetricLatencyP95, values...)

	assessment, ok := detector.Assess(models.MetricLatencyP95, series)
	if !ok {
		t.Fatalf("expected anomaly for latency spike")
	}
	if assessment.Severity != 100 {
		t.Fatalf("expected severity 100, got %d", assessment.Severity)
	}
	if assessment.Baseline != 100 || assessment.Observed != 400 {
		t.Fatalf("unexpected baseline/observed %v/%v", assessment.Baseline, assessment.Observed)
	}
	if !assessment.WindowStart.Equal(series[20].Timestamp) || !assessment.WindowEnd.Equal(series[24].Timestamp) {
		t.Fatalf("unexpected window %v - %v", assessment.WindowStart, assessment.WindowEnd)
	}
	if assessment.Detector != DetectorName {
		t.Fatalf("unexpected detector %s", assessment.Detector)
	}
	if !strings.HasPrefix(assessment.Summary, "latency_p95_ms deviated by 300.0%") {
		t.Fatalf("unexpected summary %q", assessment.Summary)
	}
}

func TestAnomalyDetectorInsufficientPoints(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	series := buildSeries(models.MetricLatencyP95, append(repeat(100, 14), repeat(400, 5)...)...)

	if _, outcome := detector.Evaluate(models.MetricLatencyP95, series); outcome != OutcomeInsufficient {
		t.Fatalf("expected insufficient outcome, got %s", outcome)
	}
}

func TestAnomalyDetectorPositiveOnlyDrop(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	series := buildSeries(models.MetricErrorRate, append(repeat(0.2, 20), repeat(0.01, 5)...)...)

	if _, ok := detector.Assess(models.MetricErrorRate, series); ok {
		t.Fatalf("drops on positive-only metrics must not alert")
	}
}

func TestAnomalyDetectorPositiveOnlyHeadroom(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	series := buildSeries(models.MetricCPU, append(repeat(50, 20), repeat(52, 5)...)...)

	if _, outcome := detector.Evaluate(models.MetricCPU, series); outcome != OutcomeNormal {
		t.Fatalf("expected normal outcome within headroom, got %s", outcome)
	}
}

func TestAnomalyDetectorZeroBaselineUsesEpsilon(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	series := buildSeries(models.MetricErrorRate, append(repeat(0, 20), repeat(0.3, 5)...)...)

	assessment, ok := detector.Assess(models.MetricErrorRate, series)
	if !ok {
		t.Fatalf("expected anomaly from a zero baseline")
	}
	if assessment.Baseline != epsilon {
		t.Fatalf("expected epsilon baseline, got %v", assessment.Baseline)
	}
	if assessment.Severity != 100 {
		t.Fatalf("expected clipped severity 100, got %d", assessment.Severity)
	}
}

func TestAnomalyDetectorTwoSidedMetricDrop(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	series := buildSeries("queue_depth", append(repeat(100, 20), repeat(10, 5)...)...)

	assessment, ok := detector.Assess("queue_depth", series)
	if !ok {
		t.Fatalf("expected anomaly for a drop on a two-sided metric")
	}
	if assessment.Observed != 10 {
		t.Fatalf("unexpected observed %v", assessment.Observed)
	}
}

func TestAnomalyDetectorMildDriftIsNormal(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	values := append(repeat(100, 20), 110, 112, 115, 111, 113)
	series := buildSeries(models.MetricLatencyP95, values...)

	if _, outcome := detector.Evaluate(models.MetricLatencyP95, series); outcome != OutcomeNormal {
		t.Fatalf("expected mild drift to stay below threshold, got %s", outcome)
	}
}

func TestAnomalyDetectorDoubledLatency(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{})
	series := buildSeries(models.MetricLatencyP95, append(repeat(100, 25), repeat(200, 5)...)...)

	assessment, outcome := detector.Evaluate(models.MetricLatencyP95, series)
	if outcome != OutcomeAnomalous {
		t.Fatalf("expected anomalous outcome, got %s", outcome)
	}
	if assessment.Severity != 70 {
		t.Fatalf("expected severity 70, got %d", assessment.Severity)
	}
	if assessment.Baseline != 100 || assessment.Observed != 200 {
		t.Fatalf("unexpected baseline/observed %v/%v", assessment.Baseline, assessment.Observed)
	}
	if !assessment.WindowStart.Equal(series[25].Timestamp) || !assessment.WindowEnd.Equal(series[29].Timestamp) {
		t.Fatalf("unexpected window %v - %v", assessment.WindowStart, assessment.WindowEnd)
	}
}

func TestAnomalyDetectorSeverityGrowsWithDeviation(t *testing.T) {
	detector := NewAnomalyDetector(DetectorConfig{Threshold: 1})
	baseline := make([]float64, 20)
	for i := range baseline {
		baseline[i] = 98
		if i%2 == 1 {
			baseline[i] = 102
		}
	}

	deltas := []float64{5, 10, 20, 40, 80, 160, 1000}
	previous := -1
	for _, delta := range deltas {
		values := append(append([]float64(nil), baseline...), repeat(100+delta, 5)...)
		assessment, outcome := detector.Evaluate("queue_depth", buildSeries("queue_depth", values...))
		if outcome != OutcomeAnomalous {
			t.Fatalf("delta %v: expected anomalous outcome, got %s", delta, outcome)
		}
		if assessment.Severity < 0 || assessment.Severity > 100 {
			t.Fatalf("delta %v: severity out of bounds: %d", delta, assessment.Severity)
		}
		if assessment.Severity < previous {
			t.Fatalf("delta %v: severity dropped from %d to %d", delta, previous, assessment.Severity)
		}
		previous = assessment.Severity
	}
	if previous != 100 {
		t.Fatalf("expected the largest deviation to clip at 100, got %d", previous)
	}
}

func TestLogKeywordExtractorDetect(t *testing.T) {
	extractor := NewLogKeywordExtractor(nil)
	entries := []models.LogEntry{
		{Message: "Upstream TIMEOUT talking to db"},
		{Message: "all good"},
		{Message: "worker killed", Context: map[string]any{"reason": "OOM"}},
	}

	matches := extractor.Detect(entries)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Rule.Title != "Likely DB saturation or downstream timeout" {
		t.Fatalf("unexpected first title %q", matches[0].Rule.Title)
	}
	if matches[1].Rule.Title != "Memory leak / OOM risk" {
		t.Fatalf("unexpected second title %q", matches[1].Rule.Title)
	}
}
