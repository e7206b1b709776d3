package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

var analysisStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func latencyIncident(severity int) models.Incident {
	return models.Incident{
		ID:          7,
		Key:         "checkout:latency_p95_ms",
		Service:     "checkout",
		Metric:      models.MetricLatencyP95,
		Severity:    severity,
		WindowStart: analysisStart.Add(20 * time.Minute),
		WindowEnd:   analysisStart.Add(24 * time.Minute),
		Status:      models.StatusOpen,
	}
}

func correlatedStore() *fakeStore {
	store := newFakeStore()
	latency := make([]float64, 25)
	errorsRate := make([]float64, 25)
	cpu := make([]float64, 25)
	for i := range latency {
		latency[i] = 100 + float64(i*i)
		errorsRate[i] = 0.01 + float64(i*i)/1000
		cpu[i] = 40
	}
	store.add("checkout", models.MetricLatencyP95, analysisStart, time.Minute, latency...)
	store.add("checkout", models.MetricErrorRate, analysisStart.Add(15*time.Second), time.Minute, errorsRate...)
	store.add("checkout", models.MetricCPU, analysisStart, time.Minute, cpu...)
	return store
}

func TestAnalyzeCorrelatedMetrics(t *testing.T) {
	store := correlatedStore()
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})

	analysis, err := analyzer.Analyze(context.Background(), latencyIncident(80))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.IncidentID != 7 || analysis.Service != "checkout" {
		t.Fatalf("unexpected envelope %+v", analysis)
	}
	if len(analysis.Hypotheses) != 1 {
		t.Fatalf("expected 1 hypothesis, got %+v", analysis.Hypotheses)
	}
	top := analysis.Hypotheses[0]
	if top.Title != "Likely DB saturation impacting latency" {
		t.Fatalf("unexpected title %q", top.Title)
	}
	if top.Confidence != 95 {
		t.Fatalf("expected capped confidence 95, got %d", top.Confidence)
	}
	if len(top.Evidence) != 1 || top.Evidence[0].Kind != models.EvidenceMetric {
		t.Fatalf("expected one metric evidence, got %+v", top.Evidence)
	}
	if top.Evidence[0].Detail != "latency_p95_ms and error_rate correlation 1.00 across incident window" {
		t.Fatalf("unexpected evidence %q", top.Evidence[0].Detail)
	}
	for _, padding := range store.windows {
		if padding != 10*time.Minute {
			t.Fatalf("expected 10m padding, got %v", padding)
		}
	}
}

func TestAnalyzeScenarioErrorRateCPU(t *testing.T) {
	store := newFakeStore()
	rates := make([]float64, 15)
	cpu := make([]float64, 15)
	for i := range rates {
		rates[i] = 0.01 * float64(i+1)
		jitter := 4.0
		if i%2 == 1 {
			jitter = -4
		}
		cpu[i] = 40 + 2*float64(i) + jitter
	}
	windowStart := analysisStart.Add(10 * time.Minute)
	store.add("checkout", models.MetricErrorRate, windowStart, time.Minute, rates...)
	store.add("checkout", models.MetricCPU, windowStart.Add(20*time.Second), time.Minute, cpu...)

	r := stat.Correlation(rates, cpu, nil)
	if r < 0.85 || r > 0.94 {
		t.Fatalf("fixture correlation drifted: %v", r)
	}

	inc := latencyIncident(70)
	inc.Key, inc.Metric = "checkout:error_rate", models.MetricErrorRate
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})
	analysis, err := analyzer.Analyze(context.Background(), inc)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	want := []models.Hypothesis{{
		Title:      "cpu_pct positive correlation",
		Confidence: int(math.Round(r * 100)),
		Evidence: []models.Evidence{{
			Kind:   models.EvidenceMetric,
			Detail: fmt.Sprintf("error_rate and cpu_pct correlation %.2f across incident window", r),
		}},
	}}
	if diff := cmp.Diff(want, analysis.Hypotheses); diff != "" {
		t.Fatalf("hypotheses mismatch (-want +got):\n%s", diff)
	}
	if c := analysis.Hypotheses[0].Confidence; c < 85 || c >= 95 {
		t.Fatalf("expected an uncapped confidence near 90, got %d", c)
	}
}

func TestAnalyzeLogKeywords(t *testing.T) {
	store := correlatedStore()
	resetAt := analysisStart.Add(22 * time.Minute)
	store.logs["checkout"] = []models.LogEntry{
		{Service: "checkout", Timestamp: resetAt, Message: "connection reset by peer"},
		{Service: "checkout", Timestamp: resetAt.Add(time.Minute), Message: "ok", Context: map[string]any{"upstream": "Connection Reset"}},
		{Service: "checkout", Timestamp: analysisStart.Add(-time.Hour), Message: "connection reset long ago"},
	}
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})

	analysis, err := analyzer.Analyze(context.Background(), latencyIncident(80))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(analysis.Hypotheses) != 2 {
		t.Fatalf("expected correlation and log hypotheses, got %+v", analysis.Hypotheses)
	}
	logHyp := analysis.Hypotheses[1]
	if logHyp.Title != "Downstream dependency failure" {
		t.Fatalf("unexpected title %q", logHyp.Title)
	}
	if logHyp.Confidence != 75 {
		t.Fatalf("expected confidence 75, got %d", logHyp.Confidence)
	}
	if len(logHyp.Evidence) != 2 {
		t.Fatalf("expected two log evidence items, got %+v", logHyp.Evidence)
	}
	want := resetAt.Format(time.RFC3339) + " - connection reset by peer"
	if logHyp.Evidence[0].Kind != models.EvidenceLog || logHyp.Evidence[0].Detail != want {
		t.Fatalf("unexpected evidence %+v", logHyp.Evidence[0])
	}
}

func TestAnalyzeLogStoreFailureKeepsMetricEvidence(t *testing.T) {
	store := correlatedStore()
	store.logErr = errors.New("log store offline")
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})

	analysis, err := analyzer.Analyze(context.Background(), latencyIncident(80))
	if err != nil {
		t.Fatalf("store failures must not fail analysis: %v", err)
	}
	if len(analysis.Hypotheses) != 1 || analysis.Hypotheses[0].Evidence[0].Kind != models.EvidenceMetric {
		t.Fatalf("expected metric-only hypotheses, got %+v", analysis.Hypotheses)
	}
}

func TestAnalyzeEmptyStores(t *testing.T) {
	analyzer := NewRootCauseAnalyzer(nil, newFakeStore(), nil, nil, AnalyzerConfig{})
	analysis, err := analyzer.Analyze(context.Background(), latencyIncident(60))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if analysis.Hypotheses == nil || len(analysis.Hypotheses) != 0 {
		t.Fatalf("expected empty hypothesis list, got %+v", analysis.Hypotheses)
	}
}

func TestAnalyzeMemoryTrend(t *testing.T) {
	store := newFakeStore()
	memory := make([]float64, 25)
	for i := range memory {
		memory[i] = 500 + float64(i)*5
	}
	store.add("worker", models.MetricMemoryRSS, analysisStart, time.Minute, memory...)
	store.logs["worker"] = []models.LogEntry{{Service: "worker", Timestamp: analysisStart.Add(21 * time.Minute), Message: "OOM killer invoked"}}
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})

	inc := models.Incident{
		ID: 3, Service: "worker", Metric: models.MetricMemoryRSS, Severity: 90,
		WindowStart: analysisStart.Add(20 * time.Minute), WindowEnd: analysisStart.Add(24 * time.Minute),
	}
	analysis, err := analyzer.Analyze(context.Background(), inc)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(analysis.Hypotheses) != 1 {
		t.Fatalf("expected titles to be deduplicated, got %+v", analysis.Hypotheses)
	}
	h := analysis.Hypotheses[0]
	if h.Title != "Memory leak / OOM risk" || h.Confidence != 90 {
		t.Fatalf("unexpected hypothesis %+v", h)
	}
	if !strings.Contains(h.Evidence[0].Detail, "5.0 MB/minute") {
		t.Fatalf("expected slope evidence, got %q", h.Evidence[0].Detail)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	store := correlatedStore()
	store.logs["checkout"] = []models.LogEntry{
		{Service: "checkout", Timestamp: analysisStart.Add(21 * time.Minute), Message: "dns lookup timeout"},
	}
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})
	inc := latencyIncident(70)

	first, err := analyzer.Analyze(context.Background(), inc)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := analyzer.Analyze(context.Background(), inc)
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("analysis changed between runs (-first +again):\n%s", diff)
		}
	}
	if len(first.Hypotheses) != 3 {
		t.Fatalf("expected 3 hypotheses, got %+v", first.Hypotheses)
	}
}

func TestAnalyzeCancelledContext(t *testing.T) {
	store := correlatedStore()
	analyzer := NewRootCauseAnalyzer(nil, store, store, nil, AnalyzerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := analyzer.Analyze(ctx, latencyIncident(80)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRankHypothesesStableAndCapped(t *testing.T) {
	ranked := rankHypotheses([]models.Hypothesis{
		{Title: "a", Confidence: 70},
		{Title: "b", Confidence: 90},
		{Title: "a", Confidence: 95},
		{Title: "c", Confidence: 70},
		{Title: "d", Confidence: 60},
	}, 3)
	titles := make([]string, 0, len(ranked))
	for _, h := range ranked {
		titles = append(titles, h.Title)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, titles); diff != "" {
		t.Fatalf("unexpected ranking (-want +got):\n%s", diff)
	}
	if ranked[0].Confidence != 95 {
		t.Fatalf("expected highest-confidence duplicate to win")
	}
}
