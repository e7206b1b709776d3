package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/extractors"
	"github.com/miradorstack/mirador-sentry/internal/models"
)

// AnalyzerConfig tunes root-cause analysis. Zero values fall back to defaults.
type AnalyzerConfig struct {
	Padding        time.Duration
	MetricLimit    int
	LogLimit       int
	MinCorrelation float64
	MinAligned     int
	MaxHypotheses  int
}

func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	if c.Padding <= 0 {
		c.Padding = 10 * time.Minute
	}
	if c.MetricLimit <= 0 {
		c.MetricLimit = 240
	}
	if c.LogLimit <= 0 {
		c.LogLimit = 200
	}
	if c.MinCorrelation <= 0 {
		c.MinCorrelation = 0.65
	}
	if c.MinAligned <= 0 {
		c.MinAligned = 4
	}
	if c.MaxHypotheses <= 0 {
		c.MaxHypotheses = 3
	}
	return c
}

// RootCauseAnalyzer ranks explanations for an incident from correlated metrics,
// trend heuristics and log keywords. Output depends only on store contents.
type RootCauseAnalyzer struct {
	logger   *slog.Logger
	metrics  MetricStore
	logs     LogStore
	keywords *extractors.LogKeywordExtractor
	cfg      AnalyzerConfig
}

// NewRootCauseAnalyzer wires an analyzer. rules may be nil; logs may be nil when no log store exists.
func NewRootCauseAnalyzer(logger *slog.Logger, metricStore MetricStore, logStore LogStore, rules *RuleEngine, cfg AnalyzerConfig) *RootCauseAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RootCauseAnalyzer{
		logger:   logger,
		metrics:  metricStore,
		logs:     logStore,
		keywords: extractors.NewLogKeywordExtractor(rules.KeywordRules()),
		cfg:      cfg.withDefaults(),
	}
}

// Analyze returns at most MaxHypotheses hypotheses ordered by confidence.
// Store failures drop that source's evidence; only context cancellation is returned.
func (a *RootCauseAnalyzer) Analyze(ctx context.Context, inc models.Incident) (models.Analysis, error) {
	analysis := models.Analysis{
		IncidentID: inc.ID,
		Service:    inc.Service,
		Metric:     inc.Metric,
		Hypotheses: []models.Hypothesis{},
	}

	candidates := make([]models.Hypothesis, 0)

	primary := a.metricWindow(ctx, inc, inc.Metric)
	if len(primary) > 0 {
		for _, metric := range a.candidateMetrics(ctx, inc) {
			if metric == inc.Metric {
				continue
			}
			if h, ok := a.correlate(ctx, inc, primary, metric); ok {
				candidates = append(candidates, h)
			}
		}
		if h, ok := memoryTrendHypothesis(inc, primary); ok {
			candidates = append(candidates, h)
		}
	}

	candidates = append(candidates, a.logHypotheses(ctx, inc)...)

	if err := ctx.Err(); err != nil {
		return models.Analysis{}, err
	}

	analysis.Hypotheses = rankHypotheses(candidates, a.cfg.MaxHypotheses)
	return analysis, nil
}

func (a *RootCauseAnalyzer) candidateMetrics(ctx context.Context, inc models.Incident) []string {
	set := map[string]struct{}{inc.Metric: {}}
	for _, m := range models.RecognisedMetrics {
		set[m] = struct{}{}
	}
	if a.metrics != nil {
		known, err := a.metrics.DistinctMetrics(ctx, inc.Service)
		if err != nil {
			a.logger.Warn("metric catalog unavailable", slog.String("service", inc.Service), slog.Any("error", err))
		}
		for _, m := range known {
			set[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (a *RootCauseAnalyzer) metricWindow(ctx context.Context, inc models.Incident, metric string) []models.MetricPoint {
	if a.metrics == nil {
		return nil
	}
	series, err := a.metrics.MetricWindow(ctx, inc.Service, metric, inc.WindowStart, inc.WindowEnd, a.cfg.Padding, a.cfg.MetricLimit)
	if err != nil {
		a.logger.Warn("metric window unavailable",
			slog.String("service", inc.Service),
			slog.String("metric", metric),
			slog.Any("error", err))
		return nil
	}
	return series
}

func (a *RootCauseAnalyzer) correlate(ctx context.Context, inc models.Incident, primary []models.MetricPoint, metric string) (models.Hypothesis, bool) {
	series := a.metricWindow(ctx, inc, metric)
	if len(series) == 0 {
		return models.Hypothesis{}, false
	}
	left, right := alignByMinute(primary, series)
	if len(left) < a.cfg.MinAligned {
		return models.Hypothesis{}, false
	}
	r, ok := pearson(left, right)
	if !ok || abs(r) < a.cfg.MinCorrelation {
		return models.Hypothesis{}, false
	}
	return models.Hypothesis{
		Title:      correlationTitle(inc.Metric, metric, r),
		Confidence: correlationConfidence(r),
		Evidence: []models.Evidence{{
			Kind:   models.EvidenceMetric,
			Detail: fmt.Sprintf("%s and %s correlation %.2f across incident window", inc.Metric, metric, r),
		}},
	}, true
}

func (a *RootCauseAnalyzer) logHypotheses(ctx context.Context, inc models.Incident) []models.Hypothesis {
	if a.logs == nil {
		return nil
	}
	entries, err := a.logs.LogWindow(ctx, inc.Service, inc.WindowStart, inc.WindowEnd, a.cfg.Padding, a.cfg.LogLimit)
	if err != nil {
		a.logger.Warn("log window unavailable", slog.String("service", inc.Service), slog.Any("error", err))
		return nil
	}

	confidence := 55 + inc.Severity/4
	if confidence > 90 {
		confidence = 90
	}

	byTitle := make(map[string]int)
	out := make([]models.Hypothesis, 0)
	for _, match := range a.keywords.Detect(entries) {
		evidence := models.Evidence{
			Kind:   models.EvidenceLog,
			Detail: fmt.Sprintf("%s - %s", match.Entry.Timestamp.UTC().Format(time.RFC3339), match.Entry.Message),
		}
		idx, ok := byTitle[match.Rule.Title]
		if !ok {
			byTitle[match.Rule.Title] = len(out)
			out = append(out, models.Hypothesis{
				Title:      match.Rule.Title,
				Confidence: confidence,
				Evidence:   []models.Evidence{evidence},
			})
			continue
		}
		out[idx].Evidence = append(out[idx].Evidence, evidence)
		if confidence > out[idx].Confidence {
			out[idx].Confidence = confidence
		}
	}
	return out
}

// rankHypotheses stable-sorts by confidence, keeps the first hypothesis per title and caps the list.
func rankHypotheses(candidates []models.Hypothesis, limit int) []models.Hypothesis {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	seen := make(map[string]struct{}, len(candidates))
	ranked := make([]models.Hypothesis, 0, limit)
	for _, h := range candidates {
		if _, dup := seen[h.Title]; dup {
			continue
		}
		seen[h.Title] = struct{}{}
		ranked = append(ranked, h)
		if len(ranked) == limit {
			break
		}
	}
	return ranked
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
