package extractors

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// DetectorName is recorded on every assessment produced by AnomalyDetector.
const DetectorName = "zscore_ewma"

const (
	defaultWindowSize = 5
	defaultMinPoints  = 20
	defaultThreshold  = 55
	epsilon           = 1e-6
	ewmaAlpha         = 0.3
	positiveHeadroom  = 1.05
)

// positiveOnly metrics only alert on increases.
var positiveOnly = map[string]struct{}{
	models.MetricLatencyP95: {},
	models.MetricErrorRate:  {},
	models.MetricCPU:        {},
	models.MetricMemoryRSS:  {},
}

// Outcome classifies a detector evaluation for telemetry.
type Outcome string

const (
	OutcomeInsufficient Outcome = "insufficient"
	OutcomeNormal       Outcome = "normal"
	OutcomeAnomalous    Outcome = "anomalous"
)

// DetectorConfig tunes AnomalyDetector. Zero values fall back to defaults.
type DetectorConfig struct {
	WindowSize int
	MinPoints  int
	Threshold  int
}

// AnomalyDetector blends percentage change, z-score and EWMA deviation into a 0-100 severity.
type AnomalyDetector struct {
	windowSize int
	minPoints  int
	threshold  int
}

// NewAnomalyDetector creates a detector with the supplied tuning.
func NewAnomalyDetector(cfg DetectorConfig) *AnomalyDetector {
	d := &AnomalyDetector{
		windowSize: cfg.WindowSize,
		minPoints:  cfg.MinPoints,
		threshold:  cfg.Threshold,
	}
	if d.windowSize <= 0 {
		d.windowSize = defaultWindowSize
	}
	if d.minPoints <= 0 {
		d.minPoints = defaultMinPoints
	}
	if d.threshold <= 0 {
		d.threshold = defaultThreshold
	}
	return d
}

// Assess returns an assessment when the tail of series deviates from its baseline.
// The series must be ordered by timestamp.
func (d *AnomalyDetector) Assess(metric string, series []models.MetricPoint) (models.AnomalyAssessment, bool) {
	assessment, outcome := d.Evaluate(metric, series)
	return assessment, outcome == OutcomeAnomalous
}

// Evaluate behaves like Assess but also reports why no anomaly was emitted.
func (d *AnomalyDetector) Evaluate(metric string, series []models.MetricPoint) (models.AnomalyAssessment, Outcome) {
	required := d.windowSize * 2
	if d.minPoints > required {
		required = d.minPoints
	}
	if len(series) < required {
		return models.AnomalyAssessment{}, OutcomeInsufficient
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}

	baselineWindow := values[:len(values)-d.windowSize]
	recent := values[len(values)-d.windowSize:]

	tail := baselineWindow
	if len(tail) > d.windowSize*3 {
		tail = tail[len(tail)-d.windowSize*3:]
	}
	baseline := stat.Mean(tail, nil)
	observed := stat.Mean(recent, nil)

	if _, ok := positiveOnly[metric]; ok {
		if baseline == 0 {
			baseline = epsilon
		}
		if observed <= baseline*positiveHeadroom {
			return models.AnomalyAssessment{}, OutcomeNormal
		}
	}

	z := math.Abs(zScore(baselineWindow, observed))
	ewmaDelta := math.Abs(observed - ewma(baselineWindow))
	scale := math.Abs(baseline) + epsilon
	pct := math.Abs(observed-baseline) / scale

	score := pct*45 + z*20 + (ewmaDelta/scale)*25
	severity := int(math.RoundToEven(math.Min(100, math.Max(0, score))))
	if severity < d.threshold {
		return models.AnomalyAssessment{}, OutcomeNormal
	}

	first := series[len(series)-d.windowSize]
	last := series[len(series)-1]
	return models.AnomalyAssessment{
		Severity:    severity,
		Baseline:    baseline,
		Observed:    observed,
		WindowStart: first.Timestamp,
		WindowEnd:   last.Timestamp,
		Detector:    DetectorName,
		Summary: fmt.Sprintf("%s deviated by %.1f%% (baseline %.2f, observed %.2f)",
			metric, pct*100, baseline, observed),
	}, OutcomeAnomalous
}

func zScore(window []float64, observed float64) float64 {
	if len(window) < 2 {
		return 0
	}
	mean, sigma := stat.PopMeanStdDev(window, nil)
	if sigma == 0 || math.IsNaN(sigma) {
		return 0
	}
	return (observed - mean) / sigma
}

func ewma(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	estimate := window[0]
	for _, v := range window[1:] {
		estimate = ewmaAlpha*v + (1-ewmaAlpha)*estimate
	}
	return estimate
}
