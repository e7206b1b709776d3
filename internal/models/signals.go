package models

import "time"

// Recognised metric names. Only these are bootstrapped as detection candidates.
const (
	MetricLatencyP95 = "latency_p95_ms"
	MetricErrorRate  = "error_rate"
	MetricCPU        = "cpu_pct"
	MetricMemoryRSS  = "memory_rss_mb"
)

// RecognisedMetrics is the allow-list in sorted order.
var RecognisedMetrics = []string{MetricCPU, MetricErrorRate, MetricLatencyP95, MetricMemoryRSS}

// IsRecognisedMetric reports whether metric is on the allow-list.
func IsRecognisedMetric(metric string) bool {
	for _, m := range RecognisedMetrics {
		if m == metric {
			return true
		}
	}
	return false
}

// MetricPoint is a single sample for a (service, metric) pair.
type MetricPoint struct {
	Service   string    `json:"service"`
	Metric    string    `json:"metric"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// LogEntry is one structured log record.
type LogEntry struct {
	Service   string         `json:"service"`
	Level     string         `json:"level"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Message   string         `json:"message"`
	LatencyMs *float64       `json:"latency_ms,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ServicePair identifies one monitored series.
type ServicePair struct {
	Service string `json:"service"`
	Metric  string `json:"metric"`
}

// Key returns the incident key "<service>:<metric>".
func (p ServicePair) Key() string {
	return p.Service + ":" + p.Metric
}
