package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// alignByMinute pairs values that fall in the same UTC minute. Within a minute the
// last point wins. Output is ordered by minute.
func alignByMinute(primary, secondary []models.MetricPoint) ([]float64, []float64) {
	left := bucketByMinute(primary)
	right := bucketByMinute(secondary)

	keys := make([]time.Time, 0, len(left))
	for minute := range left {
		if _, ok := right[minute]; ok {
			keys = append(keys, minute)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	a := make([]float64, len(keys))
	b := make([]float64, len(keys))
	for i, k := range keys {
		a[i] = left[k]
		b[i] = right[k]
	}
	return a, b
}

func bucketByMinute(series []models.MetricPoint) map[time.Time]float64 {
	buckets := make(map[time.Time]float64, len(series))
	for _, p := range series {
		buckets[utils.TruncateMinute(p.Timestamp)] = p.Value
	}
	return buckets
}

// pearson returns the correlation coefficient, or false when it is undefined.
func pearson(a, b []float64) (float64, bool) {
	if len(a) < 2 || len(a) != len(b) {
		return 0, false
	}
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}

// correlationTitle picks a hypothesis title for a (incident metric, other metric) pair.
func correlationTitle(primary, secondary string, r float64) string {
	switch {
	case primary == models.MetricLatencyP95 && secondary == models.MetricErrorRate:
		return "Likely DB saturation impacting latency"
	case primary == models.MetricLatencyP95 && secondary == models.MetricCPU:
		return "CPU contention correlates with latency"
	case primary == models.MetricErrorRate && secondary == models.MetricLatencyP95:
		return "Increased latency correlates with error rate"
	case primary == models.MetricMemoryRSS:
		return "Memory pressure correlates with other metrics"
	}
	direction := "positive"
	if r < 0 {
		direction = "negative"
	}
	return fmt.Sprintf("%s %s correlation", secondary, direction)
}

func correlationConfidence(r float64) int {
	c := int(math.Round(math.Abs(r) * 100))
	if c > 95 {
		return 95
	}
	return c
}
