package utils

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyWindow keeps the most recent duration samples in a ring and reports quantiles over them.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewLatencyWindow creates a window holding up to size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 512
	}
	return &LatencyWindow{samples: make([]float64, size)}
}

// Observe records d, overwriting the oldest sample once the window is full.
func (w *LatencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = float64(d)
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Count returns the number of samples currently held.
func (w *LatencyWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count()
}

func (w *LatencyWindow) count() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Percentile returns the empirical p-th percentile (0-100), or zero without samples.
func (w *LatencyWindow) Percentile(p float64) time.Duration {
	w.mu.Lock()
	sorted := append([]float64(nil), w.samples[:w.count()]...)
	w.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Float64s(sorted)
	switch {
	case p <= 0:
		return time.Duration(sorted[0])
	case p >= 100:
		return time.Duration(sorted[len(sorted)-1])
	}
	return time.Duration(stat.Quantile(p/100, stat.Empirical, sorted, nil))
}
