package utils

import (
	"testing"
	"time"
)

func TestLatencyWindowPercentile(t *testing.T) {
	window := NewLatencyWindow(10)
	if window.Percentile(95) != 0 {
		t.Fatalf("expected zero percentile without samples")
	}
	for _, ms := range []int{50, 10, 40, 20, 30} {
		window.Observe(time.Duration(ms) * time.Millisecond)
	}

	if window.Count() != 5 {
		t.Fatalf("expected count 5, got %d", window.Count())
	}
	if p95 := window.Percentile(95); p95 != 50*time.Millisecond {
		t.Fatalf("expected p95 of 50ms, got %v", p95)
	}
	if p50 := window.Percentile(50); p50 != 30*time.Millisecond {
		t.Fatalf("expected p50 of 30ms, got %v", p50)
	}
	if min := window.Percentile(0); min != 10*time.Millisecond {
		t.Fatalf("expected min 10ms, got %v", min)
	}
}

func TestLatencyWindowOverwritesOldest(t *testing.T) {
	window := NewLatencyWindow(3)
	for i := 1; i <= 10; i++ {
		window.Observe(time.Duration(i) * time.Millisecond)
	}
	if window.Count() != 3 {
		t.Fatalf("expected window size 3, got %d", window.Count())
	}
	if min := window.Percentile(0); min != 8*time.Millisecond {
		t.Fatalf("expected oldest retained sample 8ms, got %v", min)
	}
}
