package utils

import (
	"testing"
	"time"
)

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	for _, value := range []string{
		"2024-03-01T12:30:05Z",
		"2024-03-01T12:30:05",
		"2024-03-01 12:30:05",
		"2024-03-01T14:30:05+02:00",
	} {
		got, err := ParseTimestamp(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %v, got %v", value, want, got)
		}
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
}

func TestPaddedWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	from, to := PaddedWindow(end, start, 10*time.Minute)
	if !from.Equal(start.Add(-10*time.Minute)) || !to.Equal(end.Add(10*time.Minute)) {
		t.Fatalf("unexpected window %v - %v", from, to)
	}
	if got := TruncateMinute(start.Add(42 * time.Second)); !got.Equal(start) {
		t.Fatalf("expected truncation to %v, got %v", start, got)
	}
}
