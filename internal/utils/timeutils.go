package utils

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05,000",
	"2006-01-02 15:04:05",
	"02/Jan/2006:15:04:05",
}

// ParseTimestamp accepts RFC3339 and the common log layouts; values without a zone are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if strings.HasSuffix(value, "Z") && !strings.Contains(value, "T") {
		value = strings.TrimSuffix(value, "Z")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time: unsupported layout %q", value)
}

// TruncateMinute drops seconds and below, in UTC.
func TruncateMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// PaddedWindow widens [start, end] by padding on both sides.
func PaddedWindow(start, end time.Time, padding time.Duration) (time.Time, time.Time) {
	if end.Before(start) {
		start, end = end, start
	}
	if padding < 0 {
		padding = 0
	}
	return start.Add(-padding), end.Add(padding)
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}
