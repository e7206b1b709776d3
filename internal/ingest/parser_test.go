package ingest

import (
	"strings"
	"testing"
	"time"
)

var parseNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return NewParser(func() time.Time { return parseNow })
}

func TestParseLineFullShape(t *testing.T) {
	line := `2024-05-01T10:02:03Z ERROR checkout db timeout while charging request_id=req-9 latency_ms=812ms region="eu west"`
	entry, ok := newTestParser().ParseLine(line)
	if !ok {
		t.Fatalf("expected entry")
	}
	if !entry.Timestamp.Equal(time.Date(2024, 5, 1, 10, 2, 3, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", entry.Timestamp)
	}
	if entry.Level != "ERROR" || entry.Service != "checkout" {
		t.Fatalf("unexpected level/service %q %q", entry.Level, entry.Service)
	}
	if entry.Message != "db timeout while charging" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	if entry.RequestID != "req-9" {
		t.Fatalf("unexpected request id %q", entry.RequestID)
	}
	if entry.LatencyMs == nil || *entry.LatencyMs != 812 {
		t.Fatalf("unexpected latency %v", entry.LatencyMs)
	}
	if entry.Context["region"] != "eu west" {
		t.Fatalf("expected quoted context value, got %v", entry.Context)
	}
	if _, ok := entry.Context["request_id"]; ok {
		t.Fatalf("reserved keys must not leak into context")
	}
}

func TestParseLineSpaceSeparatedTimestamp(t *testing.T) {
	entry, ok := newTestParser().ParseLine("2024-05-01 10:00:00 WARN payments slow upstream")
	if !ok {
		t.Fatalf("expected entry")
	}
	if entry.Timestamp.Hour() != 10 || entry.Level != "WARN" || entry.Service != "payments" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestParseLineDefaults(t *testing.T) {
	entry, ok := newTestParser().ParseLine("level=error service=search message=\"cache miss storm\"")
	if !ok {
		t.Fatalf("expected entry")
	}
	if !entry.Timestamp.Equal(parseNow) {
		t.Fatalf("expected clock timestamp, got %v", entry.Timestamp)
	}
	if entry.Level != "ERROR" || entry.Service != "search" || entry.Message != "cache miss storm" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Context != nil {
		t.Fatalf("expected no context, got %v", entry.Context)
	}
}

func TestParseLineUnbalancedQuotesFallsBack(t *testing.T) {
	entry, ok := newTestParser().ParseLine(`INFO api it's fine`)
	if !ok {
		t.Fatalf("expected entry")
	}
	if entry.Service != "api" || entry.Message != "it's fine" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestParseLineRawMessageFallback(t *testing.T) {
	entry, ok := newTestParser().ParseLine("ERROR")
	if !ok {
		t.Fatalf("expected entry")
	}
	if entry.Service != UnknownService || entry.Message != "ERROR" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestParseReaderSkipsBlankLines(t *testing.T) {
	blob := "INFO a one\n\n   \nWARN b two\n"
	entries, err := newTestParser().ParseReader(strings.NewReader(blob))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 2 || entries[1].Service != "b" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestParseBlob(t *testing.T) {
	blob := "2024-05-01T10:00:00Z ERROR checkout charge failed request_id=req-1\r\n\n" +
		"level=warn service=payments message=\"retrying\"\n" +
		"just some text"
	entries := newTestParser().ParseBlob(blob)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].RequestID != "req-1" || entries[0].Service != "checkout" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Service != "payments" || entries[1].Message != "retrying" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
	if entries[2].Service != "just" || entries[2].Message != "some text" || !entries[2].Timestamp.Equal(parseNow) {
		t.Fatalf("unexpected positional entry %+v", entries[2])
	}
	if got := newTestParser().ParseBlob(""); len(got) != 0 {
		t.Fatalf("empty blob should yield no entries, got %+v", got)
	}
}
