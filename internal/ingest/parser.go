package ingest

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kballard/go-shellquote"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// DefaultLevel is assigned when a line carries no level token.
const DefaultLevel = "INFO"

// UnknownService is assigned when a line names no service.
const UnknownService = "unknown"

const maxLineBytes = 1 << 20

var kvPattern = regexp.MustCompile(`([A-Za-z_][\w\-]*)=(\S+)`)

var reservedKeys = map[string]struct{}{
	"timestamp":  {},
	"level":      {},
	"service":    {},
	"message":    {},
	"request_id": {},
	"requestid":  {},
	"latency_ms": {},
	"latency":    {},
}

// Parser turns free-form log lines into structured entries.
type Parser struct {
	now func() time.Time
}

// NewParser returns a parser stamping undated lines with now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Parser{now: now}
}

// ParseLine parses one line. Blank lines yield false.
//
// Recognised shape: [timestamp] [LEVEL] [service] tokens... with key=value pairs
// anywhere. Explicit timestamp, level, service and message keys override positional tokens.
func (p *Parser) ParseLine(line string) (models.LogEntry, bool) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return models.LogEntry{}, false
	}

	tokens, err := shellquote.Split(raw)
	if err != nil {
		tokens = strings.Fields(raw)
	}
	if len(tokens) == 0 {
		return models.LogEntry{}, false
	}

	idx := 0
	timestamp, err := utils.ParseTimestamp(tokens[0])
	if err == nil {
		idx++
	} else if len(tokens) > 1 {
		if ts, err := utils.ParseTimestamp(tokens[0] + " " + tokens[1]); err == nil {
			timestamp = ts
			idx += 2
		}
	}
	if timestamp.IsZero() {
		timestamp = p.now()
	}

	level := DefaultLevel
	if idx < len(tokens) && isLevelToken(tokens[idx]) {
		level = tokens[idx]
		idx++
	}

	service := ""
	if idx < len(tokens) && !strings.Contains(tokens[idx], "=") {
		service = tokens[idx]
		idx++
	}

	kv := make(map[string]string)
	var message []string
	for _, token := range tokens[idx:] {
		if key, value, ok := strings.Cut(token, "="); ok {
			kv[strings.ToLower(key)] = strings.Trim(value, `"`)
			continue
		}
		message = append(message, token)
	}
	for _, m := range kvPattern.FindAllStringSubmatch(raw, -1) {
		key := strings.ToLower(m[1])
		if _, ok := kv[key]; !ok {
			kv[key] = m[2]
		}
	}

	if v, ok := kv["timestamp"]; ok {
		if ts, err := utils.ParseTimestamp(v); err == nil {
			timestamp = ts
		}
	}
	if v, ok := kv["level"]; ok && v != "" {
		level = v
	}
	if v, ok := kv["service"]; ok && v != "" {
		service = v
	}
	if service == "" {
		service = UnknownService
	}

	msg := kv["message"]
	if msg == "" {
		msg = strings.TrimSpace(strings.Join(message, " "))
	}
	if msg == "" {
		msg = raw
	}

	entry := models.LogEntry{
		Service:   service,
		Level:     strings.ToUpper(level),
		Timestamp: timestamp.UTC(),
		Message:   msg,
	}
	if v := firstNonEmpty(kv["request_id"], kv["requestid"]); v != "" {
		entry.RequestID = v
	}
	if v := firstNonEmpty(kv["latency_ms"], kv["latency"]); v != "" {
		entry.LatencyMs = parseLatency(v)
	}

	for key, value := range kv {
		if _, reserved := reservedKeys[key]; reserved {
			continue
		}
		if entry.Context == nil {
			entry.Context = make(map[string]any)
		}
		entry.Context[key] = value
	}
	return entry, true
}

// ParseReader parses every non-blank line of r.
func (p *Parser) ParseReader(r io.Reader) ([]models.LogEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var entries []models.LogEntry
	for scanner.Scan() {
		if entry, ok := p.ParseLine(scanner.Text()); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// ParseBlob parses a multi-line string.
func (p *Parser) ParseBlob(blob string) []models.LogEntry {
	entries, _ := p.ParseReader(strings.NewReader(blob))
	return entries
}

func isLevelToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) || !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func parseLatency(value string) *float64 {
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(value), "ms", ""))
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
