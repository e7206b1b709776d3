package extractors

import (
	"encoding/json"
	"strings"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// KeywordRule maps a lower-case keyword found in a log to a hypothesis title.
type KeywordRule struct {
	Keyword string
	Title   string
}

// DefaultKeywordRules is evaluated in order for every log entry.
var DefaultKeywordRules = []KeywordRule{
	{Keyword: "timeout", Title: "Likely DB saturation or downstream timeout"},
	{Keyword: "db saturation", Title: "Likely DB saturation or slow queries"},
	{Keyword: "5xx", Title: "Upstream dependency failure"},
	{Keyword: "connection reset", Title: "Downstream dependency failure"},
	{Keyword: "dns", Title: "DNS or networking instability"},
	{Keyword: "memory leak", Title: "Memory leak / OOM risk"},
	{Keyword: "oom", Title: "Memory leak / OOM risk"},
}

// KeywordMatch pairs a log entry with the rule it triggered.
type KeywordMatch struct {
	Rule  KeywordRule
	Entry models.LogEntry
}

// LogKeywordExtractor scans log text for known failure signatures.
type LogKeywordExtractor struct {
	rules []KeywordRule
}

// NewLogKeywordExtractor builds an extractor from rules, falling back to DefaultKeywordRules.
func NewLogKeywordExtractor(rules []KeywordRule) *LogKeywordExtractor {
	if len(rules) == 0 {
		rules = DefaultKeywordRules
	}
	normalised := make([]KeywordRule, 0, len(rules))
	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" || r.Title == "" {
			continue
		}
		normalised = append(normalised, KeywordRule{Keyword: kw, Title: r.Title})
	}
	return &LogKeywordExtractor{rules: normalised}
}

// Rules returns the active rule table.
func (e *LogKeywordExtractor) Rules() []KeywordRule {
	return append([]KeywordRule(nil), e.rules...)
}

// Detect returns matches in entry order, then rule order.
func (e *LogKeywordExtractor) Detect(entries []models.LogEntry) []KeywordMatch {
	matches := make([]KeywordMatch, 0)
	for _, entry := range entries {
		haystack := Haystack(entry)
		for _, rule := range e.rules {
			if strings.Contains(haystack, rule.Keyword) {
				matches = append(matches, KeywordMatch{Rule: rule, Entry: entry})
			}
		}
	}
	return matches
}

// Haystack is the lower-cased message followed by the JSON-encoded context.
func Haystack(entry models.LogEntry) string {
	ctx := "{}"
	if len(entry.Context) > 0 {
		if data, err := json.Marshal(entry.Context); err == nil {
			ctx = string(data)
		}
	}
	return strings.ToLower(entry.Message + " " + ctx)
}
