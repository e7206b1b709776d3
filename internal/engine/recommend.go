package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentry/internal/extractors"
	"github.com/miradorstack/mirador-sentry/internal/models"
)

// FallbackActionItem is suggested when no metric hint or rule applies.
const FallbackActionItem = "Complete RCA and document mitigations."

// DefaultActionHints are postmortem follow-ups keyed by incident metric.
var DefaultActionHints = map[string][]string{
	models.MetricLatencyP95: {
		"Audit database slow queries and connection pool thresholds.",
		"Enable request-level profiling for hottest endpoints.",
	},
	models.MetricErrorRate: {
		"Coordinate with upstream dependencies to confirm stability.",
		"Increase canary coverage to detect regressions sooner.",
	},
	models.MetricMemoryRSS: {
		"Capture heap profiles and add guards for runaway allocations.",
		"Deploy tighter auto-scaling or restart policies for workers.",
	},
	models.MetricCPU: {
		"Throttle expensive jobs and right-size compute reservations.",
	},
}

// RuleEngine extends the built-in keyword table and action hints from a YAML rule pack.
// A nil engine serves the built-in tables.
type RuleEngine struct {
	keywords    []extractors.KeywordRule
	actionHints map[string][]string
	rules       []Rule
	logger      *slog.Logger
}

// Rule adds recommendations to incidents that match it.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	Service       string   `yaml:"service"`
	Metric        string   `yaml:"metric"`
	MinSeverity   int      `yaml:"min_severity"`
	TitleContains []string `yaml:"title_contains"`
}

// KeywordRuleSpec is the YAML form of a log keyword rule.
type KeywordRuleSpec struct {
	Keyword string `yaml:"keyword"`
	Title   string `yaml:"title"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Keywords    []KeywordRuleSpec   `yaml:"keywords"`
	ActionHints map[string][]string `yaml:"action_hints"`
	Rules       []Rule              `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty or missing, returns nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return NewRuleEngineFromConfig(cfg, logger), nil
}

// NewRuleEngineFromConfig builds an engine from an already parsed rule pack.
func NewRuleEngineFromConfig(cfg RuleConfigFile, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	keywords := append([]extractors.KeywordRule(nil), extractors.DefaultKeywordRules...)
	for _, k := range cfg.Keywords {
		if strings.TrimSpace(k.Keyword) == "" || k.Title == "" {
			logger.Warn("ignoring incomplete keyword rule", slog.String("keyword", k.Keyword))
			continue
		}
		keywords = append(keywords, extractors.KeywordRule{Keyword: k.Keyword, Title: k.Title})
	}
	return &RuleEngine{
		keywords:    keywords,
		actionHints: cfg.ActionHints,
		rules:       cfg.Rules,
		logger:      logger,
	}
}

// KeywordRules returns the built-in keyword table followed by rule-pack additions.
func (e *RuleEngine) KeywordRules() []extractors.KeywordRule {
	if e == nil {
		return extractors.DefaultKeywordRules
	}
	return e.keywords
}

// ActionItems returns postmortem follow-ups for an incident and its analysis.
func (e *RuleEngine) ActionItems(inc models.Incident, analysis models.Analysis) []string {
	items := e.hintsFor(inc.Metric)
	if e != nil {
		for _, rule := range e.rules {
			if !ruleMatches(rule.Match, inc, analysis) {
				continue
			}
			e.logger.Debug("rule matched", slog.String("rule", rule.ID), slog.Int64("incident_id", inc.ID))
			items = appendUnique(items, rule.Recommendations...)
		}
	}
	if len(items) == 0 {
		return []string{FallbackActionItem}
	}
	return items
}

func (e *RuleEngine) hintsFor(metric string) []string {
	if e != nil {
		if hints, ok := e.actionHints[metric]; ok && len(hints) > 0 {
			return append([]string(nil), hints...)
		}
	}
	return append([]string(nil), DefaultActionHints[metric]...)
}

func ruleMatches(match RuleMatch, inc models.Incident, analysis models.Analysis) bool {
	if match.Service != "" && !strings.EqualFold(match.Service, inc.Service) {
		return false
	}
	if match.Metric != "" && !strings.EqualFold(match.Metric, inc.Metric) {
		return false
	}
	if match.MinSeverity > 0 && inc.Severity < match.MinSeverity {
		return false
	}
	if len(match.TitleContains) > 0 && !hypothesesContain(match.TitleContains, analysis.Hypotheses) {
		return false
	}
	return true
}

func hypothesesContain(keywords []string, hypotheses []models.Hypothesis) bool {
	for _, h := range hypotheses {
		title := strings.ToLower(h.Title)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(title, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
