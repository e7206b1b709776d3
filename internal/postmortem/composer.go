// Package postmortem turns an incident and its analysis into a report payload and
// renders it to downloadable artifacts.
package postmortem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/engine"
	"github.com/miradorstack/mirador-sentry/internal/models"
)

// DefaultSummary is used when neither the analysis nor the incident carries one.
const DefaultSummary = "Incident detected"

// BaseNameLayout formats the generation instant inside artifact names.
const BaseNameLayout = "20060102150405"

// Renderer persists a postmortem payload and reports where each format landed.
type Renderer interface {
	Render(ctx context.Context, baseName string, pm models.Postmortem) ([]models.Artifact, error)
}

// ActionPlanner proposes follow-up items for an incident.
type ActionPlanner interface {
	ActionItems(inc models.Incident, analysis models.Analysis) []string
}

// Archiver receives every composed postmortem. Failures are logged, not returned.
type Archiver interface {
	StorePostmortem(ctx context.Context, pm models.Postmortem, artifacts models.Artifacts) error
}

// Composer builds payloads and hands them to a renderer.
type Composer struct {
	renderer Renderer
	planner  ActionPlanner
	archiver Archiver
	clock    func() time.Time
	logger   *slog.Logger
}

// Option customises a Composer.
type Option func(*Composer)

// WithPlanner overrides the built-in action item table.
func WithPlanner(p ActionPlanner) Option {
	return func(c *Composer) {
		if p != nil {
			c.planner = p
		}
	}
}

// WithArchiver forwards composed postmortems to an archive.
func WithArchiver(a Archiver) Option {
	return func(c *Composer) { c.archiver = a }
}

// WithClock sets the time source used for generatedAt.
func WithClock(clock func() time.Time) Option {
	return func(c *Composer) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the composer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewComposer constructs a Composer around renderer.
func NewComposer(renderer Renderer, opts ...Option) *Composer {
	c := &Composer{
		renderer: renderer,
		planner:  (*engine.RuleEngine)(nil),
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildPayload assembles the report payload using the built-in action item table.
func BuildPayload(inc models.Incident, analysis models.Analysis, generatedAt time.Time) models.Postmortem {
	return buildPayload(inc, analysis, generatedAt, (*engine.RuleEngine)(nil))
}

func buildPayload(inc models.Incident, analysis models.Analysis, generatedAt time.Time, planner ActionPlanner) models.Postmortem {
	summary := inc.Summary
	if len(analysis.Hypotheses) > 0 {
		summary = analysis.Hypotheses[0].Title
	}
	if summary == "" {
		summary = DefaultSummary
	}
	if analysis.Hypotheses == nil {
		analysis.Hypotheses = []models.Hypothesis{}
	}

	return models.Postmortem{
		Summary:  summary,
		Incident: inc,
		Analysis: analysis,
		Timeline: []models.TimelineEntry{
			{Label: "Window start", Timestamp: inc.WindowStart},
			{Label: "Window end", Timestamp: inc.WindowEnd},
			{Label: "Detected", Timestamp: inc.DetectedAt},
		},
		ActionItems: planner.ActionItems(inc, analysis),
		GeneratedAt: generatedAt.UTC(),
	}
}

// BaseName returns the artifact base name for an incident generated at t.
func BaseName(incidentID int64, t time.Time) string {
	return fmt.Sprintf("incident_%d_%s", incidentID, t.UTC().Format(BaseNameLayout))
}

// Compose builds the payload and renders it.
func (c *Composer) Compose(ctx context.Context, inc models.Incident, analysis models.Analysis) (models.Artifacts, error) {
	if c == nil || c.renderer == nil {
		return models.Artifacts{}, fmt.Errorf("postmortem renderer not configured")
	}
	generatedAt := c.clock()
	pm := buildPayload(inc, analysis, generatedAt, c.planner)
	base := BaseName(inc.ID, generatedAt)

	files, err := c.renderer.Render(ctx, base, pm)
	if err != nil {
		return models.Artifacts{}, fmt.Errorf("render postmortem: %w", err)
	}
	artifacts := models.Artifacts{IncidentID: inc.ID, Summary: pm.Summary, BaseName: base, Files: files}

	if c.archiver != nil {
		if err := c.archiver.StorePostmortem(ctx, pm, artifacts); err != nil {
			c.logger.Warn("postmortem archive failed", slog.Int64("incident_id", inc.ID), slog.Any("error", err))
		}
	}

	c.logger.Info("postmortem composed",
		slog.Int64("incident_id", inc.ID),
		slog.String("base_name", base),
		slog.Int("files", len(files)),
	)
	return artifacts, nil
}
