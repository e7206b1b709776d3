package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/miradorstack/mirador-sentry/internal/engine"
	"github.com/miradorstack/mirador-sentry/internal/hub"
	"github.com/miradorstack/mirador-sentry/internal/ingest"
	"github.com/miradorstack/mirador-sentry/internal/ledger"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// Detector evaluates series and records anomalies.
type Detector interface {
	DetectOne(ctx context.Context, pair models.ServicePair) (*models.Incident, error)
	DetectMany(ctx context.Context, pairs []models.ServicePair) ([]models.Incident, error)
	DetectAll(ctx context.Context) ([]models.Incident, error)
}

// Analyzer explains an incident.
type Analyzer interface {
	Analyze(ctx context.Context, inc models.Incident) (models.Analysis, error)
}

// IncidentStore reads and resolves incidents.
type IncidentStore interface {
	Get(ctx context.Context, id int64) (models.Incident, error)
	ListOpen(ctx context.Context, limit int) ([]models.Incident, error)
	ListRecent(ctx context.Context, limit int) ([]models.Incident, error)
	Resolve(ctx context.Context, id int64) (ledger.ResolveResult, error)
}

// Composer renders postmortems.
type Composer interface {
	Compose(ctx context.Context, inc models.Incident, analysis models.Analysis) (models.Artifacts, error)
}

// WindowReader reads the padded metric window behind an incident timeline.
type WindowReader interface {
	MetricWindow(ctx context.Context, service, metric string, start, end time.Time, padding time.Duration, limit int) ([]models.MetricPoint, error)
}

// SignalWriter persists ingested metrics and logs. Remote storage has none.
type SignalWriter interface {
	InsertMetrics(ctx context.Context, points []models.MetricPoint) error
	InsertLogs(ctx context.Context, entries []models.LogEntry) error
}

// SummaryBuilder produces per-service dashboards.
type SummaryBuilder interface {
	Build(ctx context.Context) ([]models.ServiceSummary, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the service facade. Writer, Summaries, and Health may be nil.
type Dependencies struct {
	Detector  Detector
	Analyzer  Analyzer
	Incidents IncidentStore
	Composer  Composer
	Windows   WindowReader
	Writer    SignalWriter
	Summaries SummaryBuilder
	Health    Pinger
	Hub       *hub.EventHub

	TimelinePadding time.Duration
	TimelineLimit   int
}

// RefreshReport is the result of a detection sweep.
type RefreshReport struct {
	Incidents []models.Incident `json:"incidents"`
	Skipped   int               `json:"skipped"`
}

// IngestReport is the result of an ingestion call.
type IngestReport struct {
	Ingested  int               `json:"ingested"`
	Skipped   int               `json:"skipped"`
	Incidents []models.Incident `json:"incidents,omitempty"`
}

// SentryService is the facade the transports call into.
type SentryService struct {
	logger    *slog.Logger
	deps      Dependencies
	parser    *ingest.Parser
	latencies *utils.LatencyWindow
	now       func() time.Time
}

// NewSentryService constructs the service facade.
func NewSentryService(logger *slog.Logger, deps Dependencies) *SentryService {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.TimelinePadding <= 0 {
		deps.TimelinePadding = 10 * time.Minute
	}
	if deps.TimelineLimit <= 0 {
		deps.TimelineLimit = 240
	}
	return &SentryService{
		logger:    logger,
		deps:      deps,
		parser:    ingest.NewParser(nil),
		latencies: utils.NewLatencyWindow(1024),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DetectOne evaluates a single (service, metric) pair.
func (s *SentryService) DetectOne(ctx context.Context, service, metric string) (*models.Incident, error) {
	if s.deps.Detector == nil {
		return nil, utils.Unavailable("services.DetectOne", "detector not configured", nil)
	}
	pair := models.ServicePair{Service: service, Metric: ingest.CanonicalMetric(metric)}
	return s.deps.Detector.DetectOne(ctx, pair)
}

// Refresh re-evaluates every candidate pair. Pairs that fail are counted, not returned as an error.
func (s *SentryService) Refresh(ctx context.Context) (RefreshReport, error) {
	if s.deps.Detector == nil {
		return RefreshReport{}, utils.Unavailable("services.Refresh", "detector not configured", nil)
	}
	incidents, err := s.deps.Detector.DetectAll(ctx)
	skipped, err := s.partial(err)
	if err != nil {
		return RefreshReport{}, err
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	return RefreshReport{Incidents: incidents, Skipped: skipped}, nil
}

func (s *SentryService) partial(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if !engine.IsPartialFailure(err) {
		return 0, err
	}
	var merr *multierror.Error
	errors.As(err, &merr)
	s.logger.Warn("detection sweep skipped pairs", slog.Int("skipped", merr.Len()), slog.Any("error", err))
	return merr.Len(), nil
}

// ListOpen returns open incidents, most severe first.
func (s *SentryService) ListOpen(ctx context.Context, limit int) ([]models.Incident, error) {
	return s.deps.Incidents.ListOpen(ctx, limit)
}

// ListRecent returns the newest incidents of any status.
func (s *SentryService) ListRecent(ctx context.Context, limit int) ([]models.Incident, error) {
	return s.deps.Incidents.ListRecent(ctx, limit)
}

// GetIncident returns one incident or a not_found error.
func (s *SentryService) GetIncident(ctx context.Context, id int64) (models.Incident, error) {
	return s.deps.Incidents.Get(ctx, id)
}

// Resolve closes an incident. Only an open-to-resolved transition is announced.
func (s *SentryService) Resolve(ctx context.Context, id int64) (models.Incident, error) {
	res, err := s.deps.Incidents.Resolve(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if res.Changed {
		metrics.IncidentResolved()
		s.publish(models.IncidentResolvedEvent(res.Incident, s.now()))
	}
	return res.Incident, nil
}

// Analyze runs root-cause analysis for an incident.
func (s *SentryService) Analyze(ctx context.Context, id int64) (models.Analysis, error) {
	inc, err := s.deps.Incidents.Get(ctx, id)
	if err != nil {
		return models.Analysis{}, err
	}
	return s.analyze(ctx, inc)
}

func (s *SentryService) analyze(ctx context.Context, inc models.Incident) (models.Analysis, error) {
	if s.deps.Analyzer == nil {
		return models.Analysis{}, utils.Unavailable("services.Analyze", "analyzer not configured", nil)
	}
	start := time.Now()
	analysis, err := s.deps.Analyzer.Analyze(ctx, inc)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(duration, metrics.OutcomeError)
		return models.Analysis{}, err
	}
	metrics.ObserveAnalysis(duration, metrics.OutcomeSuccess)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return analysis, nil
}

// AnalysisLatencyP95 returns the p95 of recent analysis durations.
func (s *SentryService) AnalysisLatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

// ComposePostmortem analyzes an incident and renders its postmortem artifacts.
func (s *SentryService) ComposePostmortem(ctx context.Context, id int64) (models.Artifacts, error) {
	if s.deps.Composer == nil {
		return models.Artifacts{}, utils.Unavailable("services.ComposePostmortem", "postmortem composer not configured", nil)
	}
	inc, err := s.deps.Incidents.Get(ctx, id)
	if err != nil {
		return models.Artifacts{}, err
	}
	analysis, err := s.analyze(ctx, inc)
	if err != nil {
		return models.Artifacts{}, err
	}
	artifacts, err := s.deps.Composer.Compose(ctx, inc, analysis)
	if err != nil {
		return models.Artifacts{}, utils.NewAppError("services.ComposePostmortem", "compose postmortem", err)
	}
	return artifacts, nil
}

// Timeline returns the incident metric's padded window.
func (s *SentryService) Timeline(ctx context.Context, id int64) (models.IncidentTimeline, error) {
	const op = "services.Timeline"
	inc, err := s.deps.Incidents.Get(ctx, id)
	if err != nil {
		return models.IncidentTimeline{}, err
	}
	if s.deps.Windows == nil {
		return models.IncidentTimeline{}, utils.Unavailable(op, "metric store not configured", nil)
	}
	points, err := s.deps.Windows.MetricWindow(ctx, inc.Service, inc.Metric, inc.WindowStart, inc.WindowEnd, s.deps.TimelinePadding, s.deps.TimelineLimit)
	if err != nil {
		return models.IncidentTimeline{}, utils.Unavailable(op, "load metric window", err)
	}
	timeline := models.IncidentTimeline{Incident: inc, Points: make([]models.TimelinePoint, 0, len(points))}
	for _, p := range points {
		timeline.Points = append(timeline.Points, models.TimelinePoint{Timestamp: p.Timestamp, Value: p.Value})
	}
	return timeline, nil
}

// IngestMetrics stores a metric batch and re-evaluates the recognised pairs it touched.
func (s *SentryService) IngestMetrics(ctx context.Context, points []models.MetricPoint) (IngestReport, error) {
	const op = "services.IngestMetrics"
	if s.deps.Writer == nil {
		return IngestReport{}, utils.Unavailable(op, "ingestion requires local storage", nil)
	}
	kept, skipped := ingest.NormalizeMetrics(points)
	report := IngestReport{Ingested: len(kept), Skipped: skipped}
	if len(kept) == 0 {
		return report, nil
	}
	if err := s.deps.Writer.InsertMetrics(ctx, kept); err != nil {
		return IngestReport{}, utils.Unavailable(op, "store metrics", err)
	}
	metrics.AddIngested("metric", len(kept))
	s.publish(models.Event{
		Type: models.EventMetricsIngested,
		Data: map[string]any{"ingested": len(kept), "skipped": skipped, "services": servicesOf(kept)},
		At:   s.now(),
	})

	if pairs := ingest.AffectedPairs(kept); len(pairs) > 0 && s.deps.Detector != nil {
		incidents, err := s.deps.Detector.DetectMany(ctx, pairs)
		if _, err := s.partial(err); err != nil {
			return IngestReport{}, err
		}
		report.Incidents = incidents
	}
	return report, nil
}

// IngestLogs stores a batch of structured log entries.
func (s *SentryService) IngestLogs(ctx context.Context, entries []models.LogEntry) (IngestReport, error) {
	const op = "services.IngestLogs"
	if s.deps.Writer == nil {
		return IngestReport{}, utils.Unavailable(op, "ingestion requires local storage", nil)
	}
	kept, skipped := ingest.NormalizeLogs(entries)
	report := IngestReport{Ingested: len(kept), Skipped: skipped}
	if len(kept) == 0 {
		return report, nil
	}
	if err := s.deps.Writer.InsertLogs(ctx, kept); err != nil {
		return IngestReport{}, utils.Unavailable(op, "store logs", err)
	}
	metrics.AddIngested("log", len(kept))

	services := make(map[string]struct{})
	for _, e := range kept {
		services[e.Service] = struct{}{}
	}
	s.publish(models.Event{
		Type: models.EventLogsIngested,
		Data: map[string]any{"ingested": len(kept), "skipped": skipped, "services": sortedKeys(services)},
		At:   s.now(),
	})
	return report, nil
}

// IngestLogFile parses raw log lines and stores the resulting entries.
func (s *SentryService) IngestLogFile(ctx context.Context, r io.Reader) (IngestReport, error) {
	entries, err := s.parser.ParseReader(r)
	if err != nil {
		return IngestReport{}, utils.Invalid("services.IngestLogFile", "read log file", err)
	}
	return s.IngestLogs(ctx, entries)
}

// ServiceSummaries returns per-service dashboards.
func (s *SentryService) ServiceSummaries(ctx context.Context) ([]models.ServiceSummary, error) {
	if s.deps.Summaries == nil {
		return nil, utils.Unavailable("services.ServiceSummaries", "summaries not configured", nil)
	}
	summaries, err := s.deps.Summaries.Build(ctx)
	if err != nil {
		return nil, utils.Unavailable("services.ServiceSummaries", "build summaries", err)
	}
	return summaries, nil
}

// Subscribe registers a live event subscriber.
func (s *SentryService) Subscribe() (*hub.Subscription, error) {
	if s.deps.Hub == nil {
		return nil, utils.Unavailable("services.Subscribe", "event hub not configured", nil)
	}
	sub, err := s.deps.Hub.Subscribe()
	if err != nil {
		return nil, utils.Unavailable("services.Subscribe", "subscribe", err)
	}
	return sub, nil
}

// Unsubscribe removes a live event subscriber.
func (s *SentryService) Unsubscribe(sub *hub.Subscription) {
	if s.deps.Hub != nil && sub != nil {
		s.deps.Hub.Unsubscribe(sub)
	}
}

// HealthCheck reports SERVING when storage answers.
func (s *SentryService) HealthCheck(ctx context.Context) (string, error) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(ctx); err != nil {
			return "NOT_SERVING", utils.Unavailable("services.HealthCheck", "storage ping failed", err)
		}
	}
	return "SERVING", nil
}

// RunSweeps refreshes detection every interval until ctx is cancelled.
func (s *SentryService) RunSweeps(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := s.Refresh(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("periodic detection failed", slog.Any("error", err))
				continue
			}
			s.logger.Debug("periodic detection finished",
				slog.Int("incidents", len(report.Incidents)),
				slog.Int("skipped", report.Skipped))
		}
	}
}

func (s *SentryService) publish(event models.Event) {
	if s.deps.Hub == nil {
		return
	}
	s.deps.Hub.Publish(event)
}

func servicesOf(points []models.MetricPoint) []string {
	set := make(map[string]struct{})
	for _, p := range points {
		set[p.Service] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
