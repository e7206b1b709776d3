package api

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/hub"
	"github.com/miradorstack/mirador-sentry/internal/ingest"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/services"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

type fakeBackend struct {
	hub        *hub.EventHub
	subscribed chan struct{}

	mu        sync.Mutex
	incidents map[int64]models.Incident
	points    []models.MetricPoint
	logs      []models.LogEntry
	summaries []models.ServiceSummary
	artifacts models.Artifacts
	healthErr  error
	refreshErr error
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	h := hub.New(testLogger())
	t.Cleanup(h.Close)
	return &fakeBackend{
		hub:        h,
		subscribed: make(chan struct{}, 8),
		incidents:  make(map[int64]models.Incident),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func sampleIncident(id int64, status models.IncidentStatus) models.Incident {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return models.Incident{
		ID:          id,
		Key:         "checkout:" + models.MetricLatencyP95,
		Service:     "checkout",
		Metric:      models.MetricLatencyP95,
		Severity:    72,
		Status:      status,
		Detector:    "zscore_ewma",
		DetectedAt:  at,
		WindowStart: at.Add(-4 * time.Minute),
		WindowEnd:   at,
		UpdatedAt:   at,
	}
}

func (f *fakeBackend) put(inc models.Incident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents[inc.ID] = inc
}

func (f *fakeBackend) get(id int64) (models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok {
		return models.Incident{}, utils.NotFound("fake.Get", "incident not found")
	}
	return inc, nil
}

func (f *fakeBackend) DetectOne(_ context.Context, service, metric string) (*models.Incident, error) {
	if service == "missing" {
		return nil, nil
	}
	inc := sampleIncident(1, models.StatusOpen)
	inc.Service, inc.Metric = service, metric
	return &inc, nil
}

func (f *fakeBackend) Refresh(context.Context) (services.RefreshReport, error) {
	if f.refreshErr != nil {
		return services.RefreshReport{}, f.refreshErr
	}
	return services.RefreshReport{Incidents: []models.Incident{sampleIncident(1, models.StatusOpen)}, Skipped: 1}, nil
}

func (f *fakeBackend) ListOpen(_ context.Context, limit int) ([]models.Incident, error) {
	return f.list(limit, true), nil
}

func (f *fakeBackend) ListRecent(_ context.Context, limit int) ([]models.Incident, error) {
	return f.list(limit, false), nil
}

func (f *fakeBackend) list(limit int, openOnly bool) []models.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Incident
	for id := int64(1); id <= int64(len(f.incidents)); id++ {
		inc, ok := f.incidents[id]
		if !ok || (openOnly && inc.Status != models.StatusOpen) {
			continue
		}
		out = append(out, inc)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeBackend) GetIncident(_ context.Context, id int64) (models.Incident, error) {
	return f.get(id)
}

func (f *fakeBackend) Resolve(_ context.Context, id int64) (models.Incident, error) {
	inc, err := f.get(id)
	if err != nil {
		return models.Incident{}, err
	}
	inc.Status = models.StatusResolved
	f.put(inc)
	return inc, nil
}

func (f *fakeBackend) Analyze(_ context.Context, id int64) (models.Analysis, error) {
	if _, err := f.get(id); err != nil {
		return models.Analysis{}, err
	}
	return models.Analysis{
		IncidentID: id,
		Service:    "checkout",
		Metric:     models.MetricLatencyP95,
		Hypotheses: []models.Hypothesis{{Title: "Likely DB saturation impacting latency", Confidence: 82}},
	}, nil
}

func (f *fakeBackend) ComposePostmortem(_ context.Context, id int64) (models.Artifacts, error) {
	if _, err := f.get(id); err != nil {
		return models.Artifacts{}, err
	}
	return f.artifacts, nil
}

func (f *fakeBackend) Timeline(_ context.Context, id int64) (models.IncidentTimeline, error) {
	inc, err := f.get(id)
	if err != nil {
		return models.IncidentTimeline{}, err
	}
	return models.IncidentTimeline{Incident: inc, Points: []models.TimelinePoint{{Timestamp: inc.DetectedAt, Value: 410}}}, nil
}

func (f *fakeBackend) IngestMetrics(_ context.Context, points []models.MetricPoint) (services.IngestReport, error) {
	kept, skipped := ingest.NormalizeMetrics(points)
	f.mu.Lock()
	f.points = append(f.points, kept...)
	f.mu.Unlock()
	return services.IngestReport{Ingested: len(kept), Skipped: skipped}, nil
}

func (f *fakeBackend) IngestLogs(_ context.Context, entries []models.LogEntry) (services.IngestReport, error) {
	kept, skipped := ingest.NormalizeLogs(entries)
	f.mu.Lock()
	f.logs = append(f.logs, kept...)
	f.mu.Unlock()
	return services.IngestReport{Ingested: len(kept), Skipped: skipped}, nil
}

func (f *fakeBackend) IngestLogFile(ctx context.Context, r io.Reader) (services.IngestReport, error) {
	entries, err := ingest.NewParser(nil).ParseReader(r)
	if err != nil {
		return services.IngestReport{}, utils.Invalid("fake.IngestLogFile", "read log file", err)
	}
	return f.IngestLogs(ctx, entries)
}

func (f *fakeBackend) ServiceSummaries(context.Context) ([]models.ServiceSummary, error) {
	return f.summaries, nil
}

func (f *fakeBackend) Subscribe() (*hub.Subscription, error) {
	sub, err := f.hub.Subscribe()
	if err != nil {
		return nil, err
	}
	f.subscribed <- struct{}{}
	return sub, nil
}

func (f *fakeBackend) Unsubscribe(sub *hub.Subscription) { f.hub.Unsubscribe(sub) }

func (f *fakeBackend) HealthCheck(context.Context) (string, error) {
	if f.healthErr != nil {
		return "NOT_SERVING", f.healthErr
	}
	return "SERVING", nil
}

func waitSubscribed(t *testing.T, f *fakeBackend) {
	t.Helper()
	select {
	case <-f.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber never registered")
	}
}
