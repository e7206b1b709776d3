// Package ledger tracks incidents per (service, metric) key and enforces
// that at most one incident per key is open at any time.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// Backend persists incidents. Implementations must apply Insert and Update atomically.
type Backend interface {
	FindOpen(ctx context.Context, key string) (models.Incident, bool, error)
	Insert(ctx context.Context, inc models.Incident) (models.Incident, error)
	Update(ctx context.Context, inc models.Incident) error
	Get(ctx context.Context, id int64) (models.Incident, bool, error)
	ListOpen(ctx context.Context, limit int) ([]models.Incident, error)
	ListRecent(ctx context.Context, limit int) ([]models.Incident, error)
	TrackedPairs(ctx context.Context) ([]models.ServicePair, error)
}

// Catalog lists the series known to the metric store.
type Catalog interface {
	DistinctServices(ctx context.Context) ([]string, error)
	DistinctMetrics(ctx context.Context, service string) ([]string, error)
}

// UpsertResult reports the stored incident and whether it was newly opened.
type UpsertResult struct {
	Incident models.Incident
	Created  bool
}

// ResolveResult reports the stored incident and whether this call moved it from open to resolved.
type ResolveResult struct {
	Incident models.Incident
	Changed  bool
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Ledger is the incident lifecycle manager.
type Ledger struct {
	backend Backend
	catalog Catalog
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for detected_at and updated_at.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs a ledger. A nil backend falls back to an in-memory one.
func New(backend Backend, catalog Catalog, opts ...Option) *Ledger {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	l := &Ledger{
		backend: backend,
		catalog: catalog,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockKey serialises work on key and returns the unlock func. Entries are
// dropped once no caller holds or waits on them.
func (l *Ledger) lockKey(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Upsert refreshes the open incident for key or opens a new one.
func (l *Ledger) Upsert(ctx context.Context, key, service, metric string, assessment models.AnomalyAssessment) (UpsertResult, error) {
	const op = "ledger.Upsert"
	if key == "" {
		key = models.ServicePair{Service: service, Metric: metric}.Key()
	}

	unlock := l.lockKey(key)
	defer unlock()

	now := l.now()
	existing, found, err := l.backend.FindOpen(ctx, key)
	if err != nil {
		return UpsertResult{}, utils.NewAppError(op, "lookup open incident", err)
	}

	if found {
		existing.Apply(assessment)
		existing.UpdatedAt = now
		if err := l.backend.Update(ctx, existing); err != nil {
			return UpsertResult{}, utils.NewAppError(op, "refresh incident", err)
		}
		return UpsertResult{Incident: existing, Created: false}, nil
	}

	inc := models.Incident{
		Key:        key,
		Service:    service,
		Metric:     metric,
		DetectedAt: now,
		UpdatedAt:  now,
		Status:     models.StatusOpen,
	}
	inc.Apply(assessment)
	stored, err := l.backend.Insert(ctx, inc)
	if err != nil {
		return UpsertResult{}, utils.NewAppError(op, "insert incident", err)
	}
	l.logger.Info("incident opened",
		slog.Int64("incident_id", stored.ID),
		slog.String("key", key),
		slog.Int("severity", stored.Severity))
	return UpsertResult{Incident: stored, Created: true}, nil
}

// Resolve closes an incident. Resolving a resolved incident only refreshes
// updated_at and reports Changed=false.
func (l *Ledger) Resolve(ctx context.Context, id int64) (ResolveResult, error) {
	const op = "ledger.Resolve"
	inc, err := l.Get(ctx, id)
	if err != nil {
		return ResolveResult{}, err
	}

	unlock := l.lockKey(inc.Key)
	defer unlock()

	// re-read under the key lock so a concurrent refresh or resolve is observed
	inc, found, err := l.backend.Get(ctx, id)
	if err != nil {
		return ResolveResult{}, utils.NewAppError(op, "lookup incident", err)
	}
	if !found {
		return ResolveResult{}, utils.NotFound(op, fmt.Sprintf("incident %d not found", id))
	}

	changed := inc.Status == models.StatusOpen
	inc.Status = models.StatusResolved
	inc.UpdatedAt = l.now()
	if err := l.backend.Update(ctx, inc); err != nil {
		return ResolveResult{}, utils.NewAppError(op, "update incident", err)
	}
	if changed {
		l.logger.Info("incident resolved", slog.Int64("incident_id", id), slog.String("key", inc.Key))
	}
	return ResolveResult{Incident: inc, Changed: changed}, nil
}

// Get returns a single incident or a not_found AppError.
func (l *Ledger) Get(ctx context.Context, id int64) (models.Incident, error) {
	const op = "ledger.Get"
	inc, found, err := l.backend.Get(ctx, id)
	if err != nil {
		return models.Incident{}, utils.NewAppError(op, "lookup incident", err)
	}
	if !found {
		return models.Incident{}, utils.NotFound(op, fmt.Sprintf("incident %d not found", id))
	}
	return inc, nil
}

// ListOpen returns open incidents ordered by severity then recency. limit <= 0 means no limit.
func (l *Ledger) ListOpen(ctx context.Context, limit int) ([]models.Incident, error) {
	incidents, err := l.backend.ListOpen(ctx, limit)
	if err != nil {
		return nil, utils.NewAppError("ledger.ListOpen", "list open incidents", err)
	}
	return incidents, nil
}

// ListRecent returns incidents of any status ordered by recency. limit <= 0 means no limit.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]models.Incident, error) {
	incidents, err := l.backend.ListRecent(ctx, limit)
	if err != nil {
		return nil, utils.NewAppError("ledger.ListRecent", "list recent incidents", err)
	}
	return incidents, nil
}

// CandidatePairs returns the pairs to evaluate on a refresh: every pair that has
// ever had an incident, or on a fresh ledger the catalog restricted to recognised metrics.
func (l *Ledger) CandidatePairs(ctx context.Context) ([]models.ServicePair, error) {
	const op = "ledger.CandidatePairs"
	tracked, err := l.backend.TrackedPairs(ctx)
	if err != nil {
		return nil, utils.NewAppError(op, "list tracked pairs", err)
	}
	if len(tracked) > 0 {
		sortPairs(tracked)
		return tracked, nil
	}
	if l.catalog == nil {
		return nil, nil
	}

	services, err := l.catalog.DistinctServices(ctx)
	if err != nil {
		return nil, utils.Unavailable(op, "list services", err)
	}
	pairs := make([]models.ServicePair, 0)
	for _, service := range services {
		metrics, err := l.catalog.DistinctMetrics(ctx, service)
		if err != nil {
			return nil, utils.Unavailable(op, "list metrics for "+service, err)
		}
		for _, metric := range metrics {
			if models.IsRecognisedMetric(metric) {
				pairs = append(pairs, models.ServicePair{Service: service, Metric: metric})
			}
		}
	}
	sortPairs(pairs)
	return pairs, nil
}

func sortPairs(pairs []models.ServicePair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Service != pairs[j].Service {
			return pairs[i].Service < pairs[j].Service
		}
		return pairs[i].Metric < pairs[j].Metric
	})
}
