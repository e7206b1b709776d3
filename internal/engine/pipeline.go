package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-sentry/internal/extractors"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

const (
	defaultSeriesLimit = 240
	defaultWorkers     = 4
)

// PipelineConfig tunes detection sweeps.
type PipelineConfig struct {
	SeriesLimit int
	Workers     int
}

// Pipeline runs the detector over stored series and records results in the ledger.
type Pipeline struct {
	logger    *slog.Logger
	store     MetricStore
	ledger    IncidentLedger
	detector  *extractors.AnomalyDetector
	publisher EventPublisher
	cfg       PipelineConfig
	now       func() time.Time
}

// NewPipeline constructs a detection pipeline. publisher may be nil.
func NewPipeline(
	logger *slog.Logger,
	store MetricStore,
	ledger IncidentLedger,
	detector *extractors.AnomalyDetector,
	publisher EventPublisher,
	cfg PipelineConfig,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if detector == nil {
		detector = extractors.NewAnomalyDetector(extractors.DetectorConfig{})
	}
	if cfg.SeriesLimit <= 0 {
		cfg.SeriesLimit = defaultSeriesLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Pipeline{
		logger:    logger,
		store:     store,
		ledger:    ledger,
		detector:  detector,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DetectOne evaluates one pair. It returns nil when the series is not anomalous,
// otherwise the created or refreshed incident.
func (p *Pipeline) DetectOne(ctx context.Context, pair models.ServicePair) (*models.Incident, error) {
	const op = "pipeline.DetectOne"
	if p.store == nil || p.ledger == nil {
		return nil, utils.NewAppError(op, "pipeline not configured", nil)
	}
	if pair.Service == "" || pair.Metric == "" {
		return nil, utils.Invalid(op, "service and metric are required", nil)
	}

	series, err := p.store.SeriesFor(ctx, pair.Service, pair.Metric, p.cfg.SeriesLimit)
	if err != nil {
		metrics.ObserveDetection(metrics.OutcomeError)
		return nil, utils.Unavailable(op, fmt.Sprintf("load series %s", pair.Key()), err)
	}

	assessment, outcome := p.detector.Evaluate(pair.Metric, series)
	metrics.ObserveDetection(string(outcome))
	if outcome != extractors.OutcomeAnomalous {
		p.logger.Debug("no anomaly",
			slog.String("key", pair.Key()),
			slog.String("outcome", string(outcome)),
			slog.Int("points", len(series)))
		return nil, nil
	}

	result, err := p.ledger.Upsert(ctx, pair.Key(), pair.Service, pair.Metric, assessment)
	if err != nil {
		return nil, err
	}
	if result.Created {
		metrics.IncidentCreated()
		p.publish(models.IncidentCreatedEvent(result.Incident, p.now()))
	}
	incident := result.Incident
	return &incident, nil
}

// DetectMany evaluates pairs concurrently. Failing pairs are skipped and reported
// together in the returned error; incidents keep the input order.
func (p *Pipeline) DetectMany(ctx context.Context, pairs []models.ServicePair) ([]models.Incident, error) {
	slots := make([]*models.Incident, len(pairs))

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	for i, pair := range pairs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			inc, err := p.DetectOne(ctx, pair)
			if err != nil {
				p.logger.Warn("detection skipped", slog.String("key", pair.Key()), slog.Any("error", err))
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", pair.Key(), err))
				mu.Unlock()
				return nil
			}
			slots[i] = inc
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incidents := make([]models.Incident, 0, len(pairs))
	for _, inc := range slots {
		if inc != nil {
			incidents = append(incidents, *inc)
		}
	}
	return incidents, errs.ErrorOrNil()
}

// DetectAll runs DetectMany over the ledger's candidate pairs.
func (p *Pipeline) DetectAll(ctx context.Context) ([]models.Incident, error) {
	if p.ledger == nil {
		return nil, utils.NewAppError("pipeline.DetectAll", "pipeline not configured", nil)
	}
	pairs, err := p.ledger.CandidatePairs(ctx)
	if err != nil {
		return nil, err
	}
	return p.DetectMany(ctx, pairs)
}

func (p *Pipeline) publish(event models.Event) {
	if p.publisher == nil {
		return
	}
	delivered := p.publisher.Publish(event)
	p.logger.Debug("event published", slog.String("type", string(event.Type)), slog.Int("subscribers", delivered))
}

// IsPartialFailure reports whether err only describes skipped pairs.
func IsPartialFailure(err error) bool {
	var merr *multierror.Error
	return errors.As(err, &merr)
}
