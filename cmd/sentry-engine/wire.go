package main

import (
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-sentry/internal/cache"
	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/engine"
	"github.com/miradorstack/mirador-sentry/internal/extractors"
	"github.com/miradorstack/mirador-sentry/internal/hub"
	"github.com/miradorstack/mirador-sentry/internal/ledger"
	"github.com/miradorstack/mirador-sentry/internal/postmortem"
	"github.com/miradorstack/mirador-sentry/internal/repo"
	"github.com/miradorstack/mirador-sentry/internal/services"
	"github.com/miradorstack/mirador-sentry/internal/summary"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// signalSource is what detection, analysis and summaries read from.
type signalSource interface {
	engine.MetricStore
	engine.LogStore
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *repo.SQLiteStore
	cache    cache.Provider
	hub      *hub.EventHub
	renderer *postmortem.FileRenderer
	service  *services.SentryService
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, nil)
	return cfg, logger, nil
}

// buildApp opens storage and wires the service graph.
// Incidents always live in SQLite; the remote driver only moves signal reads.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := repo.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store, cache: cache.NoopProvider{}}

	var source signalSource = store
	var catalog ledger.Catalog = store
	var series summary.SeriesSource = store
	var writer services.SignalWriter = store

	if cfg.Storage.Driver == config.DriverRemote {
		if cfg.Cache.Enabled {
			lru, err := cache.NewLRUProvider(cfg.Cache.Size)
			if err != nil {
				store.Close()
				return nil, fmt.Errorf("create catalog cache: %w", err)
			}
			a.cache = lru
		}
		client := repo.NewSignalClient(repo.SignalClientConfig{
			BaseURL:     cfg.Clients.Signals.BaseURL,
			SeriesPath:  cfg.Clients.Signals.SeriesPath,
			WindowPath:  cfg.Clients.Signals.WindowPath,
			LogsPath:    cfg.Clients.Signals.LogsPath,
			CatalogPath: cfg.Clients.Signals.CatalogPath,
			Timeout:     cfg.Clients.Signals.Timeout,
			MaxRetries:  cfg.Clients.Signals.MaxRetries,
			CatalogTTL:  cfg.Cache.CatalogTTL,
		}, a.cache, logger)
		source, catalog, series, writer = client, client, client, nil
		logger.Info("reading signals from remote API", slog.String("base_url", cfg.Clients.Signals.BaseURL))
	}

	rules, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load rule pack: %w", err)
	}
	if rules == nil {
		logger.Info("rule pack not found, using built-in rules", slog.String("path", cfg.Rules.Path))
	}

	renderer, err := postmortem.NewFileRenderer(cfg.Postmortem.ExportDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.renderer = renderer

	a.hub = hub.New(logger)
	incidents := ledger.New(store, catalog, ledger.WithLogger(logger))
	detector := extractors.NewAnomalyDetector(extractors.DetectorConfig{
		WindowSize: cfg.Detection.WindowSize,
		MinPoints:  cfg.Detection.MinPoints,
		Threshold:  cfg.Detection.Threshold,
	})
	pipeline := engine.NewPipeline(logger, source, incidents, detector, a.hub, engine.PipelineConfig{
		SeriesLimit: cfg.Detection.SeriesLimit,
		Workers:     cfg.Detection.Workers,
	})
	analyzer := engine.NewRootCauseAnalyzer(logger, source, source, rules, engine.AnalyzerConfig{
		Padding:        cfg.Analysis.Padding,
		MetricLimit:    cfg.Analysis.MetricLimit,
		LogLimit:       cfg.Analysis.LogLimit,
		MinCorrelation: cfg.Analysis.MinCorrelation,
		MaxHypotheses:  cfg.Analysis.MaxHypotheses,
	})

	composerOpts := []postmortem.Option{postmortem.WithPlanner(rules), postmortem.WithLogger(logger)}
	archive := repo.NewArchiveRepo(cfg.Archive.Endpoint, cfg.Archive.APIKey, cfg.Archive.Timeout, cfg.Archive.MaxRetries)
	if archive.Enabled() {
		composerOpts = append(composerOpts, postmortem.WithArchiver(archive))
	}

	a.service = services.NewSentryService(logger, services.Dependencies{
		Detector:        pipeline,
		Analyzer:        analyzer,
		Incidents:       incidents,
		Composer:        postmortem.NewComposer(renderer, composerOpts...),
		Windows:         source,
		Writer:          writer,
		Summaries:       summary.NewBuilder(logger, series, incidents),
		Health:          store,
		Hub:             a.hub,
		TimelinePadding: cfg.Analysis.Padding,
		TimelineLimit:   cfg.Analysis.MetricLimit,
	})
	return a, nil
}

// Close releases the hub, cache, and database.
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close failed", slog.Any("error", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", slog.Any("error", err))
		}
	}
}
