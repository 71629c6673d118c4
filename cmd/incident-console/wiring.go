package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/miradorstack/incident-console/internal/cache"
	"github.com/miradorstack/incident-console/internal/config"
	"github.com/miradorstack/incident-console/internal/engine"
	"github.com/miradorstack/incident-console/internal/jobs"
	"github.com/miradorstack/incident-console/internal/livefeed"
	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/repo"
	"github.com/miradorstack/incident-console/internal/scan"
	"github.com/miradorstack/incident-console/internal/services"
	"github.com/miradorstack/incident-console/internal/utils"
)

type components struct {
	cache    cache.Provider
	analysis *repo.AnalysisClient
	jobStore *repo.JobStoreClient
	pipeline *engine.Pipeline
	registry *jobs.Registry
	scanner  *scan.Executor
	scanDefs scan.Defaults
	feeds    map[models.FeedKind]livefeed.Config
	notifier notify.Notifier
	logger   *slog.Logger
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, notifier notify.Notifier) (*components, error) {
	provider := buildCache(ctx, cfg.Cache, logger)

	opts := []repo.Option{
		repo.WithCache(provider),
		repo.WithLogger(logger),
		repo.WithLimiter(repo.NewLimiter(cfg.Clients.RateLimit.RPS, cfg.Clients.RateLimit.Burst)),
	}

	analysis := repo.NewAnalysisClient(cfg.Clients.Analysis, cfg.Cache.KnowledgeTTL, opts...)
	jobStore := repo.NewJobStoreClient(cfg.Clients.JobStore, cfg.Cache.LookupTTL, opts...)

	rules, err := engine.LoadEscalationRules(cfg.Rules.Path, logger)
	if err != nil {
		provider.Close()
		return nil, utils.NewAppError("load escalation rules", cfg.Rules.Path, err)
	}
	var escalator engine.Escalator
	if integrator := repo.NewIntegratorClient(cfg.Clients.Integrator, opts...); integrator != nil {
		escalator = integrator
	}

	feeds, err := buildFeeds(cfg, jobStore)
	if err != nil {
		provider.Close()
		return nil, err
	}

	pipeline := engine.NewPipeline(logger, analysis, rules, escalator, notifier, cfg.Clients.Analysis.TopK)
	registry := jobs.NewRegistry(logger, jobStore, jobStore, notifier)
	scanner := scan.NewExecutor(logger, jobStore, notifier)

	return &components{
		cache:    provider,
		analysis: analysis,
		jobStore: jobStore,
		pipeline: pipeline,
		registry: registry,
		scanner:  scanner,
		scanDefs: scan.DefaultsFromConfig(cfg.Scan),
		feeds:    feeds,
		notifier: notifier,
		logger:   logger,
	}, nil
}

func (c *components) Close() {
	c.pipeline.Reset()
	c.pipeline.Wait()
	if err := c.cache.Close(); err != nil {
		c.logger.Warn("cache close", slog.Any("error", err))
	}
}

func (c *components) consoleService() *services.ConsoleService {
	return services.NewConsoleService(c.logger, services.Dependencies{
		NewAnalyzer:  func() services.Analyzer { return c.pipeline.Fork() },
		Registry:     c.registry,
		Scanner:      c.scanner,
		ScanDefaults: c.scanDefs,
		Incidents:    c.jobStore,
		Feeds:        c.feeds,
	})
}

func buildCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.InMemory || cfg.Addr == "" {
		logger.Info("using in-memory cache")
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewRedisProvider(ctx, cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
	})
	if err != nil {
		logger.Warn("redis cache unavailable", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	return provider
}

// buildFeeds returns one controller template per feed kind. The incident
// feed polls the job store's recent-incidents endpoint when no poll URL is
// configured.
func buildFeeds(cfg *config.Config, jobStore *repo.JobStoreClient) (map[models.FeedKind]livefeed.Config, error) {
	streamClient := &http.Client{}
	token := cfg.Clients.JobStore.Token

	feeds := make(map[models.FeedKind]livefeed.Config, 2)
	for kind, fc := range map[models.FeedKind]config.FeedConfig{
		models.FeedIncidents: cfg.Feeds.Incidents,
		models.FeedMetrics:   cfg.Feeds.Metrics,
	} {
		feed := livefeed.Config{Kind: kind, PollInterval: fc.PollInterval}
		stream, err := livefeed.NewStream(fc.StreamURL, token, streamClient)
		if err != nil {
			return nil, fmt.Errorf("%s feed: %w", kind, err)
		}
		feed.Stream = stream
		feed.Fetcher = livefeed.NewFetcher(fc.PollURL, token, &http.Client{Timeout: cfg.Clients.JobStore.Timeout})
		if feed.Fetcher == nil && kind == models.FeedIncidents {
			feed.Fetcher = livefeed.FetcherFunc(func(ctx context.Context) ([]byte, error) {
				return jobStore.FetchIncidentsPayload(ctx)
			})
		}
		if kind == models.FeedIncidents {
			feed.Validate = validateIncidents
		}
		feeds[kind] = feed
	}
	return feeds, nil
}

func validateIncidents(payload []byte) error {
	_, err := repo.DecodeIncidents(payload)
	return err
}
