package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemolabs/mnemo/db"
	"github.com/mnemolabs/mnemo/internal/config"
	"github.com/mnemolabs/mnemo/internal/embed"
	"github.com/mnemolabs/mnemo/internal/memory"
	"github.com/mnemolabs/mnemo/internal/notify"
	"github.com/mnemolabs/mnemo/internal/observability"
	"github.com/mnemolabs/mnemo/internal/reason"
	"github.com/mnemolabs/mnemo/internal/vector"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, embedCleanup, err := provideEmbedder(g, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.embedCleanup = embedCleanup
	a.Embedder = embedder

	index, err := vector.NewPG(pool)
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}

	if err := provideMemory(a, g, index, embedder); err != nil {
		return nil, err
	}

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing before anything that might emit
// spans. Returns a cleanup that flushes pending spans.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("tracing setup failed, continuing without", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the Google AI plugin, which backs
// both the embedder and the Reasoner.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	return g, nil
}

// provideEmbedder builds the embedding provider chain:
// Genkit model -> retry on transient failures -> in-process cache.
//
// The cache matters most to sweeps, which re-embed stable content on every
// pass; exact-text hits skip the API entirely.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config, logger *slog.Logger) (embed.Provider, func(), error) {
	base, err := embed.NewGenkit(googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), cfg.EmbedderDimension)
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	retrying, err := embed.NewRetrying(base, embed.DefaultRetryConfig(), logger.With("component", "embed"))
	if err != nil {
		return nil, nil, fmt.Errorf("wrapping embedder with retry: %w", err)
	}

	cached, err := embed.NewCached(retrying)
	if err != nil {
		return nil, nil, fmt.Errorf("wrapping embedder with cache: %w", err)
	}
	return cached, cached.Close, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideMemory wires the memory subsystem: store, ranker, consolidator,
// detector, and scheduler, all sharing the pool, index, and embedder.
func provideMemory(a *App, g *genkit.Genkit, index vector.Index, embedder embed.Provider) error {
	cfg := a.Config
	lc := cfg.Lifecycle
	logger := a.logger

	store, err := memory.NewStore(a.DBPool, index, embedder, memory.TTLPolicy{
		Short:  lc.TTLShort,
		Medium: lc.TTLMedium,
	}, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("creating memory store: %w", err)
	}
	a.Store = store

	ranker, err := memory.NewRanker(store, memory.RankWeights{
		Similarity: lc.SimilarityWeight,
		Recency:    lc.RecencyWeight,
		Importance: lc.ImportanceWeight,
	}, lc.RecencyHalfLife, logger.With("component", "ranker"))
	if err != nil {
		return fmt.Errorf("creating ranker: %w", err)
	}
	a.Ranker = ranker

	consolidator, err := memory.NewConsolidator(store, memory.ConsolidationConfig{
		Threshold: lc.DedupThreshold,
		NeighborK: memory.NeighborK,
	}, logger.With("component", "consolidator"))
	if err != nil {
		return fmt.Errorf("creating consolidator: %w", err)
	}
	a.Consolidator = consolidator

	reasoner, err := reason.NewGenkit(g, cfg.ReasonerModel, cfg.ReasonerRateLimit, cfg.ReasonerBurst)
	if err != nil {
		return fmt.Errorf("creating reasoner: %w", err)
	}

	sink, err := provideSink(lc.WebhookURL, logger)
	if err != nil {
		return err
	}

	detectorCfg := memory.DefaultDetectorConfig()
	detectorCfg.ConfidenceGate = lc.ConfidenceGate
	detector, err := memory.NewDetector(store, reasoner, sink, detectorCfg,
		logger.With("component", "detector"))
	if err != nil {
		return fmt.Errorf("creating detector: %w", err)
	}
	a.Detector = detector

	scheduler, err := memory.NewScheduler(a.DBPool, store, consolidator, detector, memory.SchedulerConfig{
		Interval:    lc.SweepInterval,
		Budget:      lc.SweepBudget,
		Concurrency: lc.SweepConcurrency,
	}, logger.With("component", "scheduler"))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	a.Scheduler = scheduler

	return nil
}

// provideSink builds the notification sink: always the log sink, plus the
// webhook when configured.
func provideSink(webhookURL string, logger *slog.Logger) (notify.Sink, error) {
	logSink := notify.NewLogSink(logger.With("component", "notify"))
	if webhookURL == "" {
		return logSink, nil
	}
	webhook, err := notify.NewWebhookSink(webhookURL, logger.With("component", "notify"))
	if err != nil {
		return nil, fmt.Errorf("creating webhook sink: %w", err)
	}
	return notify.Multi{logSink, webhook}, nil
}
