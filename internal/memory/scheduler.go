package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mnemolabs/mnemo/internal/memory")

// SchedulerConfig tunes the lifecycle scheduler.
type SchedulerConfig struct {
	// Interval between sweep cycles.
	Interval time.Duration

	// Budget is the wall-clock limit for one tenant's sweep. Sweeps that
	// overrun are canceled; partial progress persists.
	Budget time.Duration

	// Concurrency caps how many tenants are swept in parallel.
	Concurrency int
}

// DefaultSchedulerConfig returns the default cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    15 * time.Minute,
		Budget:      10 * time.Minute,
		Concurrency: 4,
	}
}

// Scheduler drives the background lifecycle: TTL eviction, consolidation,
// and contradiction detection, in that order per tenant. Eviction runs
// first so consolidation never wastes Reasoner or embedding work on records
// about to expire.
//
// A session-scoped Postgres advisory lock keyed on the tenant id guarantees
// at most one sweep per tenant across every process sharing the database.
type Scheduler struct {
	pool         *pgxpool.Pool
	store        *Store
	consolidator *Consolidator
	detector     *Detector
	config       SchedulerConfig
	logger       *slog.Logger
	generation   atomic.Int64
}

// NewScheduler creates a lifecycle scheduler.
func NewScheduler(pool *pgxpool.Pool, store *Store, consolidator *Consolidator, detector *Detector, config SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if consolidator == nil {
		return nil, fmt.Errorf("consolidator is required")
	}
	if detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	if config.Budget <= 0 {
		config.Budget = DefaultSchedulerConfig().Budget
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultSchedulerConfig().Concurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pool:         pool,
		store:        store,
		consolidator: consolidator,
		detector:     detector,
		config:       config,
		logger:       logger,
	}, nil
}

// Run blocks until ctx is canceled, sweeping all tenants on each tick.
// The first cycle runs immediately. Callers must track the goroutine with
// a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle sweeps every known tenant, at most Concurrency at a time.
// Per-tenant failures are isolated.
func (s *Scheduler) runCycle(ctx context.Context) {
	tenants, err := s.tenants(ctx)
	if err != nil {
		s.logger.Warn("listing tenants for sweep", "error", err)
		return
	}
	if len(tenants) == 0 {
		return
	}

	gen := s.generation.Add(1)
	s.logger.Debug("sweep cycle starting", "generation", gen, "tenants", len(tenants))

	sem := make(chan struct{}, s.config.Concurrency)
	var wg sync.WaitGroup
	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(tenantID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.SweepTenant(ctx, tenantID, gen); err != nil {
				s.logger.Warn("tenant sweep failed", "tenant_id", tenantID, "error", err)
			}
		}(tenantID)
	}
	wg.Wait()
}

// SweepTenant runs one full lifecycle pass for a tenant under the advisory
// lock and the wall-clock budget. Returns ErrSweepInProgress when another
// sweep for the tenant already holds the lock.
func (s *Scheduler) SweepTenant(ctx context.Context, tenantID string, generation int64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant ID is required", ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "memory.sweep_tenant", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.Int64("sweep.generation", generation),
	))
	defer span.End()

	// The lock is session-scoped, so the same connection must hold it for
	// the whole sweep and release it at the end.
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring sweep connection: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock(hashtext($1))`, tenantID,
	).Scan(&locked); err != nil {
		return fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !locked {
		s.logger.Debug("sweep already in progress", "tenant_id", tenantID)
		return ErrSweepInProgress
	}
	defer func() {
		// Unlock on the original connection, outside the (possibly expired)
		// sweep context.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		var unlocked bool
		if err := conn.QueryRow(unlockCtx,
			`SELECT pg_advisory_unlock(hashtext($1))`, tenantID,
		).Scan(&unlocked); err != nil || !unlocked {
			s.logger.Warn("releasing sweep lock", "tenant_id", tenantID, "error", err)
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, s.config.Budget)
	defer cancel()

	start := time.Now()
	s.runPhases(sweepCtx, tenantID, generation)
	s.logger.Info("tenant sweep complete",
		"tenant_id", tenantID, "generation", generation, "elapsed", time.Since(start))
	return nil
}

// runPhases executes eviction, consolidation, and detection for one tenant.
// Phase failures are logged and the remaining phases still run; a failing
// embedder should not stop TTL eviction on the next phase boundary.
func (s *Scheduler) runPhases(ctx context.Context, tenantID string, generation int64) {
	now := time.Now()
	for _, tier := range []Tier{TierShort, TierMedium} {
		n, err := s.store.EvictExpired(ctx, tenantID, tier, now)
		if err != nil {
			s.logger.Warn("evicting expired memories", "tenant_id", tenantID, "tier", tier, "error", err)
		} else if n > 0 {
			s.logger.Info("expired memories evicted", "tenant_id", tenantID, "tier", tier, "count", n)
		}
	}

	for _, tier := range []Tier{TierMedium, TierLong} {
		stats, err := s.consolidator.Sweep(ctx, tenantID, tier)
		if err != nil {
			s.logger.Warn("consolidation sweep failed", "tenant_id", tenantID, "tier", tier, "error", err)
			continue
		}
		if stats.Merged > 0 || stats.Failures > 0 {
			s.logger.Info("consolidation sweep complete",
				"tenant_id", tenantID, "tier", tier,
				"examined", stats.Examined, "groups", stats.Groups,
				"merged", stats.Merged, "failures", stats.Failures)
		}
	}

	stats, err := s.detector.Sweep(ctx, tenantID, TierLong, generation)
	if err != nil {
		s.logger.Warn("contradiction sweep failed", "tenant_id", tenantID, "error", err)
		return
	}
	if stats.Emitted > 0 || stats.ReasonerErrors > 0 {
		s.logger.Info("contradiction sweep complete",
			"tenant_id", tenantID,
			"examined", stats.Examined, "compared", stats.Compared,
			"emitted", stats.Emitted, "reasoner_errors", stats.ReasonerErrors)
	}
}

// tenants returns every tenant with at least one record.
func (s *Scheduler) tenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM memories ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return tenants, nil
}
