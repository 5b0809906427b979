// Package app provides application initialization and dependency injection.
//
// App is the container that wires the memory subsystem together: the
// PostgreSQL pool, the vector index, the embedding and reasoning providers,
// and the lifecycle engines built on top of them.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemolabs/mnemo/internal/config"
	"github.com/mnemolabs/mnemo/internal/embed"
	"github.com/mnemolabs/mnemo/internal/memory"
)

// App is the core application container.
type App struct {
	// Configuration
	Config *config.Config

	// Core services
	Genkit   *genkit.Genkit
	DBPool   *pgxpool.Pool
	Embedder embed.Provider

	// Memory subsystem
	Store        *memory.Store
	Ranker       *memory.Ranker
	Consolidator *memory.Consolidator
	Detector     *memory.Detector
	Scheduler    *memory.Scheduler

	logger *slog.Logger

	// Lifecycle management
	cancel       context.CancelFunc
	schedulerWG  sync.WaitGroup
	otelCleanup  func()
	dbCleanup    func()
	embedCleanup func()
}

// StartScheduler launches the background lifecycle scheduler. It runs until
// the app context is canceled via Close.
func (a *App) StartScheduler(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.schedulerWG.Add(1)
	go func() {
		defer a.schedulerWG.Done()
		a.Scheduler.Run(runCtx)
	}()
	a.logger.Info("lifecycle scheduler started",
		"interval", a.Config.Lifecycle.SweepInterval,
		"concurrency", a.Config.Lifecycle.SweepConcurrency)
}

// Close gracefully shuts down all resources. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.logger != nil {
		a.logger.Info("shutting down")
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.schedulerWG.Wait()

	if a.embedCleanup != nil {
		a.embedCleanup()
	}
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
