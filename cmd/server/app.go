package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lucidspace/atelier-api/internal/blob"
	"github.com/lucidspace/atelier-api/internal/config"
	"github.com/lucidspace/atelier-api/internal/deadletter"
	"github.com/lucidspace/atelier-api/internal/generation"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/maintenance"
	"github.com/lucidspace/atelier-api/internal/notify"
	"github.com/lucidspace/atelier-api/internal/platform/postgres"
	"github.com/lucidspace/atelier-api/internal/relay"
	"github.com/lucidspace/atelier-api/internal/service"
	"github.com/lucidspace/atelier-api/internal/store"
	"github.com/lucidspace/atelier-api/internal/worker"
)

// application holds all wired components. Construction order matters:
// stores before services, services before pools.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *sql.DB
	publisher   notify.Publisher
	deadLetters deadletter.Store
	hub         *relay.Hub

	sessionStore store.SessionStore
	renderStore  store.RenderStore

	renderService   service.RenderService
	assetService    service.AssetService
	documentService service.DocumentService
	chatService     service.ChatService

	pools   []*worker.Pool
	sweeper *maintenance.Sweeper
}

// newApplication wires the full dependency graph from configuration.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	sessionStore := postgres.NewPostgresSessionStore(db, logger)
	renderStore := postgres.NewPostgresRenderStore(db, logger)
	assetStore := postgres.NewPostgresAssetStore(db, logger)
	documentStore := postgres.NewPostgresDocumentStore(db, logger)
	jobStore := postgres.NewPostgresJobStore(db, logger)

	deadLetterStore := postgres.NewPostgresDeadLetterStore(db, logger)
	dlq := deadletter.NewQueue(deadLetterStore, logger)

	blobs, err := blob.NewFileStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	var publisher notify.Publisher
	if cfg.Notify.URL != "" {
		publisher, err = notify.NewAMQPPublisher(cfg.Notify.URL, cfg.Notify.Exchange, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect notification broker: %w", err)
		}
	} else {
		publisher = notify.NewNopPublisher(logger)
	}

	hub := relay.NewHub(logger)

	registry := worker.DefaultRegistry()
	if err := registry.Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invalid worker profile registry: %w", err)
	}

	// The upstream AI and media services are external collaborators; the
	// local provider keeps every pipeline runnable without them.
	provider := generation.NewLocalProvider()

	quota := service.QuotaPolicy{
		RendersPerWindow:   cfg.Quota.RendersPerWindow,
		DocumentsPerWindow: cfg.Quota.DocumentsPerWindow,
		Window:             cfg.Quota.Window,
	}

	app := &application{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		publisher:    publisher,
		deadLetters:  deadLetterStore,
		hub:          hub,
		sessionStore: sessionStore,
		renderStore:  renderStore,
	}

	app.renderService, err = service.NewRenderService(
		db, renderStore, sessionStore, jobStore, hub, blobs, provider,
		quota, app.effectiveAttempts(registry, job.TypeAIRenderGenerate), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app.assetService, err = service.NewAssetService(
		db, assetStore, jobStore, hub, blobs, provider,
		app.effectiveAttempts(registry, job.TypeImageVariantOptimize), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app.documentService, err = service.NewDocumentService(
		db, documentStore, sessionStore, jobStore, blobs, provider,
		quota, app.effectiveAttempts(registry, job.TypeDocumentGenerate), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app.chatService, err = service.NewChatService(
		sessionStore, jobStore, hub, provider,
		app.effectiveAttempts(registry, job.TypeAIMessageProcess), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	notificationService, err := service.NewNotificationService(publisher, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	processors := map[job.Type]worker.ProcessFunc{
		job.TypeAIRenderGenerate:     app.renderService.ProcessJob,
		job.TypeImageVariantOptimize: app.assetService.ProcessJob,
		job.TypeDocumentGenerate:     app.documentService.ProcessJob,
		job.TypeAIMessageProcess:     app.chatService.ProcessJob,
		job.TypeNotificationSend:     notificationService.ProcessJob,
	}

	for _, typ := range job.Types() {
		opts := []worker.PoolOption{worker.WithOverrides(app.poolOverrides(typ))}
		if cfg.Worker.PollInterval > 0 {
			opts = append(opts, worker.WithPollInterval(cfg.Worker.PollInterval))
		}

		pool, err := worker.NewPool(typ, processors[typ], registry, jobStore, dlq, logger, opts...)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to build pool for %s: %w", typ, err)
		}
		app.pools = append(app.pools, pool)
	}

	app.sweeper = maintenance.NewSweeper(renderStore, app.renderService, deadLetterStore, cfg.Maintenance, logger)

	return app, nil
}

// poolOverrides translates deploy-time worker config into a profile patch.
func (app *application) poolOverrides(typ job.Type) worker.Overrides {
	var overrides worker.Overrides
	cfgOverride, ok := app.cfg.Worker.Overrides[string(typ)]
	if !ok {
		return overrides
	}
	if cfgOverride.Concurrency > 0 {
		c := cfgOverride.Concurrency
		overrides.Concurrency = &c
	}
	if cfgOverride.Attempts > 0 {
		a := cfgOverride.Attempts
		overrides.Attempts = &a
	}
	return overrides
}

// effectiveAttempts resolves the attempt budget a service should stamp on
// new job records, matching what the pool will enforce.
func (app *application) effectiveAttempts(registry worker.Registry, typ job.Type) int {
	profile, err := registry.Profile(typ)
	if err != nil {
		return 1
	}
	return profile.Apply(app.poolOverrides(typ)).Attempts
}

// run starts the pools, the maintenance sweeps, and the HTTP server, then
// blocks until shutdown. Shutdown order: stop accepting HTTP traffic,
// drain worker pools, stop sweeps, release the broker and database.
func (app *application) run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, pool := range app.pools {
		pool.Start()
	}
	if err := app.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance sweeps: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler: app.setupRouter(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", "port", app.cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("server shutdown failed", "error", err)
		}

		for _, pool := range app.pools {
			pool.Stop()
		}
		if err := app.sweeper.Stop(shutdownCtx); err != nil {
			app.logger.Error("sweeper shutdown failed", "error", err)
		}
		return nil
	})

	err := g.Wait()
	app.cleanup()
	app.logger.Info("shutdown complete")
	return err
}

// cleanup releases external resources. Safe to call once after run.
func (app *application) cleanup() {
	if err := app.publisher.Close(); err != nil {
		app.logger.Error("failed to close notification publisher", "error", err)
	}
	if err := app.deadLetters.Close(); err != nil {
		app.logger.Error("failed to close dead letter store", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}
