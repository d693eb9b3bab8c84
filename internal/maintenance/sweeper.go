// Package maintenance runs the periodic background sweeps: dead-letter
// retention and stuck-render reconciliation.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lucidspace/atelier-api/internal/config"
	"github.com/lucidspace/atelier-api/internal/deadletter"
	"github.com/lucidspace/atelier-api/internal/service"
	"github.com/lucidspace/atelier-api/internal/store"
)

// Sweeper owns the maintenance schedule. Each tick prunes expired
// dead-letter entries and fails renders stuck in processing past the
// configured age, so a crashed worker cannot leave a render spinning
// forever in the client.
type Sweeper struct {
	renders     store.RenderStore
	renderSvc   service.RenderService
	deadLetters deadletter.Store
	cfg         config.MaintenanceConfig
	logger      *slog.Logger
	cron        *cron.Cron
}

// NewSweeper creates a Sweeper.
// It panics if any required dependency is nil.
func NewSweeper(
	renders store.RenderStore,
	renderSvc service.RenderService,
	deadLetters deadletter.Store,
	cfg config.MaintenanceConfig,
	logger *slog.Logger,
) *Sweeper {
	if renders == nil {
		panic("renders cannot be nil")
	}
	if renderSvc == nil {
		panic("renderSvc cannot be nil")
	}
	if deadLetters == nil {
		panic("deadLetters cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		renders:     renders,
		renderSvc:   renderSvc,
		deadLetters: deadLetters,
		cfg:         cfg,
		logger:      logger.With("component", "maintenance_sweeper"),
	}
}

// Start registers the sweep on the configured schedule and starts the
// scheduler. The schedule accepts standard cron expressions and the
// "@every <duration>" shorthand.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Sweep(ctx)
	}); err != nil {
		return err
	}

	s.cron = c
	c.Start()
	s.logger.Info("maintenance sweeps scheduled", "schedule", s.cfg.SweepSchedule)
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish,
// or for the context to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs both maintenance passes once. Each pass logs and continues on
// error; a failed pass retries on the next tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.pruneDeadLetters(ctx)
	s.failStuckRenders(ctx)
}

func (s *Sweeper) pruneDeadLetters(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.DeadLetterRetention)
	removed, err := s.deadLetters.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("dead-letter retention sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("dead-letter entries pruned",
			"removed", removed,
			"cutoff", cutoff)
	}
}

func (s *Sweeper) failStuckRenders(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.StuckRenderAge)
	stuck, err := s.renders.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		s.logger.Error("stuck-render scan failed", "error", err)
		return
	}

	for _, render := range stuck {
		if err := s.renderSvc.FailRender(ctx, render.ID, "render timed out in processing"); err != nil {
			s.logger.Error("failed to settle stuck render",
				"error", err,
				"render_id", render.ID)
			continue
		}
		s.logger.Warn("stuck render failed by sweep",
			"render_id", render.ID,
			"session_id", render.SessionID,
			"stuck_since", render.UpdatedAt)
	}
}
