package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidspace/atelier-api/internal/config"
	"github.com/lucidspace/atelier-api/internal/deadletter"
	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/service"
	"github.com/lucidspace/atelier-api/internal/store"
)

type stubRenderStore struct {
	store.RenderStore

	stuck   []*domain.Render
	scanErr error
}

func (s *stubRenderStore) ListStuckProcessing(_ context.Context, _ time.Time) ([]*domain.Render, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.stuck, nil
}

type stubRenderService struct {
	service.RenderService

	failed  []uuid.UUID
	failErr error
}

func (s *stubRenderService) FailRender(_ context.Context, id uuid.UUID, _ string) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.failed = append(s.failed, id)
	return nil
}

func sweeperConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		DeadLetterRetention: 7 * 24 * time.Hour,
		StuckRenderAge:      30 * time.Minute,
		SweepSchedule:       "@every 10m",
	}
}

func TestSweep_PrunesExpiredDeadLetters(t *testing.T) {
	letters := deadletter.NewMemoryStore()
	ctx := context.Background()

	old := deadletter.Entry{
		OriginalJobID: uuid.New(),
		JobType:       job.TypeAIRenderGenerate,
		FailureReason: "exhausted attempts",
		FailedAt:      time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	fresh := deadletter.Entry{
		OriginalJobID: uuid.New(),
		JobType:       job.TypeAIRenderGenerate,
		FailureReason: "exhausted attempts",
		FailedAt:      time.Now().UTC(),
	}
	require.NoError(t, letters.Append(ctx, old))
	require.NoError(t, letters.Append(ctx, fresh))

	sweeper := NewSweeper(&stubRenderStore{}, &stubRenderService{}, letters, sweeperConfig(), nil)
	sweeper.Sweep(ctx)

	require.Equal(t, 1, letters.Len())
	remaining, err := letters.List(ctx, job.TypeAIRenderGenerate, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.OriginalJobID, remaining[0].OriginalJobID)
}

func TestSweep_FailsStuckRenders(t *testing.T) {
	stuckID := uuid.New()
	renders := &stubRenderStore{
		stuck: []*domain.Render{{ID: stuckID, SessionID: uuid.New(), Status: domain.EntityStatusProcessing}},
	}
	renderSvc := &stubRenderService{}

	sweeper := NewSweeper(renders, renderSvc, deadletter.NewMemoryStore(), sweeperConfig(), nil)
	sweeper.Sweep(context.Background())

	require.Len(t, renderSvc.failed, 1)
	assert.Equal(t, stuckID, renderSvc.failed[0])
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	renders := &stubRenderStore{scanErr: errors.New("db unavailable")}
	letters := deadletter.NewMemoryStore()

	sweeper := NewSweeper(renders, &stubRenderService{}, letters, sweeperConfig(), nil)

	// Both passes run even when one errors; neither panics.
	sweeper.Sweep(context.Background())
}

func TestSweeper_StartStop(t *testing.T) {
	sweeper := NewSweeper(&stubRenderStore{}, &stubRenderService{}, deadletter.NewMemoryStore(), sweeperConfig(), nil)
	require.NoError(t, sweeper.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sweeper.Stop(ctx))
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	cfg := sweeperConfig()
	cfg.SweepSchedule = "not a schedule"

	sweeper := NewSweeper(&stubRenderStore{}, &stubRenderService{}, deadletter.NewMemoryStore(), cfg, nil)
	assert.Error(t, sweeper.Start())
}
