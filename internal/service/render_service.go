package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/generation"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/relay"
	"github.com/lucidspace/atelier-api/internal/store"
)

// BlobStore is the subset of blob storage the services need.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// RenderService provides render-related operations.
type RenderService interface {
	// RequestRender creates a render and durably enqueues its generation
	// job. The returned render is in processing status.
	RequestRender(ctx context.Context, sessionID, roomID uuid.UUID, prompt string) (*domain.Render, error)

	// GetRender retrieves a render by its ID. This is the authoritative
	// read clients use to reconcile after channel events.
	GetRender(ctx context.Context, id uuid.UUID) (*domain.Render, error)

	// ListSessionRenders retrieves all renders for a session, newest first.
	ListSessionRenders(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error)

	// ProcessJob executes one ai-render-generate job attempt.
	ProcessJob(ctx context.Context, rec *job.Record) error

	// FailRender marks a render failed with the given reason and emits the
	// failure event. Idempotent. Used by the orphan sweep as well as the
	// job's own terminal failure path.
	FailRender(ctx context.Context, id uuid.UUID, reason string) error
}

type renderServiceImpl struct {
	db        *sql.DB
	renders   store.RenderStore
	sessions  store.SessionStore
	jobs      job.Store
	hub       *relay.Hub
	blobs     BlobStore
	generator generation.RenderGenerator
	quota     QuotaPolicy
	attempts  int
	logger    *slog.Logger
}

// NewRenderService creates a new RenderService.
// It returns an error if any of the required dependencies are nil.
func NewRenderService(
	db *sql.DB,
	renders store.RenderStore,
	sessions store.SessionStore,
	jobs job.Store,
	hub *relay.Hub,
	blobs BlobStore,
	generator generation.RenderGenerator,
	quota QuotaPolicy,
	attempts int,
	logger *slog.Logger,
) (RenderService, error) {
	if db == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "db cannot be nil"}
	}
	if renders == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "renders cannot be nil"}
	}
	if sessions == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "sessions cannot be nil"}
	}
	if jobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "jobs cannot be nil"}
	}
	if hub == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "hub cannot be nil"}
	}
	if blobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "blobs cannot be nil"}
	}
	if generator == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "generator cannot be nil"}
	}
	if attempts < 1 {
		return nil, &ServiceError{Operation: "create_service", Message: "attempts must be at least 1"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &renderServiceImpl{
		db:        db,
		renders:   renders,
		sessions:  sessions,
		jobs:      jobs,
		hub:       hub,
		blobs:     blobs,
		generator: generator,
		quota:     quota,
		attempts:  attempts,
		logger:    logger.With("component", "render_service"),
	}, nil
}

// RequestRender creates the render record and its generation job in one
// transaction; if the job cannot be enqueued the record rolls back with it
// and the request fails whole.
func (s *renderServiceImpl) RequestRender(
	ctx context.Context,
	sessionID, roomID uuid.UUID,
	prompt string,
) (*domain.Render, error) {
	// Verify the room exists and belongs to the session.
	room, err := s.sessions.GetRoom(ctx, roomID)
	if err != nil {
		return nil, NewServiceError("request_render", "failed to retrieve room", err)
	}
	if room.SessionID != sessionID {
		return nil, ErrRoomMismatch
	}

	// Quota guard over the rolling window.
	since := time.Now().UTC().Add(-s.quota.Window)
	count, err := s.renders.CountBySessionSince(ctx, sessionID, since)
	if err != nil {
		return nil, NewServiceError("request_render", "failed to check render quota", err)
	}
	if count >= s.quota.RendersPerWindow {
		s.logger.Warn("render quota exceeded",
			"session_id", sessionID,
			"count", count,
			"limit", s.quota.RendersPerWindow)
		return nil, ErrQuotaExceeded
	}

	render, err := domain.NewRender(sessionID, roomID, prompt)
	if err != nil {
		return nil, NewServiceError("request_render", "failed to create render object", err)
	}

	payload, err := json.Marshal(RenderJobPayload{
		Envelope: job.Envelope{EntityID: render.ID, SessionID: sessionID},
		RoomID:   roomID,
		Prompt:   prompt,
	})
	if err != nil {
		return nil, NewServiceError("request_render", "failed to marshal job payload", err)
	}

	rec, err := job.NewRecord(job.TypeAIRenderGenerate, payload, s.attempts)
	if err != nil {
		return nil, NewServiceError("request_render", "failed to create job record", err)
	}

	// Entity row, job row, and the pending→processing transition commit
	// together: there is never a live job pointing at a pending render,
	// and never a processing render without a durable job.
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.renders.WithTx(tx).Create(ctx, render); err != nil {
			return NewServiceError("request_render", "failed to save render", err)
		}
		if err := s.jobs.WithTx(tx).Enqueue(ctx, rec); err != nil {
			return NewServiceError("request_render", "failed to enqueue generation job", err)
		}
		if err := render.Transition(domain.EntityStatusProcessing); err != nil {
			return NewServiceError("request_render", "failed to transition render", err)
		}
		if err := s.renders.WithTx(tx).Update(ctx, render); err != nil {
			return NewServiceError("request_render", "failed to update render status", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("render requested",
		"render_id", render.ID,
		"session_id", sessionID,
		"room_id", roomID,
		"job_id", rec.ID)
	return render, nil
}

// GetRender retrieves a render by its ID.
func (s *renderServiceImpl) GetRender(ctx context.Context, id uuid.UUID) (*domain.Render, error) {
	render, err := s.renders.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_render", "failed to retrieve render", err)
	}
	return render, nil
}

// ListSessionRenders retrieves all renders for a session.
func (s *renderServiceImpl) ListSessionRenders(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error) {
	renders, err := s.renders.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, NewServiceError("list_renders", "failed to list renders", err)
	}
	return renders, nil
}

// ProcessJob executes one generation attempt. Transient failures return an
// error so the pool retries; on the final attempt the render is settled to
// failed before the job is dead-lettered. Safety-blocked prompts are failed
// immediately since retrying cannot help.
func (s *renderServiceImpl) ProcessJob(ctx context.Context, rec *job.Record) error {
	var payload RenderJobPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		s.failOnFinalAttempt(ctx, rec, "malformed job payload")
		return fmt.Errorf("failed to decode render job payload: %w", err)
	}

	render, err := s.renders.GetByID(ctx, payload.EntityID)
	if err != nil {
		if errors.Is(err, store.ErrRenderNotFound) {
			// The render was deleted out from under the job; nothing to do.
			s.logger.Warn("render job for missing render",
				"render_id", payload.EntityID,
				"job_id", rec.ID)
			return nil
		}
		return fmt.Errorf("failed to load render: %w", err)
	}

	if render.Status.IsTerminal() {
		// A previous attempt (or the orphan sweep) already settled it.
		s.logger.Info("render already terminal, skipping job",
			"render_id", render.ID,
			"status", render.Status)
		return nil
	}

	s.publish(relay.EventRenderStarted, payload.SessionID, relay.RenderStartedData{
		EntityID:  render.ID,
		RoomID:    render.RoomID,
		SessionID: payload.SessionID,
	})

	onProgress := func(stage relay.RenderStage, progress int) {
		s.publish(relay.EventRenderProgress, payload.SessionID, relay.RenderProgressData{
			EntityID:  render.ID,
			RoomID:    render.RoomID,
			SessionID: payload.SessionID,
			Progress:  progress,
			Stage:     stage,
		})
	}

	image, err := s.generator.GenerateRender(ctx, payload.Prompt, onProgress)
	if err != nil {
		if errors.Is(err, generation.ErrContentBlocked) {
			// Retrying a blocked prompt is pointless; settle now and
			// consume the job.
			s.failRender(ctx, render, "prompt blocked by safety filters")
			return nil
		}
		if isFinalAttempt(rec) {
			s.failRender(ctx, render, fmt.Sprintf("generation failed: %v", err))
		}
		return fmt.Errorf("render generation failed: %w", err)
	}

	onProgress(relay.StageUploading, 90)

	key := fmt.Sprintf("renders/%s/render.png", render.ID)
	url, err := s.blobs.Put(ctx, key, image)
	if err != nil {
		if isFinalAttempt(rec) {
			s.failRender(ctx, render, fmt.Sprintf("artifact upload failed: %v", err))
		}
		return fmt.Errorf("failed to store render artifact: %w", err)
	}

	onProgress(relay.StageFinalizing, 95)

	// Artifact first, then status: a ready render always has its URL.
	render.Metadata[domain.MetaArtifactURL] = url
	if err := render.Transition(domain.EntityStatusReady); err != nil {
		return fmt.Errorf("failed to transition render to ready: %w", err)
	}
	if err := s.renders.Update(ctx, render); err != nil {
		if isFinalAttempt(rec) {
			s.failRender(ctx, render, fmt.Sprintf("failed to persist result: %v", err))
		}
		return fmt.Errorf("failed to persist ready render: %w", err)
	}

	s.publish(relay.EventRenderComplete, payload.SessionID, relay.RenderCompleteData{
		EntityID: render.ID,
		RoomID:   render.RoomID,
	})

	s.enqueueReadyNotification(ctx, render)

	s.logger.Info("render completed",
		"render_id", render.ID,
		"session_id", payload.SessionID,
		"attempt", rec.AttemptsMade+1)
	return nil
}

// FailRender implements RenderService.FailRender
func (s *renderServiceImpl) FailRender(ctx context.Context, id uuid.UUID, reason string) error {
	render, err := s.renders.GetByID(ctx, id)
	if err != nil {
		return NewServiceError("fail_render", "failed to retrieve render", err)
	}
	s.failRender(ctx, render, reason)
	return nil
}

// failRender settles a render to failed and emits the failure event.
// Best-effort: persistence errors are logged, not returned, because the
// callers are already on a failure path.
func (s *renderServiceImpl) failRender(ctx context.Context, render *domain.Render, reason string) {
	alreadyFailed := render.Status == domain.EntityStatusFailed

	if err := render.MarkFailed(reason); err != nil {
		s.logger.Error("failed to mark render failed",
			"error", err,
			"render_id", render.ID,
			"status", render.Status)
		return
	}

	if !alreadyFailed {
		if err := s.renders.Update(ctx, render); err != nil {
			s.logger.Error("failed to persist failed render",
				"error", err,
				"render_id", render.ID)
		}

		s.publish(relay.EventRenderFailed, render.SessionID, relay.RenderFailedData{
			EntityID: render.ID,
			RoomID:   render.RoomID,
			Error:    reason,
		})

		s.logger.Warn("render failed",
			"render_id", render.ID,
			"session_id", render.SessionID,
			"reason", reason)
	}
}

// failOnFinalAttempt settles the render referenced by a payload that still
// decodes enough to carry an entity ID. Used when the payload itself is the
// problem.
func (s *renderServiceImpl) failOnFinalAttempt(ctx context.Context, rec *job.Record, reason string) {
	if !isFinalAttempt(rec) {
		return
	}
	env, err := job.DecodeEnvelope(rec.Payload)
	if err != nil || env.EntityID == uuid.Nil {
		return
	}
	if render, err := s.renders.GetByID(ctx, env.EntityID); err == nil {
		s.failRender(ctx, render, reason)
	}
}

// enqueueReadyNotification queues a notification-send job for a completed
// render. Best-effort: the render is already ready, so an enqueue failure
// only costs the notification.
func (s *renderServiceImpl) enqueueReadyNotification(ctx context.Context, render *domain.Render) {
	payload, err := json.Marshal(NotificationJobPayload{
		Envelope: job.Envelope{EntityID: render.ID, SessionID: render.SessionID},
		Kind:     "render_ready",
		Subject:  "Your render is ready",
		Body:     fmt.Sprintf("The render for room %s has finished.", render.RoomID),
	})
	if err != nil {
		s.logger.Error("failed to marshal notification payload",
			"error", err,
			"render_id", render.ID)
		return
	}

	rec, err := job.NewRecord(job.TypeNotificationSend, payload, s.attempts)
	if err != nil {
		s.logger.Error("failed to create notification job",
			"error", err,
			"render_id", render.ID)
		return
	}

	if err := s.jobs.Enqueue(ctx, rec); err != nil {
		s.logger.Error("failed to enqueue notification job",
			"error", err,
			"render_id", render.ID)
	}
}

func (s *renderServiceImpl) publish(typ relay.EventType, sessionID uuid.UUID, data any) {
	event, err := relay.NewEvent(typ, sessionID, data)
	if err != nil {
		s.logger.Error("failed to build relay event",
			"error", err,
			"event_type", string(typ),
			"session_id", sessionID)
		return
	}
	s.hub.Publish(event)
}
