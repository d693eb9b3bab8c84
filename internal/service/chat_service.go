package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
	"github.com/lucidspace/atelier-api/internal/generation"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/relay"
	"github.com/lucidspace/atelier-api/internal/store"
)

// ChatService accepts user messages and runs them through the design
// assistant asynchronously.
type ChatService interface {
	// SubmitMessage enqueues an ai-message-process job for the session.
	// Returns the job ID so clients can correlate logs.
	SubmitMessage(ctx context.Context, sessionID uuid.UUID, message string) (uuid.UUID, error)

	// ProcessJob executes one ai-message-process job attempt.
	ProcessJob(ctx context.Context, rec *job.Record) error
}

type chatServiceImpl struct {
	sessions store.SessionStore
	jobs     job.Store
	hub      *relay.Hub
	agent    generation.Agent
	attempts int
	logger   *slog.Logger
}

// NewChatService creates a new ChatService.
// It returns an error if any of the required dependencies are nil.
func NewChatService(
	sessions store.SessionStore,
	jobs job.Store,
	hub *relay.Hub,
	agent generation.Agent,
	attempts int,
	logger *slog.Logger,
) (ChatService, error) {
	if sessions == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "sessions cannot be nil"}
	}
	if jobs == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "jobs cannot be nil"}
	}
	if hub == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "hub cannot be nil"}
	}
	if agent == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "agent cannot be nil"}
	}
	if attempts < 1 {
		return nil, &ServiceError{Operation: "create_service", Message: "attempts must be at least 1"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &chatServiceImpl{
		sessions: sessions,
		jobs:     jobs,
		hub:      hub,
		agent:    agent,
		attempts: attempts,
		logger:   logger.With("component", "chat_service"),
	}, nil
}

// SubmitMessage validates the session and enqueues the processing job.
func (s *chatServiceImpl) SubmitMessage(ctx context.Context, sessionID uuid.UUID, message string) (uuid.UUID, error) {
	if strings.TrimSpace(message) == "" {
		return uuid.Nil, &ServiceError{Operation: "submit_message", Message: "message is empty"}
	}

	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return uuid.Nil, NewServiceError("submit_message", "failed to retrieve session", err)
	}

	payload, err := json.Marshal(MessageJobPayload{
		Envelope: job.Envelope{SessionID: sessionID},
		Message:  message,
	})
	if err != nil {
		return uuid.Nil, NewServiceError("submit_message", "failed to marshal job payload", err)
	}

	rec, err := job.NewRecord(job.TypeAIMessageProcess, payload, s.attempts)
	if err != nil {
		return uuid.Nil, NewServiceError("submit_message", "failed to create job record", err)
	}

	if err := s.jobs.Enqueue(ctx, rec); err != nil {
		return uuid.Nil, NewServiceError("submit_message", "failed to enqueue message job", err)
	}

	s.logger.Info("message submitted",
		"session_id", sessionID,
		"job_id", rec.ID)
	return rec.ID, nil
}

// ProcessJob runs the message through the assistant and applies its
// session-level effects: phase changes and room updates, each announced on
// the realtime channel.
func (s *chatServiceImpl) ProcessJob(ctx context.Context, rec *job.Record) error {
	var payload MessageJobPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode message job payload: %w", err)
	}

	session, err := s.sessions.GetByID(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			s.logger.Warn("message job for missing session",
				"session_id", payload.SessionID,
				"job_id", rec.ID)
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	reply, err := s.agent.ProcessMessage(ctx, session, payload.Message)
	if err != nil {
		if errors.Is(err, generation.ErrContentBlocked) {
			// Nothing to settle for chat; just consume the job.
			s.logger.Warn("message blocked by safety filters",
				"session_id", session.ID,
				"job_id", rec.ID)
			return nil
		}
		return fmt.Errorf("assistant processing failed: %w", err)
	}

	if reply.Phase != nil && *reply.Phase != session.Phase {
		if err := session.SetPhase(*reply.Phase); err != nil {
			return fmt.Errorf("assistant requested invalid phase %q: %w", *reply.Phase, err)
		}
		if err := s.sessions.UpdatePhase(ctx, session.ID, session.Phase); err != nil {
			return fmt.Errorf("failed to persist session phase: %w", err)
		}

		s.publish(relay.EventPhaseChanged, session.ID, relay.PhaseChangedData{
			SessionID: session.ID,
			Phase:     string(session.Phase),
		})

		if session.Phase == domain.PhaseDelivered {
			s.enqueueDeliveredNotification(ctx, session)
		}
	}

	if reply.RoomsChanged {
		s.publish(relay.EventRoomsUpdated, session.ID, relay.RoomsUpdatedData{
			SessionID: session.ID,
		})
	}

	s.logger.Info("message processed",
		"session_id", session.ID,
		"job_id", rec.ID,
		"phase", string(session.Phase),
		"rooms_changed", reply.RoomsChanged)
	return nil
}

// enqueueDeliveredNotification queues the final handoff notification when a
// session reaches delivered. Best-effort.
func (s *chatServiceImpl) enqueueDeliveredNotification(ctx context.Context, session *domain.Session) {
	payload, err := json.Marshal(NotificationJobPayload{
		Envelope: job.Envelope{SessionID: session.ID},
		Kind:     "session_delivered",
		Subject:  "Your design is delivered",
		Body:     fmt.Sprintf("Session %q is complete and ready for review.", session.Title),
	})
	if err != nil {
		s.logger.Error("failed to marshal notification payload",
			"error", err,
			"session_id", session.ID)
		return
	}

	rec, err := job.NewRecord(job.TypeNotificationSend, payload, s.attempts)
	if err != nil {
		s.logger.Error("failed to create notification job",
			"error", err,
			"session_id", session.ID)
		return
	}

	if err := s.jobs.Enqueue(ctx, rec); err != nil {
		s.logger.Error("failed to enqueue notification job",
			"error", err,
			"session_id", session.ID)
	}
}

func (s *chatServiceImpl) publish(typ relay.EventType, sessionID uuid.UUID, data any) {
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
