package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/notify"
)

// NotificationService delivers queued notifications through the broker.
type NotificationService interface {
	// ProcessJob executes one notification-send job attempt.
	ProcessJob(ctx context.Context, rec *job.Record) error
}

type notificationServiceImpl struct {
	publisher notify.Publisher
	logger    *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(publisher notify.Publisher, logger *slog.Logger) (NotificationService, error) {
	if publisher == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "publisher cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &notificationServiceImpl{
		publisher: publisher,
		logger:    logger.With("component", "notification_service"),
	}, nil
}

// ProcessJob hands one notification to the broker. A publish error returns
// to the pool so the job's retry budget covers broker outages.
func (s *notificationServiceImpl) ProcessJob(ctx context.Context, rec *job.Record) error {
	var payload NotificationJobPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode notification job payload: %w", err)
	}

	msg := notify.Message{
		SessionID: payload.SessionID,
		Kind:      payload.Kind,
		Subject:   payload.Subject,
		Body:      payload.Body,
		SentAt:    time.Now().UTC(),
	}

	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	s.logger.Info("notification sent",
		"session_id", payload.SessionID,
		"kind", payload.Kind,
		"attempt", rec.AttemptsMade+1)
	return nil
}
