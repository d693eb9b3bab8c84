// Package deadletter records jobs that exhausted their retry budget.
// Writes are best-effort by design: a failed dead-letter write is logged
// and swallowed so it can never block or crash a worker.
package deadletter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/job"
)

// Entry is one dead-letter record. Entries are append-only.
type Entry struct {
	OriginalJobID uuid.UUID       `json:"original_job_id"`
	JobType       job.Type        `json:"job_type"`
	Payload       json.RawMessage `json:"payload"`
	FailureReason string          `json:"failure_reason"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Store persists dead-letter entries.
type Store interface {
	// Append durably writes an entry.
	Append(ctx context.Context, entry Entry) error

	// List returns the most recent entries for a job type, newest first.
	List(ctx context.Context, typ job.Type, limit int) ([]Entry, error)

	// DeleteOlderThan removes entries older than the cutoff and returns
	// how many were removed. Used by the retention sweep.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the store's resources. Idempotent.
	Close() error
}

// Queue wraps a Store with the fire-and-forget semantics workers need.
type Queue struct {
	store  Store
	logger *slog.Logger
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:  store,
		logger: logger.With("component", "dead_letter_queue"),
	}
}

// MoveToDeadLetter records a terminally failed job. Best-effort: a write
// failure is logged and swallowed, never returned to the hot path.
func (q *Queue) MoveToDeadLetter(ctx context.Context, rec *job.Record, reason string) {
	entry := Entry{
		OriginalJobID: rec.ID,
		JobType:       rec.Type,
		Payload:       rec.Payload,
		FailureReason: reason,
		FailedAt:      time.Now().UTC(),
	}

	if err := q.store.Append(ctx, entry); err != nil {
		q.logger.Error("failed to write dead letter entry",
			"job_id", rec.ID,
			"job_type", rec.Type,
			"reason", reason,
			"error", err)
		return
	}

	q.logger.Warn("job moved to dead letter store",
		"job_id", rec.ID,
		"job_type", rec.Type,
		"attempts_made", rec.AttemptsMade,
		"reason", reason)
}

// Close drains and stops the underlying store. Idempotent.
func (q *Queue) Close() error {
	return q.store.Close()
}
