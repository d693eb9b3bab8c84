package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucidspace/atelier-api/internal/deadletter"
	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/platform/logger"
	"github.com/lucidspace/atelier-api/internal/store"
)

// PostgresDeadLetterStore implements the deadletter.Store interface
// using a PostgreSQL database as the storage backend.
type PostgresDeadLetterStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresDeadLetterStore creates a new PostgreSQL implementation of the
// deadletter.Store interface. If logger is nil, a default logger will be used.
func NewPostgresDeadLetterStore(db store.DBTX, logger *slog.Logger) *PostgresDeadLetterStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresDeadLetterStore{
		db:     db,
		logger: logger.With(slog.String("component", "dead_letter_store")),
	}
}

// Ensure PostgresDeadLetterStore implements deadletter.Store interface
var _ deadletter.Store = (*PostgresDeadLetterStore)(nil)

// Append implements deadletter.Store.Append
func (s *PostgresDeadLetterStore) Append(ctx context.Context, entry deadletter.Entry) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO dead_letters (original_job_id, job_type, payload, failure_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		entry.OriginalJobID,
		entry.JobType,
		[]byte(entry.Payload),
		entry.FailureReason,
		entry.FailedAt,
	)

	if err != nil {
		log.Error("failed to append dead letter entry",
			slog.String("error", err.Error()),
			slog.String("job_id", entry.OriginalJobID.String()),
			slog.String("job_type", string(entry.JobType)))
		return fmt.Errorf("failed to append dead letter entry: %w", err)
	}

	return nil
}

// List implements deadletter.Store.List
func (s *PostgresDeadLetterStore) List(ctx context.Context, typ job.Type, limit int) ([]deadletter.Entry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT original_job_id, job_type, payload, failure_reason, failed_at
		FROM dead_letters
		WHERE job_type = $1
		ORDER BY failed_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, typ, limit)
	if err != nil {
		log.Error("failed to query dead letter entries",
			slog.String("error", err.Error()),
			slog.String("job_type", string(typ)))
		return nil, fmt.Errorf("failed to query dead letter entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	entries := []deadletter.Entry{}
	for rows.Next() {
		var entry deadletter.Entry
		var payload []byte

		err := rows.Scan(
			&entry.OriginalJobID,
			&entry.JobType,
			&payload,
			&entry.FailureReason,
			&entry.FailedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter row: %w", err)
		}

		entry.Payload = payload
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter rows: %w", err)
	}

	return entries, nil
}

// DeleteOlderThan implements deadletter.Store.DeleteOlderThan
func (s *PostgresDeadLetterStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE failed_at < $1`, cutoff)
	if err != nil {
		log.Error("failed to delete old dead letter entries",
			slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to delete old dead letter entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// Close implements deadletter.Store.Close
// The underlying connection pool is owned by the caller, so there is
// nothing to release here.
func (s *PostgresDeadLetterStore) Close() error {
	return nil
}
