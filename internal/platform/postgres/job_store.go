package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/job"
	"github.com/lucidspace/atelier-api/internal/platform/logger"
	"github.com/lucidspace/atelier-api/internal/store"
)

// PostgresJobStore implements the job.Store interface using PostgreSQL.
// Claiming relies on FOR UPDATE SKIP LOCKED so concurrent workers never
// contend on the same record; lock ownership is tracked by the lock_token
// column, which is NULL while a record is unclaimed.
type PostgresJobStore struct {
	db     *sql.DB
	exec   store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the
// job.Store interface. It requires a *sql.DB rather than a DBTX because
// claim and reclaim manage their own transactions.
func NewPostgresJobStore(db *sql.DB, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresJobStore{
		db:     db,
		exec:   db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// WithTx implements job.Store.WithTx. Only Enqueue runs on the given
// transaction; claim, ack, nack, and reclaim still manage their own.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) job.Store {
	return &PostgresJobStore{
		db:     s.db,
		exec:   tx,
		logger: s.logger,
	}
}

// Ensure PostgresJobStore implements job.Store interface
var _ job.Store = (*PostgresJobStore)(nil)

const jobColumns = `id, type, payload, attempts_made, max_attempts, lock_token, lock_expires_at, stall_count, enqueued_at, next_run_at`

// Enqueue implements job.Store.Enqueue
func (s *PostgresJobStore) Enqueue(ctx context.Context, rec *job.Record) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO jobs (id, type, payload, attempts_made, max_attempts, stall_count, enqueued_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.exec.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.Type,
		[]byte(rec.Payload),
		rec.AttemptsMade,
		rec.MaxAttempts,
		rec.StallCount,
		rec.EnqueuedAt,
		rec.NextRunAt,
	)

	if err != nil {
		log.Error("failed to enqueue job",
			slog.String("error", err.Error()),
			slog.String("job_id", rec.ID.String()),
			slog.String("job_type", string(rec.Type)))
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debug("job enqueued",
		slog.String("job_id", rec.ID.String()),
		slog.String("job_type", string(rec.Type)))
	return nil
}

// Claim implements job.Store.Claim
// It atomically locks the oldest runnable record of the given type.
// Records with an expired lock stay out of reach here; only ReclaimStalled
// releases them, so stall counting stays accurate.
func (s *PostgresJobStore) Claim(ctx context.Context, typ job.Type, lockDuration time.Duration) (*job.Record, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	token := uuid.New()
	expiresAt := time.Now().UTC().Add(lockDuration)

	query := `
		UPDATE jobs
		SET lock_token = $1, lock_expires_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE type = $3 AND lock_token IS NULL AND next_run_at <= NOW()
			ORDER BY next_run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	rec, err := scanJob(s.db.QueryRowContext(ctx, query, token, expiresAt, typ))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNoJob
		}
		log.Error("failed to claim job",
			slog.String("error", err.Error()),
			slog.String("job_type", string(typ)))
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	log.Debug("job claimed",
		slog.String("job_id", rec.ID.String()),
		slog.String("job_type", string(typ)),
		slog.Int("attempts_made", rec.AttemptsMade))
	return rec, nil
}

// RenewLock implements job.Store.RenewLock
func (s *PostgresJobStore) RenewLock(ctx context.Context, id, lockToken uuid.UUID, lockDuration time.Duration) error {
	query := `
		UPDATE jobs
		SET lock_expires_at = $1
		WHERE id = $2 AND lock_token = $3
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC().Add(lockDuration), id, lockToken)
	if err != nil {
		return fmt.Errorf("failed to renew job lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return job.ErrLockLost
	}

	return nil
}

// Ack implements job.Store.Ack
// Terminal success removes the record entirely.
func (s *PostgresJobStore) Ack(ctx context.Context, id, lockToken uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = $1 AND lock_token = $2`, id, lockToken)
	if err != nil {
		log.Error("failed to ack job",
			slog.String("error", err.Error()),
			slog.String("job_id", id.String()))
		return fmt.Errorf("failed to ack job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return job.ErrLockLost
	}

	log.Debug("job acked", slog.String("job_id", id.String()))
	return nil
}

// Nack implements job.Store.Nack
// A non-terminal failure releases the lock and reschedules per the backoff
// policy. A terminal failure removes the record and returns it so the
// caller can forward it to the dead letter store.
func (s *PostgresJobStore) Nack(ctx context.Context, id, lockToken uuid.UUID, backoff job.Backoff) (*job.Record, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin nack transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = $1 AND lock_token = $2
		FOR UPDATE
	`

	rec, err := scanJob(tx.QueryRowContext(ctx, query, id, lockToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, job.ErrLockLost
		}
		return nil, false, fmt.Errorf("failed to load job for nack: %w", err)
	}

	rec.AttemptsMade++

	if rec.AttemptsMade >= rec.MaxAttempts {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
			return nil, false, fmt.Errorf("failed to remove exhausted job: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit nack: %w", err)
		}

		log.Warn("job exhausted its attempts",
			slog.String("job_id", id.String()),
			slog.String("job_type", string(rec.Type)),
			slog.Int("attempts_made", rec.AttemptsMade))
		return rec, true, nil
	}

	nextRunAt := time.Now().UTC().Add(backoff.NextDelay(rec.AttemptsMade))

	update := `
		UPDATE jobs
		SET attempts_made = $1, lock_token = NULL, lock_expires_at = NULL, next_run_at = $2
		WHERE id = $3
	`
	if _, err := tx.ExecContext(ctx, update, rec.AttemptsMade, nextRunAt, id); err != nil {
		return nil, false, fmt.Errorf("failed to reschedule job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit nack: %w", err)
	}

	log.Debug("job rescheduled after failure",
		slog.String("job_id", id.String()),
		slog.Int("attempts_made", rec.AttemptsMade),
		slog.Time("next_run_at", nextRunAt))

	rec.LockToken = uuid.Nil
	rec.LockExpiresAt = time.Time{}
	rec.NextRunAt = nextRunAt
	return rec, false, nil
}

// ReclaimStalled implements job.Store.ReclaimStalled
// It releases expired locks back to pending, incrementing each record's
// stall count. Records that hit maxStalled are removed and returned.
func (s *PostgresJobStore) ReclaimStalled(ctx context.Context, typ job.Type, maxStalled int) ([]*job.Record, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reclaim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1 AND lock_token IS NOT NULL AND lock_expires_at < NOW()
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to query stalled jobs: %w", err)
	}

	var stalled []*job.Record
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan stalled job: %w", err)
		}
		stalled = append(stalled, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating stalled jobs: %w", err)
	}
	_ = rows.Close()

	var terminal []*job.Record
	for _, rec := range stalled {
		rec.StallCount++

		if rec.StallCount >= maxStalled {
			if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, rec.ID); err != nil {
				return nil, fmt.Errorf("failed to remove stalled job: %w", err)
			}
			terminal = append(terminal, rec)

			log.Warn("job exceeded max stall count",
				slog.String("job_id", rec.ID.String()),
				slog.String("job_type", string(typ)),
				slog.Int("stall_count", rec.StallCount))
			continue
		}

		release := `
			UPDATE jobs
			SET lock_token = NULL, lock_expires_at = NULL, stall_count = $1, next_run_at = NOW()
			WHERE id = $2
		`
		if _, err := tx.ExecContext(ctx, release, rec.StallCount, rec.ID); err != nil {
			return nil, fmt.Errorf("failed to release stalled job: %w", err)
		}

		log.Warn("stalled job released for retry",
			slog.String("job_id", rec.ID.String()),
			slog.String("job_type", string(typ)),
			slog.Int("stall_count", rec.StallCount))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reclaim: %w", err)
	}

	return terminal, nil
}

// CountPending implements job.Store.CountPending
func (s *PostgresJobStore) CountPending(ctx context.Context, typ job.Type) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM jobs
		WHERE type = $1 AND lock_token IS NULL AND next_run_at <= NOW()
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, typ).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}

	return count, nil
}

func scanJob(row rowScanner) (*job.Record, error) {
	var rec job.Record
	var payload []byte
	var lockToken sql.Null[uuid.UUID]
	var lockExpiresAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.Type,
		&payload,
		&rec.AttemptsMade,
		&rec.MaxAttempts,
		&lockToken,
		&lockExpiresAt,
		&rec.StallCount,
		&rec.EnqueuedAt,
		&rec.NextRunAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Payload = payload
	if lockToken.Valid {
		rec.LockToken = lockToken.V
	}
	if lockExpiresAt.Valid {
		rec.LockExpiresAt = lockExpiresAt.Time
	}

	return &rec, nil
}
