package job

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Backoff controls retry scheduling for non-terminal failures. Delay doubles
// on every attempt: the nth retry runs after Delay × 2^(n−1), plus a small
// random jitter so retries of jobs that failed together spread out.
type Backoff struct {
	Exponential bool
	Delay       time.Duration
}

// jitterFraction bounds the random spread added to retry delays.
const jitterFraction = 0.1

// NextDelay computes the delay before the next run given how many attempts
// the job has already made.
func (b Backoff) NextDelay(attemptsMade int) time.Duration {
	delay := b.Delay
	if b.Exponential {
		for i := 1; i < attemptsMade; i++ {
			delay *= 2
		}
	}
	jitter := time.Duration(rand.Int63n(int64(float64(delay)*jitterFraction) + 1))
	return delay + jitter
}

// Store is the durable backing structure for job records. Implementations
// must serialize claim-and-lock atomically: at most one holder of a live
// lock per job id.
type Store interface {
	// Enqueue durably persists a new pending record.
	Enqueue(ctx context.Context, rec *Record) error

	// WithTx returns a Store whose Enqueue runs inside the given
	// transaction, so a job row commits atomically with the entity row
	// that references it. Claiming and acknowledgement operations keep
	// managing their own transactions and are unaffected.
	WithTx(tx *sql.Tx) Store

	// Claim atomically locks the oldest runnable record of the given type
	// for lockDuration and returns it with a fresh lock token.
	// Returns ErrNoJob when nothing is runnable.
	Claim(ctx context.Context, typ Type, lockDuration time.Duration) (*Record, error)

	// RenewLock extends the lock on a claimed record. Returns ErrLockLost
	// if the token no longer matches (the lock expired and the record
	// was reclaimed).
	RenewLock(ctx context.Context, id, lockToken uuid.UUID, lockDuration time.Duration) error

	// Nack records a failed attempt. Non-terminal failures are rescheduled
	// per the backoff policy. When the failure exhausts MaxAttempts the
	// record is removed and returned with terminal=true; the caller
	// forwards it to the dead letter store.
	Nack(ctx context.Context, id, lockToken uuid.UUID, backoff Backoff) (*Record, bool, error)

	// Ack removes a record on terminal success. Returns ErrLockLost if the
	// token no longer matches.
	Ack(ctx context.Context, id, lockToken uuid.UUID) error

	// ReclaimStalled releases expired locks of the given type back to
	// pending, incrementing each record's stall count. Records whose stall
	// count reaches maxStalled are removed and returned as terminal; the
	// caller forwards them to the dead letter store.
	ReclaimStalled(ctx context.Context, typ Type, maxStalled int) ([]*Record, error)

	// CountPending returns the number of records of the given type that
	// are not currently locked.
	CountPending(ctx context.Context, typ Type) (int, error)
}
