package job

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. It honors the same
// claim/lock/stall semantics as the Postgres store and backs unit tests
// and local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record

	// now is swappable so tests can control lock expiry.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's time source. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue persists a new pending record.
func (s *MemoryStore) Enqueue(ctx context.Context, rec *Record) error {
	if !rec.Type.Valid() {
		return ErrInvalidType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

// WithTx implements Store.WithTx. The memory store has no transactions,
// so the receiver is returned unchanged.
func (s *MemoryStore) WithTx(tx *sql.Tx) Store {
	return s
}

// Claim locks the oldest runnable record of the given type.
func (s *MemoryStore) Claim(ctx context.Context, typ Type, lockDuration time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var candidates []*Record
	for _, rec := range s.records {
		if rec.Type != typ {
			continue
		}
		if rec.LockToken != uuid.Nil && rec.LockExpiresAt.After(now) {
			continue // held by a live lock
		}
		if rec.LockToken != uuid.Nil {
			continue // expired lock; released only by ReclaimStalled
		}
		if rec.NextRunAt.After(now) {
			continue // backoff not elapsed
		}
		candidates = append(candidates, rec)
	}

	if len(candidates) == 0 {
		return nil, ErrNoJob
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EnqueuedAt.Before(candidates[j].EnqueuedAt)
	})

	rec := candidates[0]
	rec.LockToken = uuid.New()
	rec.LockExpiresAt = now.Add(lockDuration)

	clone := *rec
	return &clone, nil
}

// RenewLock extends the lock on a claimed record.
func (s *MemoryStore) RenewLock(ctx context.Context, id, lockToken uuid.UUID, lockDuration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.LockToken != lockToken {
		return ErrLockLost
	}

	rec.LockExpiresAt = s.now().Add(lockDuration)
	return nil
}

// Ack removes a record on terminal success.
func (s *MemoryStore) Ack(ctx context.Context, id, lockToken uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.LockToken != lockToken {
		return ErrLockLost
	}

	delete(s.records, id)
	return nil
}

// Nack records a failed attempt, rescheduling or removing the record.
func (s *MemoryStore) Nack(ctx context.Context, id, lockToken uuid.UUID, backoff Backoff) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if rec.LockToken != lockToken {
		return nil, false, ErrLockLost
	}

	rec.AttemptsMade++

	if rec.AttemptsMade >= rec.MaxAttempts {
		delete(s.records, id)
		clone := *rec
		return &clone, true, nil
	}

	rec.LockToken = uuid.Nil
	rec.LockExpiresAt = time.Time{}
	rec.NextRunAt = s.now().Add(backoff.NextDelay(rec.AttemptsMade))

	clone := *rec
	return &clone, false, nil
}

// ReclaimStalled releases expired locks back to pending, removing and
// returning records whose stall count reached maxStalled.
func (s *MemoryStore) ReclaimStalled(ctx context.Context, typ Type, maxStalled int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var terminal []*Record

	for id, rec := range s.records {
		if rec.Type != typ || rec.LockToken == uuid.Nil || rec.LockExpiresAt.After(now) {
			continue
		}

		rec.StallCount++
		rec.LockToken = uuid.Nil
		rec.LockExpiresAt = time.Time{}

		if rec.StallCount >= maxStalled {
			delete(s.records, id)
			clone := *rec
			terminal = append(terminal, &clone)
			continue
		}

		rec.NextRunAt = now
	}

	return terminal, nil
}

// CountPending returns the number of unlocked records of the given type.
func (s *MemoryStore) CountPending(ctx context.Context, typ Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.records {
		if rec.Type == typ && rec.LockToken == uuid.Nil {
			count++
		}
	}
	return count, nil
}

// Get returns a copy of a record by id. Test use only.
func (s *MemoryStore) Get(id uuid.UUID) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	clone := *rec
	return &clone, true
}

// Len returns the number of live records. Test use only.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
