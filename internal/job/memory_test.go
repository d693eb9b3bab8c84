package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueTestJob(t *testing.T, store *MemoryStore, typ Type, maxAttempts int) *Record {
	t.Helper()

	rec, err := NewRecord(typ, json.RawMessage(`{"entity_id":"x"}`), maxAttempts)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(context.Background(), rec))
	return rec
}

func TestMemoryStore_ClaimLocksRecord(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	rec := enqueueTestJob(t, store, TypeAIRenderGenerate, 3)

	claimed, err := store.Claim(ctx, TypeAIRenderGenerate, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, claimed.ID)
	assert.NotEqual(t, uuid.Nil, claimed.LockToken)

	// Held lock excludes a second claim.
	_, err = store.Claim(ctx, TypeAIRenderGenerate, time.Minute)
	assert.ErrorIs(t, err, ErrNoJob)

	// Other types are unaffected.
	_, err = store.Claim(ctx, TypeNotificationSend, time.Minute)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestMemoryStore_ClaimOldestFirst(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	first := enqueueTestJob(t, store, TypeDocumentGenerate, 1)
	// Ensure distinct enqueue timestamps.
	time.Sleep(2 * time.Millisecond)
	enqueueTestJob(t, store, TypeDocumentGenerate, 1)

	claimed, err := store.Claim(ctx, TypeDocumentGenerate, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestMemoryStore_AckRemovesRecord(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	enqueueTestJob(t, store, TypeNotificationSend, 3)
	claimed, err := store.Claim(ctx, TypeNotificationSend, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Ack(ctx, claimed.ID, claimed.LockToken))
	assert.Equal(t, 0, store.Len())

	// Duplicate ack reports not found instead of succeeding silently.
	assert.ErrorIs(t, store.Ack(ctx, claimed.ID, claimed.LockToken), ErrNotFound)
}

func TestMemoryStore_AckRejectsWrongToken(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	enqueueTestJob(t, store, TypeNotificationSend, 3)
	claimed, err := store.Claim(ctx, TypeNotificationSend, time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Ack(ctx, claimed.ID, uuid.New()), ErrLockLost)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_NackReschedulesWithBackoff(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	backoff := Backoff{Exponential: true, Delay: time.Second}

	enqueueTestJob(t, store, TypeImageVariantOptimize, 3)
	claimed, err := store.Claim(ctx, TypeImageVariantOptimize, time.Minute)
	require.NoError(t, err)

	rec, terminal, err := store.Nack(ctx, claimed.ID, claimed.LockToken, backoff)
	require.NoError(t, err)
	assert.False(t, terminal)
	assert.Equal(t, 1, rec.AttemptsMade)

	// Not immediately runnable again.
	_, err = store.Claim(ctx, TypeImageVariantOptimize, time.Minute)
	assert.ErrorIs(t, err, ErrNoJob)

	stored, ok := store.Get(claimed.ID)
	require.True(t, ok)
	assert.Equal(t, uuid.Nil, stored.LockToken)
	assert.True(t, stored.NextRunAt.After(time.Now().UTC()))
}

func TestMemoryStore_NackTerminalAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	backoff := Backoff{Exponential: true, Delay: time.Millisecond}

	enqueueTestJob(t, store, TypeAIMessageProcess, 2)

	// First failure: rescheduled.
	claimed, err := store.Claim(ctx, TypeAIMessageProcess, time.Minute)
	require.NoError(t, err)
	_, terminal, err := store.Nack(ctx, claimed.ID, claimed.LockToken, backoff)
	require.NoError(t, err)
	assert.False(t, terminal)

	// Wait out the backoff, then fail the final attempt.
	require.Eventually(t, func() bool {
		claimed, err = store.Claim(ctx, TypeAIMessageProcess, time.Minute)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	rec, terminal, err := store.Nack(ctx, claimed.ID, claimed.LockToken, backoff)
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.Equal(t, 2, rec.AttemptsMade)
	assert.Equal(t, 0, store.Len(), "terminal record must be removed")
}

func TestMemoryStore_ReclaimStalled(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	current := now
	store.SetClock(func() time.Time { return current })

	enqueueTestJob(t, store, TypeAIRenderGenerate, 3)
	claimed, err := store.Claim(ctx, TypeAIRenderGenerate, 30*time.Second)
	require.NoError(t, err)

	// Lock still live: nothing reclaimed.
	terminal, err := store.ReclaimStalled(ctx, TypeAIRenderGenerate, 2)
	require.NoError(t, err)
	assert.Empty(t, terminal)

	// Expire the lock. First reclaim releases the record back to pending.
	current = now.Add(time.Minute)
	terminal, err = store.ReclaimStalled(ctx, TypeAIRenderGenerate, 2)
	require.NoError(t, err)
	assert.Empty(t, terminal)

	stored, ok := store.Get(claimed.ID)
	require.True(t, ok)
	assert.Equal(t, 1, stored.StallCount)
	assert.Equal(t, uuid.Nil, stored.LockToken)

	// Old lock token is dead.
	assert.ErrorIs(t, store.RenewLock(ctx, claimed.ID, claimed.LockToken, time.Minute), ErrLockLost)

	// Second stall hits maxStalled: record removed and returned as terminal.
	reclaimed, err := store.Claim(ctx, TypeAIRenderGenerate, 30*time.Second)
	require.NoError(t, err)
	current = current.Add(time.Minute)

	terminal, err = store.ReclaimStalled(ctx, TypeAIRenderGenerate, 2)
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, reclaimed.ID, terminal[0].ID)
	assert.Equal(t, 2, terminal[0].StallCount)
	assert.Equal(t, 0, store.Len())
}

func TestBackoffNextDelay(t *testing.T) {
	t.Parallel()

	backoff := Backoff{Exponential: true, Delay: 100 * time.Millisecond}

	testCases := []struct {
		attemptsMade int
		base         time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
	}

	for _, tc := range testCases {
		delay := backoff.NextDelay(tc.attemptsMade)
		assert.GreaterOrEqual(t, delay, tc.base)
		assert.LessOrEqual(t, delay, tc.base+time.Duration(float64(tc.base)*jitterFraction)+time.Millisecond)
	}
}

func TestBackoffNextDelay_Flat(t *testing.T) {
	t.Parallel()

	backoff := Backoff{Exponential: false, Delay: 50 * time.Millisecond}
	delay := backoff.NextDelay(5)
	assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
	assert.Less(t, delay, 60*time.Millisecond)
}

func TestNewRecordValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecord(Type("bogus"), nil, 1)
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = NewRecord(TypeAIRenderGenerate, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidAttempts)
}
