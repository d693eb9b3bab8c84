package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidspace/atelier-api/internal/deadletter"
	"github.com/lucidspace/atelier-api/internal/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRegistry compiles a fast profile for one job type.
func testRegistry(typ job.Type, profile Profile) Registry {
	return Registry{typ: profile}
}

func fastProfile() Profile {
	return Profile{
		Concurrency:     1,
		ProcessTimeout:  200 * time.Millisecond,
		LockDuration:    400 * time.Millisecond,
		StalledInterval: 20 * time.Millisecond,
		MaxStalledCount: 2,
		Attempts:        3,
		Backoff:         job.Backoff{Exponential: true, Delay: time.Millisecond},
	}
}

// eventCollector records pool lifecycle events.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) listen(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *eventCollector) count(kind EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, event := range c.events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func startPool(t *testing.T, typ job.Type, profile Profile, fn ProcessFunc, store job.Store, dlqStore *deadletter.MemoryStore) (*Pool, *eventCollector) {
	t.Helper()

	dlq := deadletter.NewQueue(dlqStore, testLogger())
	pool, err := NewPool(typ, fn, testRegistry(typ, profile), store, dlq, testLogger(),
		WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	collector := &eventCollector{}
	pool.OnEvent(collector.listen)

	pool.Start()
	t.Cleanup(pool.Stop)
	return pool, collector
}

func enqueue(t *testing.T, store job.Store, typ job.Type, attempts int) *job.Record {
	t.Helper()

	rec, err := job.NewRecord(typ, json.RawMessage(`{"entity_id":"e","session_id":"s"}`), attempts)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(context.Background(), rec))
	return rec
}

func TestNewPoolValidatesEffectiveProfile(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlq := deadletter.NewQueue(deadletter.NewMemoryStore(), testLogger())
	fn := func(ctx context.Context, rec *job.Record) error { return nil }

	t.Run("missing profile", func(t *testing.T) {
		t.Parallel()

		_, err := NewPool(job.TypeDocumentGenerate, fn, Registry{}, store, dlq, testLogger())
		assert.ErrorIs(t, err, ErrMissingProfile)
	})

	t.Run("override breaks invariant", func(t *testing.T) {
		t.Parallel()

		registry := testRegistry(job.TypeDocumentGenerate, fastProfile())
		badTimeout := time.Minute // exceeds the profile's lock duration
		_, err := NewPool(job.TypeDocumentGenerate, fn, registry, store, dlq, testLogger(),
			WithOverrides(Overrides{ProcessTimeout: &badTimeout}))
		assert.ErrorIs(t, err, ErrLockTooShort)
	})

	t.Run("concurrency override applies", func(t *testing.T) {
		t.Parallel()

		registry := testRegistry(job.TypeDocumentGenerate, fastProfile())
		pool, err := NewPool(job.TypeDocumentGenerate, fn, registry, store, dlq, testLogger(),
			WithConcurrency(6))
		require.NoError(t, err)
		assert.Equal(t, 6, pool.profile.Concurrency)
	})
}

func TestPool_ProcessesJobSuccessfully(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	var mu sync.Mutex
	executions := 0
	fn := func(ctx context.Context, rec *job.Record) error {
		mu.Lock()
		defer mu.Unlock()
		executions++
		return nil
	}

	rec := enqueue(t, store, job.TypeDocumentGenerate, 3)
	_, collector := startPool(t, job.TypeDocumentGenerate, fastProfile(), fn, store, dlqStore)

	require.Eventually(t, func() bool {
		return collector.count(EventCompleted) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Record removed on terminal success, never dead-lettered, not retried.
	_, exists := store.Get(rec.ID)
	assert.False(t, exists)
	assert.Equal(t, 0, dlqStore.Len())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, executions)
}

func TestPool_DeadLettersAfterExactlyMaxAttempts(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	var mu sync.Mutex
	executions := 0
	fn := func(ctx context.Context, rec *job.Record) error {
		mu.Lock()
		defer mu.Unlock()
		executions++
		return errors.New("model unavailable")
	}

	rec := enqueue(t, store, job.TypeAIRenderGenerate, 3)

	profile := fastProfile()
	profile.Attempts = 3
	_, collector := startPool(t, job.TypeAIRenderGenerate, profile, fn, store, dlqStore)

	require.Eventually(t, func() bool {
		return collector.count(EventDeadLettered) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Exactly Attempts executions, dead-lettered exactly once, record gone.
	mu.Lock()
	assert.Equal(t, 3, executions)
	mu.Unlock()
	assert.Equal(t, 1, dlqStore.Len())
	assert.Equal(t, 2, collector.count(EventFailed), "two non-terminal failures before the dead letter")
	_, exists := store.Get(rec.ID)
	assert.False(t, exists)

	entries, err := dlqStore.List(context.Background(), job.TypeAIRenderGenerate, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].OriginalJobID)
	assert.Equal(t, "model unavailable", entries[0].FailureReason)

	// Nothing further happens after the terminal failure.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, executions)
}

func TestPool_SuccessBeforeFinalAttemptIsNeverDeadLettered(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	var mu sync.Mutex
	executions := 0
	fn := func(ctx context.Context, rec *job.Record) error {
		mu.Lock()
		defer mu.Unlock()
		executions++
		if executions < 2 {
			return errors.New("transient failure")
		}
		return nil
	}

	rec := enqueue(t, store, job.TypeImageVariantOptimize, 5)
	_, collector := startPool(t, job.TypeImageVariantOptimize, fastProfile(), fn, store, dlqStore)

	require.Eventually(t, func() bool {
		return collector.count(EventCompleted) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, dlqStore.Len())
	_, exists := store.Get(rec.ID)
	assert.False(t, exists)

	// No retry after success.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, executions)
}

func TestPool_HungJobIsStalledThenDeadLettered(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	// Hangs well past the timeout budget, ignoring cancellation, the way a
	// wedged external call would.
	fn := func(ctx context.Context, rec *job.Record) error {
		time.Sleep(2 * time.Second)
		return nil
	}

	profile := Profile{
		Concurrency:     1,
		ProcessTimeout:  30 * time.Millisecond,
		LockDuration:    60 * time.Millisecond,
		StalledInterval: 20 * time.Millisecond,
		MaxStalledCount: 2,
		Attempts:        3,
		Backoff:         job.Backoff{Exponential: true, Delay: time.Millisecond},
	}

	rec := enqueue(t, store, job.TypeAIMessageProcess, 3)
	_, collector := startPool(t, job.TypeAIMessageProcess, profile, fn, store, dlqStore)

	// The hung job is abandoned by the timeout guard, reclaimed by the
	// stall scanner, re-run, and after MaxStalledCount stalls treated as a
	// terminal failure through the dead-letter path.
	require.Eventually(t, func() bool {
		return dlqStore.Len() == 1
	}, 10*time.Second, 20*time.Millisecond)

	_, exists := store.Get(rec.ID)
	assert.False(t, exists)
	assert.GreaterOrEqual(t, collector.count(EventStalled), 2)

	entries, err := dlqStore.List(context.Background(), job.TypeAIMessageProcess, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].FailureReason, "stalled")
}

func TestPool_ConcurrencyIsACeiling(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	var mu sync.Mutex
	running := 0
	peak := 0
	fn := func(ctx context.Context, rec *job.Record) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}

	for i := 0; i < 8; i++ {
		enqueue(t, store, job.TypeDocumentGenerate, 1)
	}

	profile := fastProfile()
	profile.Concurrency = 2
	_, collector := startPool(t, job.TypeDocumentGenerate, profile, fn, store, dlqStore)

	require.Eventually(t, func() bool {
		return collector.count(EventCompleted) == 8
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "concurrency is a ceiling, not a target")
}

func TestPool_ShutdownMidFlightLeavesJobForRedelivery(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	started := make(chan struct{})
	fn := func(ctx context.Context, rec *job.Record) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	profile := fastProfile()
	profile.ProcessTimeout = 2 * time.Second
	profile.LockDuration = 4 * time.Second
	profile.Attempts = 1

	// A single attempt makes any nack terminal, so a shutdown that consumed
	// an attempt would dead-letter a healthy job.
	rec := enqueue(t, store, job.TypeAIRenderGenerate, 1)
	pool, collector := startPool(t, job.TypeAIRenderGenerate, profile, fn, store, dlqStore)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	pool.Stop()

	// The interrupted attempt is neither acked nor nacked: the record
	// survives with its attempt budget intact, and nothing reaches the
	// dead letter store. The expired lock makes it redeliverable.
	stored, exists := store.Get(rec.ID)
	require.True(t, exists, "job must survive a graceful shutdown")
	assert.Equal(t, 0, stored.AttemptsMade)
	assert.Equal(t, 0, dlqStore.Len())
	assert.Equal(t, 0, collector.count(EventFailed))
	assert.Equal(t, 0, collector.count(EventDeadLettered))
}

func TestPool_MalformedPayloadConsumesAttempts(t *testing.T) {
	t.Parallel()

	store := job.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()

	// A payload the processing function cannot even parse still consumes
	// an attempt per execution and dead-letters on the last one.
	fn := func(ctx context.Context, rec *job.Record) error {
		var payload struct {
			EntityID string `json:"entity_id"`
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			return err
		}
		return nil
	}

	rec, err := job.NewRecord(job.TypeNotificationSend, json.RawMessage(`{not json`), 2)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(context.Background(), rec))

	profile := fastProfile()
	profile.Attempts = 2
	_, collector := startPool(t, job.TypeNotificationSend, profile, fn, store, dlqStore)

	require.Eventually(t, func() bool {
		return collector.count(EventDeadLettered) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, dlqStore.Len())
}
