package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidspace/atelier-api/internal/job"
)

type failingStore struct {
	MemoryStore
}

func (s *failingStore) Append(ctx context.Context, entry Entry) error {
	return errors.New("store unavailable")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_MoveToDeadLetter(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	queue := NewQueue(store, testLogger())

	rec, err := job.NewRecord(job.TypeAIRenderGenerate, json.RawMessage(`{"entity_id":"e"}`), 3)
	require.NoError(t, err)
	rec.AttemptsMade = 3

	queue.MoveToDeadLetter(context.Background(), rec, "generation failed on every attempt")

	entries, err := store.List(context.Background(), job.TypeAIRenderGenerate, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.ID, entries[0].OriginalJobID)
	assert.Equal(t, "generation failed on every attempt", entries[0].FailureReason)
	assert.JSONEq(t, `{"entity_id":"e"}`, string(entries[0].Payload))
}

func TestQueue_WriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	queue := NewQueue(&failingStore{}, testLogger())

	rec, err := job.NewRecord(job.TypeNotificationSend, nil, 1)
	require.NoError(t, err)

	// Must not panic or propagate the error.
	queue.MoveToDeadLetter(context.Background(), rec, "boom")
}

func TestQueue_CloseIdempotent(t *testing.T) {
	t.Parallel()

	queue := NewQueue(NewMemoryStore(), testLogger())
	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())
}

func TestMemoryStore_DeleteOlderThan(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	old := Entry{JobType: job.TypeDocumentGenerate, FailedAt: time.Now().UTC().Add(-48 * time.Hour)}
	recent := Entry{JobType: job.TypeDocumentGenerate, FailedAt: time.Now().UTC()}
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Append(ctx, recent))

	removed, err := store.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}
