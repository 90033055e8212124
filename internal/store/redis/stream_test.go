package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type quotePayload struct {
	ID        int64  `json:"id"`
	TradeHash string `json:"tradeHash"`
}

func TestStreamNaming(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "queue:rebalance-quote", streamName("", "rebalance-quote"))
	assert.Equal(t, "pmm:queue:rebalance-quote", streamName("pmm", "rebalance-quote"))
	assert.Equal(t, "pmm:queue:rebalance-quote:job:rebalance-quote-abc-0", jobRecordKey("pmm", "rebalance-quote", "rebalance-quote-abc-0"))
}

func TestStringValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a", stringValue("a"))
	assert.Equal(t, "b", stringValue([]byte("b")))
	assert.Equal(t, "", stringValue(nil))
	assert.Equal(t, "7", stringValue(7))
}

func TestInMemoryQueue_DuplicateKeyRejected(t *testing.T) {
	q := NewInMemoryQueue(8, testLogger())
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "q", "k-0", quotePayload{ID: 1}, EnqueueOptions{}))
	err := q.Enqueue(ctx, "q", "k-0", quotePayload{ID: 1}, EnqueueOptions{})
	require.ErrorIs(t, err, ErrDuplicateJob)

	require.NoError(t, q.Enqueue(ctx, "q", "k-1", quotePayload{ID: 1}, EnqueueOptions{}))
	assert.Equal(t, 2, q.Len("q"))
}

func TestInMemoryQueue_RetentionExpiry(t *testing.T) {
	q := NewInMemoryQueue(8, testLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "q", "k", quotePayload{}, EnqueueOptions{Retention: time.Hour}))
	now = now.Add(59 * time.Minute)
	require.ErrorIs(t, q.Enqueue(ctx, "q", "k", quotePayload{}, EnqueueOptions{Retention: time.Hour}), ErrDuplicateJob)

	now = now.Add(2 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, "q", "k", quotePayload{}, EnqueueOptions{Retention: time.Hour}))
}

func TestInMemoryQueue_EnqueuePrunesExpiredRecords(t *testing.T) {
	q := NewInMemoryQueue(8, testLogger())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "q", "old-1", quotePayload{}, EnqueueOptions{Retention: time.Minute}))
	require.NoError(t, q.Enqueue(ctx, "q", "old-2", quotePayload{}, EnqueueOptions{Retention: time.Minute}))
	require.NoError(t, q.Enqueue(ctx, "q", "long", quotePayload{}, EnqueueOptions{Retention: time.Hour}))
	assert.Len(t, q.records, 3)

	now = now.Add(2 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, "q", "new", quotePayload{}, EnqueueOptions{Retention: time.Minute}))

	assert.Len(t, q.records, 2)
	assert.NotContains(t, q.records, jobRecordKey("", "q", "old-1"))
	assert.Contains(t, q.records, jobRecordKey("", "q", "long"))
	assert.Equal(t, jobStateQueued, q.State("q", "new"))
}

func TestInMemoryQueue_EmptyKey(t *testing.T) {
	q := NewInMemoryQueue(8, testLogger())
	err := q.Enqueue(context.Background(), "q", " ", quotePayload{}, EnqueueOptions{})
	require.Error(t, err)
}

func TestInMemoryQueue_ConsumeRecordsState(t *testing.T) {
	q := NewInMemoryQueue(8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "q", "ok", quotePayload{ID: 1, TradeHash: "0x1"}, EnqueueOptions{}))
	require.NoError(t, q.Enqueue(ctx, "q", "bad", quotePayload{ID: 2}, EnqueueOptions{}))

	var handled atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, "q", func(_ context.Context, job Job) error {
			var p quotePayload
			assert.NoError(t, job.Decode(&p))
			handled.Add(1)
			if p.ID == 2 {
				return errors.New("handler failed")
			}
			assert.Equal(t, "0x1", p.TradeHash)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return handled.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return q.State("q", "bad") == jobStateFailed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, jobStateCompleted, q.State("q", "ok"))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestInMemoryQueue_ClosedRejectsEnqueue(t *testing.T) {
	q := NewInMemoryQueue(1, testLogger())
	require.NoError(t, q.Close())
	require.Error(t, q.Enqueue(context.Background(), "q", "k", quotePayload{}, EnqueueOptions{}))
}
