package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// InMemoryQueue implements JobQueue in process. It is used when no Redis URL
// is configured and in tests.
type InMemoryQueue struct {
	mu      sync.Mutex
	queues  map[string]chan Job
	records map[string]memoryRecord
	seq     int64
	buffer  int
	now     func() time.Time
	logger  *slog.Logger
	closed  bool

	nextPrune time.Time
}

// memoryPruneInterval bounds how often Enqueue sweeps expired records.
const memoryPruneInterval = time.Minute

type memoryRecord struct {
	state     string
	expiresAt time.Time
}

var _ JobQueue = (*InMemoryQueue)(nil)

func NewInMemoryQueue(buffer int, logger *slog.Logger) *InMemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &InMemoryQueue{
		queues:  make(map[string]chan Job),
		records: make(map[string]memoryRecord),
		buffer:  buffer,
		now:     time.Now,
		logger:  logger.With("component", "memory_queue"),
	}
}

func (q *InMemoryQueue) channel(queue string) chan Job {
	ch, ok := q.queues[queue]
	if !ok {
		ch = make(chan Job, q.buffer)
		q.queues[queue] = ch
	}
	return ch
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, queue, key string, payload any, opts EnqueueOptions) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("enqueue %s: empty idempotency key", queue)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: queue closed", queue)
	}
	recordKey := jobRecordKey("", queue, key)
	now := q.now()
	q.pruneLocked(now)
	if rec, ok := q.records[recordKey]; ok && now.Before(rec.expiresAt) {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s/%s: %w", queue, key, ErrDuplicateJob)
	}
	q.records[recordKey] = memoryRecord{state: jobStateQueued, expiresAt: now.Add(opts.retention())}
	q.seq++
	job := Job{ID: strconv.FormatInt(q.seq, 10), Queue: queue, Key: key, Payload: body}
	ch := q.channel(queue)
	q.mu.Unlock()

	select {
	case ch <- job:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.records, recordKey)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// pruneLocked drops expired idempotency records. q.mu must be held.
func (q *InMemoryQueue) pruneLocked(now time.Time) {
	if now.Before(q.nextPrune) {
		return
	}
	q.nextPrune = now.Add(memoryPruneInterval)
	for k, rec := range q.records {
		if !now.Before(rec.expiresAt) {
			delete(q.records, k)
		}
	}
}

func (q *InMemoryQueue) Consume(ctx context.Context, queue string, handler Handler) error {
	q.mu.Lock()
	ch := q.channel(queue)
	q.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-ch:
			state := jobStateCompleted
			if err := handler(ctx, job); err != nil {
				state = jobStateFailed
				q.logger.Warn("job failed", "queue", queue, "key", job.Key, "error", err)
			}
			q.setState(queue, job.Key, state)
		}
	}
}

func (q *InMemoryQueue) setState(queue, key, state string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	recordKey := jobRecordKey("", queue, key)
	if rec, ok := q.records[recordKey]; ok {
		rec.state = state
		q.records[recordKey] = rec
	}
}

// State returns the recorded state for a job key, or "" when unknown or expired.
func (q *InMemoryQueue) State(queue, key string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[jobRecordKey("", queue, key)]
	if !ok || !q.now().Before(rec.expiresAt) {
		return ""
	}
	return rec.state
}

// Len reports how many jobs are waiting on queue.
func (q *InMemoryQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.channel(queue))
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
