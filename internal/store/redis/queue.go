package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateJob is returned by Enqueue when the idempotency key is still retained.
var ErrDuplicateJob = errors.New("job with idempotency key already enqueued")

// DefaultRetention keeps completed and failed job records for a day.
const DefaultRetention = 24 * time.Hour

// Job is one unit of work read from a queue.
type Job struct {
	ID      string
	Queue   string
	Key     string
	Payload json.RawMessage
}

// Decode unmarshals the job payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode job %s payload: %w", j.Key, err)
	}
	return nil
}

// EnqueueOptions tunes a single Enqueue call.
type EnqueueOptions struct {
	// Retention bounds how long the idempotency record survives. Zero means DefaultRetention.
	Retention time.Duration
}

func (o EnqueueOptions) retention() time.Duration {
	if o.Retention <= 0 {
		return DefaultRetention
	}
	return o.Retention
}

// Handler processes one job. Returning an error marks the job record failed;
// the job itself is never redelivered.
type Handler func(ctx context.Context, job Job) error

// JobQueue is the work-queue abstraction shared by producers and consumers.
type JobQueue interface {
	Enqueue(ctx context.Context, queue, key string, payload any, opts EnqueueOptions) error
	Consume(ctx context.Context, queue string, handler Handler) error
	Close() error
}

// Job record states kept under the idempotency key.
const (
	jobStateQueued    = "queued"
	jobStateCompleted = "completed"
	jobStateFailed    = "failed"
)
