package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBlock     = 5 * time.Second
	defaultReadCount = 10
	defaultMaxLen    = 10_000
	consumerGroup    = "workers"
)

// StreamQueue implements JobQueue on Redis Streams. Idempotency keys are
// plain string keys written with SET NX and expired after the retention window.
type StreamQueue struct {
	client    *redis.Client
	namespace string
	consumer  string
	logger    *slog.Logger
}

var _ JobQueue = (*StreamQueue)(nil)

func NewStreamQueue(url, namespace string, logger *slog.Logger) (*StreamQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &StreamQueue{
		client:    client,
		namespace: namespace,
		consumer:  "consumer-" + uuid.NewString(),
		logger:    logger.With("component", "stream_queue"),
	}, nil
}

func (s *StreamQueue) Close() error {
	return s.client.Close()
}

func (s *StreamQueue) Client() *redis.Client {
	return s.client
}

func (s *StreamQueue) streamKey(queue string) string {
	return streamName(s.namespace, queue)
}

func (s *StreamQueue) jobKey(queue, key string) string {
	return jobRecordKey(s.namespace, queue, key)
}

func (s *StreamQueue) Enqueue(ctx context.Context, queue, key string, payload any, opts EnqueueOptions) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("enqueue %s: empty idempotency key", queue)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.jobKey(queue, key), jobStateQueued, opts.retention()).Result()
	if err != nil {
		return fmt.Errorf("reserve job key %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("enqueue %s/%s: %w", queue, key, ErrDuplicateJob)
	}

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(queue),
		MaxLen: defaultMaxLen,
		Approx: true,
		Values: map[string]any{"key": key, "payload": string(body)},
	}).Err(); err != nil {
		// Release the key so the next scheduler tick can enqueue again.
		_ = s.client.Del(ctx, s.jobKey(queue, key)).Err()
		return fmt.Errorf("xadd %s: %w", queue, err)
	}
	return nil
}

// Consume blocks reading the queue's stream until ctx is done.
func (s *StreamQueue) Consume(ctx context.Context, queue string, handler Handler) error {
	stream := s.streamKey(queue)
	if err := s.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group for %s: %w", stream, err)
	}

	s.logger.Info("queue consumer started", "queue", queue, "consumer", s.consumer)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: s.consumer,
			Streams:  []string{stream, ">"},
			Count:    defaultReadCount,
			Block:    defaultBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("xreadgroup failed", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				s.handleMessage(ctx, queue, stream, msg, handler)
			}
		}
	}
}

func (s *StreamQueue) handleMessage(ctx context.Context, queue, stream string, msg redis.XMessage, handler Handler) {
	job := Job{
		ID:      msg.ID,
		Queue:   queue,
		Key:     stringValue(msg.Values["key"]),
		Payload: json.RawMessage(stringValue(msg.Values["payload"])),
	}

	state := jobStateCompleted
	if err := handler(ctx, job); err != nil {
		state = jobStateFailed
		s.logger.Warn("job failed", "queue", queue, "key", job.Key, "error", err)
	}

	if job.Key != "" {
		if err := s.client.SetArgs(ctx, s.jobKey(queue, job.Key), state, redis.SetArgs{KeepTTL: true}).Err(); err != nil {
			s.logger.Warn("update job record failed", "queue", queue, "key", job.Key, "error", err)
		}
	}
	if err := s.client.XAck(ctx, stream, consumerGroup, msg.ID).Err(); err != nil {
		s.logger.Warn("xack failed", "queue", queue, "id", msg.ID, "error", err)
	}
}

func streamName(namespace, queue string) string {
	if namespace == "" {
		return "queue:" + queue
	}
	return namespace + ":queue:" + queue
}

func jobRecordKey(namespace, queue, key string) string {
	return streamName(namespace, queue) + ":job:" + key
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
