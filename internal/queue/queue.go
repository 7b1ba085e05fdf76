// Package queue implements the durable work queue: a FIFO list per logical
// queue name holding JSON Task envelopes, plus a
// processing set used for at-least-once redelivery on worker crash.
// Grounded almost directly on queue/redis/queue.go, generalized from a
// workflow-action Job to a pipeline Task.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Kind names a scheduler task.
type Kind string

const (
	KindSyncStream           Kind = "sync_stream"
	KindProcessStreamBatch   Kind = "process_stream_batch"
	KindDetectOneSignal      Kind = "detect_one_signal"
	KindDetectAllSignals     Kind = "detect_all_signals"
	KindSegmentDay           Kind = "segment_day"
	KindRefreshExpiringTokens Kind = "refresh_expiring_tokens"
	KindCleanupAuditRows     Kind = "cleanup_audit_rows"
	KindCheckScheduledSyncs  Kind = "check_scheduled_syncs"
)

// Task is the JSON envelope: {id, task, args, kwargs, retries, eta, expires}.
type Task struct {
	ID      string         `json:"id"`
	Kind    Kind           `json:"task"`
	Args    []interface{}  `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Retries int            `json:"retries"`
	ETA     *time.Time     `json:"eta,omitempty"`
	Expires *time.Time     `json:"expires,omitempty"`
}

// NewTask builds a task envelope with a fresh ID.
func NewTask(kind Kind, kwargs map[string]any) Task {
	return Task{ID: uuid.NewString(), Kind: kind, Kwargs: kwargs}
}

// Config configures the queue's Redis connection.
type Config struct {
	RedisURL  string
	KeyPrefix string
}

// Queue is the Redis-backed FIFO-per-kind durable task queue.
type Queue struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing queue redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to queue redis: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pipeline:"
	}
	return &Queue{client: client, prefix: prefix}, nil
}

// NewWithClient wraps an already-constructed client (used by tests against
// miniredis).
func NewWithClient(client *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = "pipeline:"
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) Close() error { return q.client.Close() }

func (q *Queue) queueKey(kind Kind) string { return q.prefix + "queue:" + string(kind) }
func (q *Queue) processingKey() string     { return q.prefix + "processing" }

// Enqueue appends a task to its kind's FIFO list.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	return q.client.RPush(ctx, q.queueKey(t.Kind), payload).Err()
}

// Dequeue blocks up to timeout for the next task of the given kind.
// Returns (nil, nil) on timeout with no task available.
func (q *Queue) Dequeue(ctx context.Context, kind Kind, timeout time.Duration) (*Task, error) {
	result, err := q.client.BLPop(ctx, timeout, q.queueKey(kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeuing %s: %w", kind, err)
	}
	if len(result) < 2 {
		return nil, nil
	}
	var t Task
	if err := json.Unmarshal([]byte(result[1]), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling task: %w", err)
	}
	return &t, nil
}

// MarkProcessing adds a task to the processing set with a deadline, so a
// crashed worker's in-flight tasks can be detected and requeued.
func (q *Queue) MarkProcessing(ctx context.Context, taskID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.processingKey(), redis.Z{Score: float64(deadline.Unix()), Member: taskID}).Err()
}

// CompleteTask removes a task from the processing set.
func (q *Queue) CompleteTask(ctx context.Context, taskID string) error {
	return q.client.ZRem(ctx, q.processingKey(), taskID).Err()
}

// FailTask removes a task from the processing set and, if requeue is true,
// re-enqueues it with an incremented retry count.
func (q *Queue) FailTask(ctx context.Context, t Task, requeue bool) error {
	if err := q.CompleteTask(ctx, t.ID); err != nil {
		return err
	}
	if !requeue {
		return nil
	}
	t.Retries++
	return q.Enqueue(ctx, t)
}

// Depth returns the number of queued tasks of the given kind.
func (q *Queue) Depth(ctx context.Context, kind Kind) (int64, error) {
	return q.client.LLen(ctx, q.queueKey(kind)).Result()
}

// IsProcessing reports whether a task is currently in the processing set.
func (q *Queue) IsProcessing(ctx context.Context, taskID string) (bool, error) {
	_, err := q.client.ZScore(ctx, q.processingKey(), taskID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
