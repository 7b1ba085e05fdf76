// Package workerpool runs a pool of workers draining internal/queue per
// task kind, grounded on worker/pool.go's generic Queue/JobProcessor split,
// generalized from queue-name string keys to typed queue.Kind keys.
package workerpool

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"jaces.io/core/internal/perr"
	"jaces.io/core/internal/queue"
)

// maxTaskRetries bounds requeues: a task that has already been requeued this
// many times is failed for good, per spec §4.7's "bounded retries" and §7's
// per-class retry table. A requeued task goes straight back onto its queue
// (queue.FailTask); no backoff delay is applied between attempts.
const maxTaskRetries = 3

// Handler processes one dequeued task and returns an error if it failed.
// The handler only reports failure: whether a failed task is requeued is
// decided by the pool (shouldRetry, bounded by maxTaskRetries).
type Handler interface {
	Handle(ctx context.Context, t queue.Task) error
	// Timeout bounds how long a single task may run before its context is
	// cancelled.
	Timeout(t queue.Task) time.Duration
}

// Config configures how many concurrent workers drain each task kind
// (worker/pool.go's Config.Queues, generalized to queue.Kind).
type Config struct {
	Concurrency map[queue.Kind]int
}

// DefaultConfig mirrors worker/pool.go's sequential/parallel/priority split,
// adapted to this pipeline's task kinds: stream syncs run with modest
// concurrency (external rate limits), batch processing and detection scale
// wider (CPU/DB bound, not network bound).
func DefaultConfig() Config {
	return Config{
		Concurrency: map[queue.Kind]int{
			queue.KindSyncStream:            3,
			queue.KindProcessStreamBatch:    5,
			queue.KindDetectOneSignal:       5,
			queue.KindDetectAllSignals:      1,
			queue.KindSegmentDay:            2,
			queue.KindRefreshExpiringTokens: 1,
			queue.KindCleanupAuditRows:      1,
			queue.KindCheckScheduledSyncs:   1,
		},
	}
}

// Pool manages a set of workers, one goroutine per (kind, slot).
type Pool struct {
	q       *queue.Queue
	handler Handler
	config  Config
	logger  zerolog.Logger
	cancel  context.CancelFunc
}

// New builds a worker pool bound to a queue and a task handler.
func New(q *queue.Queue, handler Handler, config Config, logger zerolog.Logger) *Pool {
	return &Pool{q: q, handler: handler, config: config, logger: logger}
}

// Start launches every configured worker goroutine. The workers exit when
// ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	var total int
	for kind, n := range p.config.Concurrency {
		for i := 0; i < n; i++ {
			total++
			go p.runWorker(ctx, kind, i)
		}
	}
	p.logger.Info().Int("workers", total).Msg("worker pool started")
}

// Stop signals every worker to exit after its current dequeue.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) runWorker(ctx context.Context, kind queue.Kind, slot int) {
	log := p.logger.With().Str("task_kind", string(kind)).Int("worker", slot).Logger()
	log.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return
		default:
		}

		task, err := p.q.Dequeue(ctx, kind, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		p.process(ctx, log, *task)
	}
}

func (p *Pool) process(ctx context.Context, log zerolog.Logger, task queue.Task) {
	timeout := p.handler.Timeout(task)
	deadline := time.Now().Add(timeout)

	if err := p.q.MarkProcessing(ctx, task.ID, deadline); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark processing; requeuing")
		_ = p.q.Enqueue(ctx, task)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.handler.Handle(taskCtx, task)
	if err != nil {
		requeue := shouldRetry(task, taskCtx.Err(), err)
		log.Error().Err(err).Str("task_id", task.ID).Int("retries", task.Retries).Bool("requeue", requeue).Msg("task failed")
		if failErr := p.q.FailTask(ctx, task, requeue); failErr != nil {
			log.Error().Err(failErr).Msg("failed to mark task failed")
		}
		return
	}

	if err := p.q.CompleteTask(ctx, task.ID); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark task complete")
	}
}

// shouldRetry decides whether a failed task is requeued, per spec §7:
// auth/validation/not-found failures never retry; a deadline exceeded or
// cancelled task context retries once regardless of error kind (unless the
// error itself is already non-retryable); everything else follows the
// sync-runtime failure-class table via perr.Retryable. All paths are bounded
// by maxTaskRetries.
func shouldRetry(task queue.Task, ctxErr, handlerErr error) bool {
	if task.Retries >= maxTaskRetries {
		return false
	}
	switch perr.ClassOf(handlerErr) {
	case perr.KindAuth, perr.KindValidation, perr.KindNotFound:
		return false
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(ctxErr, context.Canceled) {
		return task.Retries == 0
	}
	return perr.Retryable(handlerErr)
}
