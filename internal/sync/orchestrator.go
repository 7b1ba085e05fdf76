package sync

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"jaces.io/core/internal/objectstore"
	"jaces.io/core/internal/perr"
	"jaces.io/core/internal/store"
)

// RetryPolicy controls SyncStream's backoff, mirroring
// original_source/sources/google/calendar/sync.py's MAX_RETRIES=3,
// RETRY_DELAY=1.0 generalized to exponential backoff across all syncers.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the calendar syncer's own constants.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Orchestrator runs SyncStream for registered syncers, applying the OAuth
// token lifecycle, a per-source rate limit, and retry/backoff per the
// failure-class table (spec §4.2): upstream/unavailable errors retry with
// backoff, auth/validation errors surface immediately without retry.
type Orchestrator struct {
	tokens  *TokenManager
	store   *store.Store
	objects *objectstore.Client
	limiters map[string]*rate.Limiter
	retry   RetryPolicy
}

// NewOrchestrator wires the token manager, relational store, and object
// store into a sync orchestrator.
func NewOrchestrator(tokens *TokenManager, st *store.Store, objects *objectstore.Client) *Orchestrator {
	return &Orchestrator{
		tokens:   tokens,
		store:    st,
		objects:  objects,
		limiters: make(map[string]*rate.Limiter),
		retry:    DefaultRetryPolicy(),
	}
}

// Throttle configures the per-source rate limit (requests/sec).
func (o *Orchestrator) Throttle(sourceName string, requestsPerSecond float64) {
	if requestsPerSecond <= 0 {
		return
	}
	o.limiters[sourceName] = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

// SyncStream pulls and lands one batch for a syncer's stream. It takes no
// per-stream lock, and the scheduler enqueues a sync task for each due
// stream whether or not one is already in flight, so two calls for the same
// stream can run at the same time.
func (o *Orchestrator) SyncStream(ctx context.Context, syncer Syncer, streamName string) (Stats, error) {
	sourceName := syncer.SourceName()

	if limiter, ok := o.limiters[sourceName]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return Stats{}, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	cursor, err := o.loadCursor(ctx, streamName)
	if err != nil {
		return Stats{}, err
	}

	var batch *Batch
	var lastErr error

	for attempt := 0; attempt < o.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * o.retry.BaseDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Stats{}, ctx.Err()
			}
		}

		// Ensure the token is fresh before each attempt; a mid-sync expiry
		// re-triggers the refresh state machine rather than failing the batch.
		if _, tokErr := o.tokens.Token(ctx, sourceName); tokErr != nil {
			return Stats{}, fmt.Errorf("acquiring token for %s: %w", sourceName, tokErr)
		}

		batch, lastErr = syncer.Sync(ctx, streamName, cursor)
		if lastErr == nil {
			break
		}
		if !perr.Retryable(lastErr) {
			return Stats{}, fmt.Errorf("syncing stream %s: %w", streamName, lastErr)
		}
	}
	if lastErr != nil {
		return Stats{}, fmt.Errorf("syncing stream %s after %d attempts: %w", streamName, o.retry.MaxAttempts, lastErr)
	}

	key, err := o.landBatch(ctx, sourceName, streamName, batch)
	if err != nil {
		return Stats{}, err
	}
	if err := o.saveCursor(ctx, streamName, batch.Cursor); err != nil {
		return Stats{}, err
	}

	return Stats{RecordsFetched: len(batch.Records), NewCursor: batch.Cursor, ObjectKey: key}, nil
}

func (o *Orchestrator) loadCursor(ctx context.Context, streamName string) (string, error) {
	var row store.StreamRow
	err := o.store.DB().WithContext(ctx).Where("name = ?", streamName).First(&row).Error
	if err != nil {
		return "", nil // first sync: no cursor yet
	}
	return row.SyncCursor, nil
}

func (o *Orchestrator) saveCursor(ctx context.Context, streamName, cursor string) error {
	now := time.Now()
	return o.store.DB().WithContext(ctx).Model(&store.StreamRow{}).
		Where("name = ?", streamName).
		Updates(map[string]interface{}{"sync_cursor": cursor, "last_synced_at": now}).Error
}

func (o *Orchestrator) landBatch(ctx context.Context, sourceName, streamName string, batch *Batch) (string, error) {
	payload, err := marshalBatch(batch)
	if err != nil {
		return "", fmt.Errorf("marshaling batch for %s/%s: %w", sourceName, streamName, err)
	}

	connectionID, err := o.store.ConnectionID(ctx, sourceName)
	if err != nil {
		return "", fmt.Errorf("landing raw batch for %s/%s: %w", sourceName, streamName, err)
	}

	now := batch.FetchedAt
	key := objectstore.RawBatchKey(sourceName, now.Year(), int(now.Month()), now.Day(), connectionID, uuid.NewString())
	if err := o.objects.Put(ctx, key, payload, "application/json"); err != nil {
		return "", fmt.Errorf("landing raw batch: %w", err)
	}
	return key, nil
}
