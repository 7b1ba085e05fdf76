package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.NewWithClient(client, "test:")
}

func TestQueue_EnqueueDequeueRoundTrips(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := queue.NewTask(queue.KindSyncStream, map[string]any{"stream_name": "google_calendar_primary"})
	require.NoError(t, q.Enqueue(ctx, task))

	depth, err := q.Depth(ctx, queue.KindSyncStream)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := q.Dequeue(ctx, queue.KindSyncStream, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestQueue_DequeueTimesOutWhenEmpty(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	got, err := q.Dequeue(ctx, queue.KindSegmentDay, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_FailTaskRequeuesWithIncrementedRetries(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	task := queue.NewTask(queue.KindDetectOneSignal, nil)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx, queue.KindDetectOneSignal, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing(ctx, got.ID, time.Now().Add(time.Minute)))

	processing, err := q.IsProcessing(ctx, got.ID)
	require.NoError(t, err)
	assert.True(t, processing)

	require.NoError(t, q.FailTask(ctx, *got, true))

	processing, err = q.IsProcessing(ctx, got.ID)
	require.NoError(t, err)
	assert.False(t, processing)

	requeued, err := q.Dequeue(ctx, queue.KindDetectOneSignal, time.Second)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, 1, requeued.Retries)
}
