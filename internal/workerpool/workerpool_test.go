package workerpool_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/queue"
	"jaces.io/core/internal/workerpool"
)

type countingHandler struct {
	handled atomic.Int32
}

func (h *countingHandler) Handle(ctx context.Context, t queue.Task) error {
	h.handled.Add(1)
	return nil
}

func (h *countingHandler) Timeout(t queue.Task) time.Duration { return time.Second }

func TestPool_DrainsEnqueuedTasks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewWithClient(client, "test:")

	handler := &countingHandler{}
	pool := workerpool.New(q, handler, workerpool.Config{
		Concurrency: map[queue.Kind]int{queue.KindSyncStream: 1},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, q.Enqueue(context.Background(), queue.NewTask(queue.KindSyncStream, nil)))
	require.NoError(t, q.Enqueue(context.Background(), queue.NewTask(queue.KindSyncStream, nil)))

	assert.Eventually(t, func() bool {
		return handler.handled.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
