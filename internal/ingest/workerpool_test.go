package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opendiscourse/legisync/pkg/errors"
	"github.com/opendiscourse/legisync/pkg/models"
)

func TestEveryTaskProducesExactlyOneResult(t *testing.T) {
	cases := []struct {
		tasks   int
		workers int
	}{
		{tasks: 1, workers: 1},
		{tasks: 10, workers: 1},
		{tasks: 10, workers: 4},
		{tasks: 100, workers: 8},
		{tasks: 7, workers: 16},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("%d_tasks_%d_workers", tc.tasks, tc.workers), func(t *testing.T) {
			pool := NewWorkerPool(tc.tasks, zap.NewNop())
			require.NoError(t, pool.Start(context.Background(), tc.workers))

			for i := 0; i < tc.tasks; i++ {
				i := i
				err := pool.Submit(context.Background(), Task{
					PackageID: fmt.Sprintf("pkg-%d", i),
					Run: func(ctx context.Context) (models.WriteOutcome, error) {
						if i%3 == 0 {
							return models.WriteUnchanged, errors.New(errors.ErrorTypeData, "bad record")
						}
						return models.WriteInserted, nil
					},
				})
				require.NoError(t, err)
			}

			got := 0
			for range make([]struct{}, tc.tasks) {
				select {
				case <-pool.Results():
					got++
				case <-time.After(5 * time.Second):
					t.Fatalf("timed out after %d of %d results", got, tc.tasks)
				}
			}
			assert.Equal(t, tc.tasks, got)

			stats := pool.Drain()
			assert.Equal(t, int64(tc.tasks), stats.TotalTasks)
			assert.Equal(t, int64(tc.tasks), stats.Completed)
			assert.Equal(t, stats.Completed, stats.Succeeded+stats.Failed)
		})
	}
}

func TestPoolLifecycleStates(t *testing.T) {
	pool := NewWorkerPool(8, zap.NewNop())
	assert.Equal(t, PoolStopped, pool.State())

	require.NoError(t, pool.Start(context.Background(), 2))
	assert.Equal(t, PoolRunning, pool.State())

	require.Error(t, pool.Start(context.Background(), 2), "double start must fail")

	pool.Drain()
	assert.Equal(t, PoolStopped, pool.State())

	err := pool.Submit(context.Background(), Task{Run: func(ctx context.Context) (models.WriteOutcome, error) {
		return models.WriteInserted, nil
	}})
	require.Error(t, err, "submit after drain must fail")
}

func TestDrainFinishesQueuedWork(t *testing.T) {
	pool := NewWorkerPool(64, zap.NewNop())
	require.NoError(t, pool.Start(context.Background(), 2))

	var executed int64
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{
			Run: func(ctx context.Context) (models.WriteOutcome, error) {
				mu.Lock()
				executed++
				mu.Unlock()
				return models.WriteInserted, nil
			},
		}))
	}

	stats := pool.Drain()
	assert.Equal(t, int64(50), stats.Completed, "drain must run all queued tasks")
	mu.Lock()
	assert.Equal(t, int64(50), executed)
	mu.Unlock()

	// results channel is closed and fully readable after drain
	got := 0
	for range pool.Results() {
		got++
	}
	assert.Equal(t, 50, got)
}

func TestSubmitHonorsContextWhenQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, zap.NewNop())
	require.NoError(t, pool.Start(context.Background(), 1))

	block := make(chan struct{})
	slow := Task{Run: func(ctx context.Context) (models.WriteOutcome, error) {
		<-block
		return models.WriteInserted, nil
	}}
	require.NoError(t, pool.Submit(context.Background(), slow))
	require.NoError(t, pool.Submit(context.Background(), slow)) // fills the queue

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, slow)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	close(block)
	<-pool.Results()
	<-pool.Results()
	pool.Drain()
}

func TestPoolStatsThroughput(t *testing.T) {
	pool := NewWorkerPool(16, zap.NewNop())
	require.NoError(t, pool.Start(context.Background(), 4))

	for i := 0; i < 16; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{
			Run: func(ctx context.Context) (models.WriteOutcome, error) {
				return models.WriteUpdated, nil
			},
		}))
	}
	stats := pool.Drain()

	assert.Equal(t, int64(16), stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Greater(t, stats.Duration, time.Duration(0))
	assert.Greater(t, stats.Throughput, 0.0)
}

func TestStopFinishesQueuedWorkAndClosesResults(t *testing.T) {
	pool := NewWorkerPool(32, zap.NewNop())
	require.NoError(t, pool.Start(context.Background(), 2))

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{
			Run: func(ctx context.Context) (models.WriteOutcome, error) {
				return models.WriteInserted, nil
			},
		}))
	}

	stats := pool.Stop()
	assert.Equal(t, int64(20), stats.Completed, "stop must flush the queue before exiting")
	assert.Equal(t, PoolStopped, pool.State())

	got := 0
	for range pool.Results() {
		got++
	}
	assert.Equal(t, 20, got)

	err := pool.Submit(context.Background(), Task{Run: func(ctx context.Context) (models.WriteOutcome, error) {
		return models.WriteInserted, nil
	}})
	require.Error(t, err, "submit after stop must fail")
}

func TestStopUnblocksIdleWorkersPromptly(t *testing.T) {
	pool := NewWorkerPool(4, zap.NewNop())
	require.NoError(t, pool.Start(context.Background(), 4))

	// no tasks submitted: all workers are parked on the queue
	done := make(chan PoolStats, 1)
	go func() { done <- pool.Stop() }()

	select {
	case stats := <-done:
		assert.Zero(t, stats.Completed)
		assert.Equal(t, PoolStopped, pool.State())
	case <-time.After(2 * time.Second):
		t.Fatal("idle workers did not observe stop")
	}
}
