package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST SUITE 1: WORKING POOL
// ============================================================================

func startPool(t *testing.T, workers, queue int) (*WorkingPool, context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	pool := NewWorkingPool(workers, queue)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go pool.Start(ctx, &wg)
	return pool, cancel, &wg
}

func TestWorkingPool_RunsAllJobs(t *testing.T) {
	pool, cancel, wg := startPool(t, 3, 4)
	defer func() {
		cancel()
		wg.Wait()
	}()

	var ran atomic.Int32
	var done sync.WaitGroup
	for range 20 {
		done.Add(1)
		err := pool.SubmitJob(context.Background(), func(ctx context.Context) error {
			defer done.Done()
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}
	done.Wait()
	assert.Equal(t, int32(20), ran.Load())
}

func TestWorkingPool_SurvivesPanicsAndErrors(t *testing.T) {
	pool, cancel, wg := startPool(t, 1, 1)
	defer func() {
		cancel()
		wg.Wait()
	}()

	var done sync.WaitGroup
	done.Add(3)
	require.NoError(t, pool.SubmitJob(context.Background(), func(ctx context.Context) error {
		defer done.Done()
		panic("boom")
	}))
	require.NoError(t, pool.SubmitJob(context.Background(), func(ctx context.Context) error {
		defer done.Done()
		return errors.New("job failed")
	}))

	var reached atomic.Bool
	require.NoError(t, pool.SubmitJob(context.Background(), func(ctx context.Context) error {
		defer done.Done()
		reached.Store(true)
		return nil
	}))
	done.Wait()
	assert.True(t, reached.Load())
}

func TestWorkingPool_RejectsAfterShutdown(t *testing.T) {
	pool, cancel, wg := startPool(t, 2, 0)
	cancel()
	wg.Wait()

	err := pool.SubmitJob(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestWorkingPool_SubmitHonorsContext(t *testing.T) {
	// no workers are started, so an unbuffered submit can only time out
	pool := NewWorkingPool(1, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.SubmitJob(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// TEST SUITE 2: JOB SCHEDULER
// ============================================================================

func TestJobScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	scheduler := NewJobScheduler("test", 10*time.Millisecond)

	var runs atomic.Int32
	scheduler.AddJob(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	scheduler.AddJob(func(ctx context.Context) error {
		panic("scheduler must survive this")
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go scheduler.Run(ctx, &wg)

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestJobScheduler_DefaultInterval(t *testing.T) {
	assert.Equal(t, time.Hour, NewJobScheduler("zero", 0).Interval)
}
