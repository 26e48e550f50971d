package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/manthysbr/runagent/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionPool_ConcurrencyLimit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	pool := NewExecutionPool(logger, PoolConfig{MaxConcurrent: 2})
	defer pool.Close()

	var runningJobs int32
	var maxRunningJobs int32
	var wg sync.WaitGroup

	totalJobs := 5
	wg.Add(totalJobs)

	work := func() {
		defer wg.Done()
		current := atomic.AddInt32(&runningJobs, 1)

		// Track peak concurrency
		for {
			peak := atomic.LoadInt32(&maxRunningJobs)
			if current <= peak || atomic.CompareAndSwapInt32(&maxRunningJobs, peak, current) {
				break
			}
		}

		time.Sleep(100 * time.Millisecond) // Simulate work
		atomic.AddInt32(&runningJobs, -1)
	}

	for i := 0; i < totalJobs; i++ {
		require.NoError(t, pool.Submit(work, func(error) { t.Error("unexpected abort") }))
	}

	wg.Wait()

	peak := atomic.LoadInt32(&maxRunningJobs)
	assert.LessOrEqual(t, peak, int32(2), "Should not exceed max concurrency")
	assert.Greater(t, peak, int32(0), "Should have run some jobs")
}

func TestExecutionPool_Unbounded(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	pool := NewExecutionPool(logger, PoolConfig{})
	defer pool.Close()

	// every job blocks until all of them have started
	const n = 20
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	for i := 0; i < n; i++ {
		require.NoError(t, pool.Submit(func() {
			started.Done()
			<-release
		}, func(error) {}))
	}

	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unbounded pool did not run all jobs concurrently")
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))
}

func TestExecutionPool_CloseAbortsQueued(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	pool := NewExecutionPool(logger, PoolConfig{MaxConcurrent: 1})

	release := make(chan struct{})
	holding := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(holding)
		<-release
	}, func(error) {}))
	<-holding

	aborted := make(chan error, 1)
	require.NoError(t, pool.Submit(func() {
		t.Error("queued job should not run after close")
	}, func(err error) {
		aborted <- err
	}))

	assert.False(t, pool.Closed())
	pool.Close()
	assert.True(t, pool.Closed())

	select {
	case err := <-aborted:
		assert.True(t, errors.Is(err, domain.ErrUnavailable))
	case <-time.After(2 * time.Second):
		t.Fatal("queued job was not aborted")
	}

	err := pool.Submit(func() {}, func(error) {})
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, pool.Wait(ctx))
}

func TestExecutionPool_WaitTimeout(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	pool := NewExecutionPool(logger, PoolConfig{})

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, pool.Submit(func() { <-release }, func(error) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Wait(ctx), context.DeadlineExceeded)
}
