package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/manthysbr/runagent/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// PoolConfig defines concurrency limits
type PoolConfig struct {
	// MaxConcurrent bounds running jobs. Zero or less means unbounded.
	MaxConcurrent int64
}

// ExecutionPool runs job bodies in background goroutines, optionally bounded
// by a weighted semaphore (1 job = 1 unit).
type ExecutionPool struct {
	logger    *slog.Logger
	semaphore *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewExecutionPool(logger *slog.Logger, cfg PoolConfig) *ExecutionPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &ExecutionPool{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.MaxConcurrent > 0 {
		p.semaphore = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return p
}

// Submit schedules run. When the pool closes before run obtained a slot,
// abort is called instead with an error wrapping domain.ErrUnavailable.
func (p *ExecutionPool) Submit(run func(), abort func(error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: execution pool closed", domain.ErrUnavailable)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		if p.semaphore != nil {
			if err := p.semaphore.Acquire(p.ctx, 1); err != nil {
				p.logger.Warn("job dropped before start", "error", err)
				abort(fmt.Errorf("%w: agent shutting down", domain.ErrUnavailable))
				return
			}
			defer p.semaphore.Release(1)
		}
		run()
	}()
	return nil
}

// Close rejects new submissions and aborts jobs still queued for a slot.
// Running processes are not interrupted.
func (p *ExecutionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("stopping execution pool")
	p.cancel()
}

// Closed reports whether Submit rejects new jobs.
func (p *ExecutionPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until every submitted job has returned or ctx is done.
func (p *ExecutionPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
