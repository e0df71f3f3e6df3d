// Package worker bounds concurrent calls to external services. Admission is
// a weighted semaphore sized pool + queue: up to pool tasks run, up to queue
// more wait, and anything beyond that is rejected immediately so overload
// surfaces as a fast 503 instead of unbounded goroutine growth.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrSaturated is returned when both the pool and its queue are full.
var ErrSaturated = errors.New("worker pool saturated")

// Pool admits at most poolSize concurrent tasks with queueSize waiters.
type Pool struct {
	running *semaphore.Weighted
	waiting *semaphore.Weighted
	log     *slog.Logger

	active int64
}

func NewPool(poolSize, queueSize int, log *slog.Logger) *Pool {
	if poolSize <= 0 {
		poolSize = 4
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		running: semaphore.NewWeighted(int64(poolSize)),
		waiting: semaphore.NewWeighted(int64(poolSize + queueSize)),
		log:     log.With(slog.String("component", "worker-pool")),
	}
}

// Do runs fn under the pool's concurrency limit with the given per-task
// timeout. It blocks while a queue slot is available and fails fast with
// ErrSaturated once the queue is full. The context handed to fn carries the
// timeout and the caller's cancellation.
func (p *Pool) Do(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	if !p.waiting.TryAcquire(1) {
		p.log.Warn("task rejected", slog.String("task", name))
		return ErrSaturated
	}
	defer p.waiting.Release(1)

	if err := p.running.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.running.Release(1)

	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		p.log.Debug("slow task",
			slog.String("task", name),
			slog.Duration("elapsed", elapsed))
	}
	return err
}

// Active reports tasks currently executing.
func (p *Pool) Active() int64 {
	return atomic.LoadInt64(&p.active)
}
