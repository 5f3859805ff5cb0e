package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

type (
	// Executor runs independent units of work. Submit must not block on the
	// work itself: callers may submit work that waits on something only the
	// caller can provide.
	Executor interface {
		Submit(work func())
	}

	// Pool runs at most size units of work at a time. Each submitted unit gets
	// its own goroutine which parks on the pool's slots until it may run.
	Pool struct {
		size  int64
		slots *semaphore.Weighted
		group errgroup.Group
	}
)

func NewPool(size int64) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:  size,
		slots: semaphore.NewWeighted(size),
	}
}

func (p *Pool) Size() int64 {
	return p.size
}

func (p *Pool) Submit(work func()) {
	p.group.Go(func() error {
		// Background never errors, so Acquire only returns once a slot is free
		_ = p.slots.Acquire(context.Background(), 1)
		defer p.slots.Release(1)
		work()
		return nil
	})
}

// Shutdown waits for all submitted work, or until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("error waiting for pool to drain: %w", ctx.Err())
	}
}

// SubmitAll submits fn once per item.
func SubmitAll[T any](ex Executor, items []T, fn func(T)) {
	for _, item := range items {
		item := item
		ex.Submit(func() {
			fn(item)
		})
	}
}
