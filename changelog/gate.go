package changelog

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate limits the bytes of changelog files held in memory at once. It is
// scoped to one compaction.
type Gate struct {
	capacity int64
	sem      *semaphore.Weighted
	inUse    atomic.Int64
	peak     atomic.Int64
}

func NewGate(capacity int64) *Gate {
	return &Gate{
		capacity: capacity,
		sem:      semaphore.NewWeighted(capacity),
	}
}

func (g *Gate) Capacity() int64 {
	return g.capacity
}

// Acquire blocks until n bytes are free and debits them. Asking for more than the
// capacity fails instead of blocking forever.
func (g *Gate) Acquire(ctx context.Context, n int64) error {
	if n > g.capacity {
		return fmt.Errorf("%w: need %d bytes, capacity is %d", ErrBufferTooSmall, n, g.capacity)
	}
	if err := g.sem.Acquire(ctx, n); err != nil {
		return fmt.Errorf("%w: waiting for %d bytes of buffer: %w", ErrInterrupted, n, err)
	}

	cur := g.inUse.Add(n)
	for {
		peak := g.peak.Load()
		if cur <= peak || g.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	return nil
}

func (g *Gate) Release(n int64) {
	g.inUse.Add(-n)
	g.sem.Release(n)
}

// InUse is the number of bytes currently acquired.
func (g *Gate) InUse() int64 {
	return g.inUse.Load()
}

// Peak is the most bytes ever acquired at once.
func (g *Gate) Peak() int64 {
	return g.peak.Load()
}
