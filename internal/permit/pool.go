// Package permit provides a fixed-capacity pool of execution slots.
//
// Waiters are served in FIFO order: a released slot is handed to the caller
// that has waited longest. Use Do for scoped acquisition; it releases on every
// exit path, including panics.
package permit

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many holders run at once.
type Pool struct {
	capacity int64
	sem      *semaphore.Weighted

	inUse    atomic.Int64
	peak     atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
}

// Stats is a point-in-time view of a pool's counters.
type Stats struct {
	Capacity int64
	InUse    int64
	Peak     int64
	Acquired int64
	Released int64
}

// New creates a pool with the given capacity. Capacity must be positive.
func New(capacity int) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("permit pool capacity must be positive, got %d", capacity)
	}
	return &Pool{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}, nil
}

// Acquire blocks until a slot is free or ctx is done.
// On error no slot is held.
func (p *Pool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire permit: %w", err)
	}
	n := p.inUse.Add(1)
	p.acquired.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

// Release returns a slot. Releasing more than was acquired panics.
func (p *Pool) Release() {
	if p.inUse.Add(-1) < 0 {
		p.inUse.Add(1)
		panic("permit: release without matching acquire")
	}
	p.released.Add(1)
	p.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released exactly once however
// fn terminates.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Capacity returns the pool size.
func (p *Pool) Capacity() int {
	return int(p.capacity)
}

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Stats returns the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: p.capacity,
		InUse:    p.inUse.Load(),
		Peak:     p.peak.Load(),
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
	}
}
