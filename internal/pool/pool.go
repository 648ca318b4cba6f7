// Package pool bounds concurrent work to a fixed set of reusable workers.
//
// Acquire hands out an idle worker immediately or parks the caller in a FIFO
// queue. Release gives the worker straight to the longest-waiting caller, so
// a burst of new arrivals cannot overtake callers already queued.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrEmpty is returned by New when no workers are supplied.
var ErrEmpty = errors.New("pool: at least one worker is required")

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Size    int `json:"size"`
	Busy    int `json:"busy"`
	Idle    int `json:"idle"`
	Waiting int `json:"waiting"`
}

type waiter[T any] struct {
	ch chan T
}

// Pool is a FIFO-fair pool of workers of type T.
type Pool[T any] struct {
	mu      sync.Mutex
	size    int
	idle    []T
	waiters *list.List
}

// New returns a pool that owns workers.
func New[T any](workers []T) (*Pool[T], error) {
	if len(workers) == 0 {
		return nil, ErrEmpty
	}
	idle := make([]T, len(workers))
	copy(idle, workers)
	return &Pool[T]{size: len(workers), idle: idle, waiters: list.New()}, nil
}

// Acquire returns an idle worker, waiting in FIFO order if none is free.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	return p.AcquireNotify(ctx, nil)
}

// AcquireNotify is Acquire that calls queued with the caller's 1-based queue
// position when it has to wait. queued runs before the caller blocks.
func (p *Pool[T]) AcquireNotify(ctx context.Context, queued func(position int)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return w, nil
	}
	wt := &waiter[T]{ch: make(chan T, 1)}
	elem := p.waiters.PushBack(wt)
	position := p.waiters.Len()
	p.mu.Unlock()

	if queued != nil {
		queued(position)
	}

	select {
	case w := <-wt.ch:
		return w, nil
	case <-ctx.Done():
		p.mu.Lock()
		if elem.Value != nil {
			p.waiters.Remove(elem)
			elem.Value = nil
			p.mu.Unlock()
			return zero, ctx.Err()
		}
		p.mu.Unlock()
		// Release already handed us a worker; pass it on.
		p.Release(<-wt.ch)
		return zero, ctx.Err()
	}
}

// TryAcquire returns an idle worker without waiting.
func (p *Pool[T]) TryAcquire() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	n := len(p.idle)
	if n == 0 {
		return zero, false
	}
	w := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return w, true
}

// Release returns w to the pool, waking exactly one waiter if any.
func (p *Pool[T]) Release(w T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if front := p.waiters.Front(); front != nil {
		wt := front.Value.(*waiter[T])
		p.waiters.Remove(front)
		front.Value = nil
		wt.ch <- w
		return
	}
	p.idle = append(p.idle, w)
}

// Do acquires a worker, runs fn with it and releases it.
func (p *Pool[T]) Do(ctx context.Context, fn func(T) error) error {
	w, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(w)
	return fn(w)
}

// Stats reports current occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:    p.size,
		Busy:    p.size - len(p.idle),
		Idle:    len(p.idle),
		Waiting: p.waiters.Len(),
	}
}

// Waiting returns the queue depth.
func (p *Pool[T]) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}
