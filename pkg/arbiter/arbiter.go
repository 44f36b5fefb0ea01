// Package arbiter serializes access to a shared, single-owner resource such
// as a half-duplex serial bus.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotAcquired is returned when the context ends before the resource
// became free. The work function did not run.
var ErrNotAcquired = errors.New("arbiter: resource not acquired")

// Stats reports arbiter usage.
type Stats struct {
	Sessions  uint64 // completed exclusive sessions
	Contended uint64 // acquisitions that had to wait
	Abandoned uint64 // callers that gave up waiting
}

// Arbiter grants exclusive access to a resource. Waiting callers are not
// queued in order; whichever wakes first proceeds.
type Arbiter[R any] struct {
	resource R
	sem      chan struct{}

	sessions  atomic.Uint64
	contended atomic.Uint64
	abandoned atomic.Uint64
}

// New wraps a resource. From here on the resource should only be used
// inside Do or Exclusive.
func New[R any](resource R) *Arbiter[R] {
	return &Arbiter[R]{
		resource: resource,
		sem:      make(chan struct{}, 1),
	}
}

// Do blocks until the resource is free, then runs work with exclusive
// access. The resource is released on every exit path, including panics.
// The error returned by work is passed through unchanged.
func (a *Arbiter[R]) Do(ctx context.Context, work func(R) error) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	defer a.release()

	return work(a.resource)
}

// Exclusive is Do for work that produces a value.
func Exclusive[R, T any](ctx context.Context, a *Arbiter[R], work func(R) (T, error)) (T, error) {
	var result T
	err := a.Do(ctx, func(r R) error {
		var err error
		result, err = work(r)
		return err
	})
	return result, err
}

// Stats returns usage counters.
func (a *Arbiter[R]) Stats() Stats {
	return Stats{
		Sessions:  a.sessions.Load(),
		Contended: a.contended.Load(),
		Abandoned: a.abandoned.Load(),
	}
}

func (a *Arbiter[R]) acquire(ctx context.Context) error {
	// Fast path
	select {
	case a.sem <- struct{}{}:
		return nil
	default:
	}

	a.contended.Add(1)
	select {
	case a.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		a.abandoned.Add(1)
		return fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
	}
}

func (a *Arbiter[R]) release() {
	a.sessions.Add(1)
	<-a.sem
}
