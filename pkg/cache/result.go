package cache

import (
	"context"
	"fmt"
)

// State is the lifecycle state of a cached result.
type State int

const (
	// StateIdle is a result whose producer has not started.
	StateIdle State = iota

	// StatePending is a result whose producer is running.
	StatePending

	// StateResolved is a result holding a value.
	StateResolved

	// StateErrored is a result holding the producer's error.
	StateErrored
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is an observable handle to a cached value of type T.
// Every Result for the same key of a Binding observes the same entry.
type Result[T any] struct {
	b   *Binding
	e   *entry
	def T
}

// Key returns the cache key.
func (r *Result[T]) Key() string {
	return r.e.key
}

// State returns the current state.
func (r *Result[T]) State() State {
	st, _, _, _ := r.e.snapshot()
	return st
}

// Value returns the resolved value. While pending it returns the value of
// the previous generation if there is one, otherwise the default; when
// errored it returns the default.
func (r *Result[T]) Value() T {
	_, v, ok, _ := r.e.snapshot()
	if !ok {
		return r.def
	}
	typed, ok := v.(T)
	if !ok {
		return r.def
	}
	return typed
}

// Err returns the error of an errored result, or nil.
func (r *Result[T]) Err() error {
	st, v, ok, err := r.e.snapshot()
	if st == StateErrored {
		return err
	}
	if st == StateResolved && ok {
		if _, typed := v.(T); !typed {
			return fmt.Errorf("%w: key %q holds %T", ErrTypeMismatch, r.e.key, v)
		}
	}
	return nil
}

// Done returns a channel closed when the current execution settles.
func (r *Result[T]) Done() <-chan struct{} {
	return r.e.doneChan()
}

// Wait blocks until the current execution settles or ctx is done. Leaving
// early does not cancel the execution for other observers.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.Done():
	case <-ctx.Done():
		return r.def, ctx.Err()
	}

	if err := r.Err(); err != nil {
		return r.def, err
	}
	return r.Value(), nil
}

// Refresh re-runs the producer for this key, bypassing the second-level
// store. A refresh requested while an execution is pending joins it.
func (r *Result[T]) Refresh(ctx context.Context) *Result[T] {
	r.b.refresh(ctx, r.e)
	return r
}

// Subscribe returns a channel receiving every state transition of this
// result and a function that ends the subscription. Slow subscribers may
// miss intermediate transitions; State always reports the latest.
func (r *Result[T]) Subscribe() (<-chan State, func()) {
	return r.e.subscribe()
}
