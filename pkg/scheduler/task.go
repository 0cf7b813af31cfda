package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Task is the callback of a job. It returns a Completion that reports when the work
// is done; tasks that finish synchronously return Done() or Failed(err). A nil
// Completion counts as success.
type Task func(ctx context.Context) Completion

// Completion is the outcome of a task that may still be running.
type Completion interface {
	// Wait blocks until the work has finished or ctx is done.
	Wait(ctx context.Context) error
}

type readyCompletion struct{ err error }

func (c readyCompletion) Wait(context.Context) error { return c.err }

// Done returns a Completion that has already succeeded.
func Done() Completion { return readyCompletion{} }

// Failed returns a Completion that has already failed with err.
func Failed(err error) Completion { return readyCompletion{err: err} }

type chanCompletion struct{ ch <-chan error }

func (c chanCompletion) Wait(ctx context.Context) error {
	select {
	case err, ok := <-c.ch:
		if !ok {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deferred adapts a result channel. The work succeeds when ch yields nil or is closed.
func Deferred(ch <-chan error) Completion { return chanCompletion{ch: ch} }

// Go runs fn on a new goroutine and returns its Completion. A panic in fn becomes
// the Completion's error.
func Go(fn func() error) Completion {
	ch := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		ch <- fn()
	}()
	return Deferred(ch)
}

// Func adapts a plain synchronous function.
func Func(fn func()) Task {
	return func(context.Context) Completion {
		fn()
		return Done()
	}
}

// FuncErr adapts a synchronous function that can fail.
func FuncErr(fn func(ctx context.Context) error) Task {
	return func(ctx context.Context) Completion {
		return Failed(fn(ctx))
	}
}

// Async adapts a function that should run in the background; the scheduler waits for
// it off the tick loop.
func Async(fn func(ctx context.Context) error) Task {
	return func(ctx context.Context) Completion {
		return Go(func() error { return fn(ctx) })
	}
}

// settle invokes task and waits for its Completion, converting a synchronous panic
// into an error. It is the single dispatch boundary for every kind of task.
func settle(ctx context.Context, job string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskExecutionError{Job: job, Panic: r, Err: fmt.Errorf("panic: %v", r), stack: string(debug.Stack())}
		}
	}()
	c := task(ctx)
	if c == nil {
		return nil
	}
	if werr := c.Wait(ctx); werr != nil {
		return &TaskExecutionError{Job: job, Err: werr}
	}
	return nil
}
