// Package loop runs a task repeatedly until it breaks or the context is done.
package loop

import (
	"context"
	"fmt"
	"time"
)

// Next tells Start what to do after a task.
//
// The zero value means "continue immediately".
type Next struct {
	err      error
	quit     bool
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}
	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// Interval is the wait before the next iteration. It is meaningless for Break.
func (n Next) Interval() time.Duration {
	return n.interval
}

func (n Next) Quit() bool {
	return n.quit || n.err != nil
}

func (n Next) Err() error {
	return n.err
}

// Continue runs the task again after interval.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// Break stops the loop. Start returns err.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task receives the value returned by its previous run (or the seed),
// and returns a new value with the decision on the next run.
type Task[T any] func(context.Context, T) (T, Next)

// Start calls task in a loop.
//
// The first call receives init. Each later call receives the value the previous
// call returned. The loop ends when the task returns Break, or when ctx is done.
// Shutdown wins over a timer which fires at the same time.
//
// It returns the last value with the error given to Break, or ctx.Err().
func Start[T any](ctx context.Context, init T, task Task[T]) (T, error) {
	select {
	case <-ctx.Done():
		return init, ctx.Err()
	default:
	}

	value := init
	for {
		v, n := task(ctx, value)
		value = v
		if n.err != nil {
			return value, n.err
		} else if n.quit {
			return value, nil
		}

		timer := time.NewTimer(n.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}
