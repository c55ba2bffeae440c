package recurring

import (
	"context"

	"github.com/elderproject/elder-worker/pkg/loop"
)

// Task is one tick of a recurring loop.
//
// The bool is true when the tick left backlog which may be taken right away.
type Task[T any] func(context.Context, T) (T, bool, error)

// Applied turns rt into a loop.Task which asks p for the next step.
func (rt Task[T]) Applied(p Policy) loop.Task[T] {
	return func(ctx context.Context, t T) (T, loop.Next) {
		next, updated, err := rt(ctx, t)
		return next, p.Next(updated, err)
	}
}
