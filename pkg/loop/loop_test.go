package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elderproject/elder-worker/pkg/loop"
)

func TestStart(t *testing.T) {
	t.Run("it repeats the task until Break", func(t *testing.T) {
		actual, err := loop.Start(
			context.Background(), 1,
			func(_ context.Context, v int) (int, loop.Next) {
				v += 1
				if 10 <= v {
					return v, loop.Break(nil)
				}
				return v, loop.Continue(0)
			},
		)
		if actual != 10 || err != nil {
			t.Errorf("(actual, err) = (%d, %v), want (10, nil)", actual, err)
		}
	})

	t.Run("it returns the error given to Break with the last value", func(t *testing.T) {
		expected := errors.New("fake")
		actual, err := loop.Start(
			context.Background(), 0,
			func(_ context.Context, v int) (int, loop.Next) {
				return v + 1, loop.Break(expected)
			},
		)
		if actual != 1 || !errors.Is(err, expected) {
			t.Errorf("(actual, err) = (%d, %v), want (1, %v)", actual, err, expected)
		}
	})

	t.Run("it stops when the context is done while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		actual, err := loop.Start(
			ctx, 0,
			func(_ context.Context, v int) (int, loop.Next) {
				cancel()
				return v + 1, loop.Continue(time.Hour)
			},
		)
		if actual != 1 || !errors.Is(err, context.Canceled) {
			t.Errorf("(actual, err) = (%d, %v), want (1, context.Canceled)", actual, err)
		}
	})

	t.Run("it does not start with a done context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		actual, err := loop.Start(
			ctx, 5,
			func(_ context.Context, v int) (int, loop.Next) {
				t.Error("task should not be called")
				return v, loop.Break(nil)
			},
		)
		if actual != 5 || !errors.Is(err, context.Canceled) {
			t.Errorf("(actual, err) = (%d, %v), want (5, context.Canceled)", actual, err)
		}
	})
}
