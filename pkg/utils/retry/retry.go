package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrRetry tells Blocking to call the function again after backoff.
var ErrRetry = errors.New("retry")

// Backoff blocks until the next attempt may start.
//
// It returns ctx.Err() when the context is done first.
type Backoff func(context.Context) error

// StaticBackoff waits the same interval before each attempt.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1, 0)
}

// ExponentialBackoff waits `initial * r^N` before the N-th attempt.
//
// When max is positive, the wait never exceeds max.
func ExponentialBackoff(initial time.Duration, r float64, max time.Duration) Backoff {
	interval := initial
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			if 0 < max && max < interval {
				interval = max
			}
			return nil
		}
	}
}

// Blocking calls f until it returns nil or an error other than ErrRetry.
//
// The first call also waits for b.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	last := *new(T)
	for {
		if err := b(ctx); err != nil {
			return last, err
		}

		var err error
		last, err = f()
		if err == nil {
			return last, nil
		}
		if errors.Is(err, ErrRetry) {
			continue
		}
		return last, err
	}
}

// Delay computes `base * 2^failures`, capped at max.
//
// Zero failures yields base.
func Delay(base time.Duration, failures int, max time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	if base <= 0 {
		return 0
	}
	f := float64(base) * math.Pow(2, float64(failures))
	if 0 < max && (float64(max) < f || math.IsInf(f, 1)) {
		return max
	}
	if float64(math.MaxInt64) < f {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}
