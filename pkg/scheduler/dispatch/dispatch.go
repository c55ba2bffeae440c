// Package dispatch runs claimed work on a bounded number of goroutines.
package dispatch

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/elderproject/elder-worker/pkg/loop/recurring"
)

// Dispatcher has a fixed number of slots. A slot is taken before work is
// claimed, and given back when the work is done.
type Dispatcher struct {
	ctx     context.Context
	slots   *semaphore.Weighted
	size    int
	running atomic.Int64
	wg      sync.WaitGroup
}

// New returns a dispatcher with size slots.
//
// Work runs with ctx, not with the context of the tick which claimed it.
func New(ctx context.Context, size int) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{ctx: ctx, slots: semaphore.NewWeighted(int64(size)), size: size}
}

func (d *Dispatcher) Size() int {
	return d.size
}

// Running is the number of work items in flight.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// Acquire takes a slot, waiting for one to be free.
func (d *Dispatcher) Acquire(ctx context.Context) error {
	return d.slots.Acquire(ctx, 1)
}

// TryAcquire takes a slot if one is free.
func (d *Dispatcher) TryAcquire() bool {
	return d.slots.TryAcquire(1)
}

// Release gives back a slot taken but not used.
func (d *Dispatcher) Release() {
	d.slots.Release(1)
}

// Go runs work on a slot already taken, and gives the slot back after it.
func (d *Dispatcher) Go(work func(ctx context.Context)) {
	d.wg.Add(1)
	d.running.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.slots.Release(1)
		defer d.running.Add(-1)
		work(d.ctx)
	}()
}

// Wait blocks until all work started with Go is done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats is carried from tick to tick of a claiming loop.
type Stats struct {
	Ticks   uint64
	Claimed uint64

	// Passes is the number of passes drained.
	Passes uint64
}

// Hooks observe a claiming loop.
type Hooks struct {
	OnClaim     func()
	OnSaturated func()
	OnRunning   func(delta int)
}

// Tick builds a loop tick which claims work while a slot is free, and starts it on d.
//
// Ticks claim in passes. A pass goes on over ticks until claim finds nothing,
// and work claimed in a pass is passed to claim as excluded, so that each due
// row runs at most once in a pass however short its interval is.
//
// The tick waits for a first slot. It stops claiming when claim finds nothing
// (the pass is drained), or when every slot is busy; due work left then waits
// for the next tick. It reports an update only in the latter case.
func Tick[W any, K comparable](
	logger *zap.Logger,
	d *Dispatcher,
	key func(W) K,
	claim func(ctx context.Context, exclude []K) (W, bool, error),
	run func(ctx context.Context, work W),
	hooks Hooks,
) recurring.Task[Stats] {
	pass := []K{}
	return func(ctx context.Context, s Stats) (Stats, bool, error) {
		s.Ticks++
		if err := d.Acquire(ctx); err != nil {
			return s, false, nil
		}
		for {
			work, ok, err := claim(ctx, slices.Clip(pass))
			if err != nil {
				d.Release()
				logger.Error("claim failed", zap.Error(err))
				pass = []K{}
				return s, false, err
			}
			if !ok {
				d.Release()
				if len(pass) != 0 {
					logger.Debug("pass is drained", zap.Int("claimed", len(pass)))
					s.Passes++
				}
				pass = []K{}
				return s, false, nil
			}

			pass = append(pass, key(work))
			s.Claimed++
			if hooks.OnClaim != nil {
				hooks.OnClaim()
			}
			d.Go(func(ctx context.Context) {
				if hooks.OnRunning != nil {
					hooks.OnRunning(1)
					defer hooks.OnRunning(-1)
				}
				run(ctx, work)
			})

			if !d.TryAcquire() {
				logger.Info(
					"every slot is busy. due work waits for the next tick",
					zap.Int("slots", d.Size()), zap.Int("claimed_in_pass", len(pass)),
				)
				if hooks.OnSaturated != nil {
					hooks.OnSaturated()
				}
				return s, true, nil
			}
		}
	}
}
