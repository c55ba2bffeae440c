// Package scheduler polls for due discovery jobs and connector syncs, and
// runs them on bounded dispatchers.
//
// Replicas coordinate only through row claims in the database.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elderproject/elder-worker/pkg/domain"
	statedb "github.com/elderproject/elder-worker/pkg/domain/connector/db"
	jobdb "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
	"github.com/elderproject/elder-worker/pkg/loop"
	"github.com/elderproject/elder-worker/pkg/loop/recurring"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/scheduler/dispatch"
	tconnectors "github.com/elderproject/elder-worker/pkg/scheduler/tasks/connectors"
	tdiscovery "github.com/elderproject/elder-worker/pkg/scheduler/tasks/discovery"
)

const DefaultShutdownGrace = 30 * time.Second

// ErrShutdownGraceOver is the cause of cancelling work in flight on shutdown.
var ErrShutdownGraceOver = errors.New("shutdown grace is over")

// LoopConfig configures one claiming loop.
type LoopConfig struct {
	PollInterval  time.Duration
	StaleClaim    time.Duration
	MaxConcurrent int
}

type Config struct {
	WorkerID string

	// Loops to run. Nil means every loop.
	Loops domain.LoopSet

	// Policy of loops. Nil means "forever", ticking every poll interval.
	// A "forever" policy without cooldown also ticks every poll interval.
	Policy recurring.Policy

	Discovery  LoopConfig
	Connectors LoopConfig

	// Registrations are connectors this replica is configured with.
	Registrations []domain.ConnectorRegistration

	// Providers are the providers this replica can run.
	Providers []domain.ProviderKind

	// ShutdownGrace is how long work in flight may go on after shutdown begins.
	ShutdownGrace time.Duration
}

type Deps struct {
	Jobs   jobdb.Interface
	States statedb.Interface

	Discovery tdiscovery.Runner
	Sync      tconnectors.Runner

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type Scheduler struct {
	config  Config
	deps    Deps
	running atomic.Bool
}

func New(config Config, deps Deps) *Scheduler {
	if config.Loops == nil {
		config.Loops = domain.AllLoops()
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Scheduler{config: config, deps: deps}
}

// Running reports whether Run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run starts the loops and blocks until they end and work in flight drains.
//
// Loops end when ctx is done, or (with the backlog policy) when nothing is due.
// Work in flight is cancelled ShutdownGrace after ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	enabled := []domain.ConnectorKind{}
	for _, r := range s.config.Registrations {
		if r.Enabled {
			enabled = append(enabled, r.Connector)
		}
	}
	if s.config.Loops.Has(domain.ConnectorLoop) && len(s.config.Registrations) != 0 {
		if err := s.deps.States.Register(ctx, s.config.Registrations); err != nil {
			return err
		}
	}

	workCtx, cancelWork := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelWork(nil)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		grace := time.NewTimer(s.config.ShutdownGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			s.deps.Logger.Warn("shutdown grace is over. cancelling work in flight")
			cancelWork(ErrShutdownGraceOver)
		}
	}()

	g := errgroup.Group{}
	if s.config.Loops.Has(domain.DiscoveryLoop) {
		lc := s.config.Discovery
		d := dispatch.New(workCtx, lc.MaxConcurrent)
		logger := s.deps.Logger.Named(domain.DiscoveryLoop.String())
		task := tdiscovery.Task(
			logger, d, s.deps.Jobs,
			jobdb.ClaimRequest{Owner: s.config.WorkerID, StaleAfter: lc.StaleClaim, Providers: s.config.Providers},
			s.deps.Discovery, s.deps.Metrics,
		)
		g.Go(func() error {
			return s.start(ctx, logger, d, tdiscovery.Seed(), task, lc)
		})
	}
	if s.config.Loops.Has(domain.ConnectorLoop) && len(enabled) != 0 {
		lc := s.config.Connectors
		d := dispatch.New(workCtx, lc.MaxConcurrent)
		logger := s.deps.Logger.Named(domain.ConnectorLoop.String())
		task := tconnectors.Task(
			logger, d, s.deps.States,
			statedb.ClaimRequest{Owner: s.config.WorkerID, StaleAfter: lc.StaleClaim, Connectors: enabled},
			s.deps.Sync, s.deps.Metrics,
		)
		g.Go(func() error {
			return s.start(ctx, logger, d, tconnectors.Seed(), task, lc)
		})
	}
	return g.Wait()
}

func (s *Scheduler) start(
	ctx context.Context,
	logger *zap.Logger,
	d *dispatch.Dispatcher,
	seed dispatch.Stats,
	task recurring.Task[dispatch.Stats],
	lc LoopConfig,
) error {
	policy := s.policy(lc)
	logger.Info("loop starts",
		zap.Stringer("policy", policy),
		zap.Int("max_concurrent", d.Size()),
		zap.Duration("stale_claim", lc.StaleClaim),
	)
	stats, err := loop.Start(ctx, seed, monitor(logger, task.Applied(policy)))

	logger.Info("loop ends. waiting for work in flight", zap.Int("running", d.Running()))
	d.Wait()
	logger.Info("loop is drained", zap.Uint64("ticks", stats.Ticks), zap.Uint64("claimed", stats.Claimed))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) policy(lc LoopConfig) recurring.Policy {
	p := s.config.Policy
	if p == nil {
		return recurring.Forever(lc.PollInterval)
	}
	if cooldown, ok := recurring.Cooldown(p); ok && cooldown == 0 {
		return recurring.Forever(lc.PollInterval)
	}
	return p
}

// monitor logs the start and end of each tick.
func monitor[T any](logger *zap.Logger, task loop.Task[T]) loop.Task[T] {
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		started := time.Now()
		logger.Debug("tick start", zap.Uint64("tick", counter))

		defer func() {
			logger.Debug(
				"tick end",
				zap.Uint64("tick", counter),
				zap.Duration("takes", time.Since(started)),
				zap.Stringer("next", next),
				zap.Any("value", ret),
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}
