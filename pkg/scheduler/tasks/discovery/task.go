package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/elderproject/elder-worker/pkg/domain"
	jobdb "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
	"github.com/elderproject/elder-worker/pkg/loop/recurring"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/scheduler/dispatch"
)

// Runner executes a claimed job and records its outcome.
type Runner interface {
	Run(ctx context.Context, job domain.DiscoveryJob) domain.DiscoveryOutcome
}

// initial value for task
func Seed() dispatch.Stats {
	return dispatch.Stats{}
}

// Task claims due discovery jobs and runs them on d.
func Task(
	logger *zap.Logger,
	d *dispatch.Dispatcher,
	jobs jobdb.Interface,
	req jobdb.ClaimRequest,
	runner Runner,
	m *metrics.Metrics,
) recurring.Task[dispatch.Stats] {
	return dispatch.Tick(
		logger, d,
		func(job domain.DiscoveryJob) int64 { return job.ID },
		func(ctx context.Context, exclude []int64) (domain.DiscoveryJob, bool, error) {
			req := req
			req.Exclude = exclude
			job, ok, err := jobs.Claim(ctx, req)
			if ok {
				logger.Info("claimed", zap.Int64("job", job.ID), zap.Stringer("provider", job.Provider))
			}
			return job, ok, err
		},
		func(ctx context.Context, job domain.DiscoveryJob) {
			runner.Run(ctx, job)
		},
		dispatch.Hooks{
			OnClaim:     func() { m.Claimed(domain.DiscoveryLoop) },
			OnSaturated: func() { m.Saturated(domain.DiscoveryLoop) },
			OnRunning:   func(delta int) { m.Running(domain.DiscoveryLoop, delta) },
		},
	)
}
