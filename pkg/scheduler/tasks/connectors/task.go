package connectors

import (
	"context"

	"go.uber.org/zap"

	"github.com/elderproject/elder-worker/pkg/domain"
	statedb "github.com/elderproject/elder-worker/pkg/domain/connector/db"
	"github.com/elderproject/elder-worker/pkg/loop/recurring"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/scheduler/dispatch"
)

// Runner executes a claimed sync and records its outcome.
type Runner interface {
	Run(ctx context.Context, state domain.ConnectorRunState) domain.SyncOutcome
}

// initial value for task
func Seed() dispatch.Stats {
	return dispatch.Stats{}
}

// Task claims due connectors and syncs them on d.
func Task(
	logger *zap.Logger,
	d *dispatch.Dispatcher,
	states statedb.Interface,
	req statedb.ClaimRequest,
	runner Runner,
	m *metrics.Metrics,
) recurring.Task[dispatch.Stats] {
	return dispatch.Tick(
		logger, d,
		func(state domain.ConnectorRunState) domain.ConnectorKind { return state.Connector },
		func(ctx context.Context, exclude []domain.ConnectorKind) (domain.ConnectorRunState, bool, error) {
			req := req
			req.Exclude = exclude
			state, ok, err := states.Claim(ctx, req)
			if ok {
				logger.Info("claimed", zap.Stringer("connector", state.Connector))
			}
			return state, ok, err
		},
		func(ctx context.Context, state domain.ConnectorRunState) {
			runner.Run(ctx, state)
		},
		dispatch.Hooks{
			OnClaim:     func() { m.Claimed(domain.ConnectorLoop) },
			OnSaturated: func() { m.Saturated(domain.ConnectorLoop) },
			OnRunning:   func(delta int) { m.Running(domain.ConnectorLoop, delta) },
		},
	)
}
