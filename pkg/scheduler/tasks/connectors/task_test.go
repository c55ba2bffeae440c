package connectors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/elderproject/elder-worker/pkg/domain"
	statedb "github.com/elderproject/elder-worker/pkg/domain/connector/db"
	statemock "github.com/elderproject/elder-worker/pkg/domain/connector/db/mock"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/scheduler/dispatch"
	"github.com/elderproject/elder-worker/pkg/scheduler/tasks/connectors"
)

type runnerFunc func(ctx context.Context, state domain.ConnectorRunState) domain.SyncOutcome

func (f runnerFunc) Run(ctx context.Context, state domain.ConnectorRunState) domain.SyncOutcome {
	return f(ctx, state)
}

func TestTask(t *testing.T) {
	t.Run("it syncs claimed connectors", func(t *testing.T) {
		ctx := context.Background()
		due := []domain.ConnectorKind{domain.ConnectorOkta, domain.ConnectorLDAP}
		states := statemock.New()
		var req statedb.ClaimRequest
		states.Impl.Claim = func(_ context.Context, r statedb.ClaimRequest) (domain.ConnectorRunState, bool, error) {
			req = r
			if len(due) == 0 {
				return domain.ConnectorRunState{}, false, nil
			}
			c := due[0]
			due = due[1:]
			return domain.ConnectorRunState{Connector: c}, true, nil
		}

		ran := make(chan domain.ConnectorKind, 2)
		release := make(chan struct{})
		runner := runnerFunc(func(_ context.Context, s domain.ConnectorRunState) domain.SyncOutcome {
			ran <- s.Connector
			<-release
			return domain.SyncOutcome{State: s}
		})

		d := dispatch.New(ctx, 2)
		want := statedb.ClaimRequest{Owner: "w", Connectors: []domain.ConnectorKind{domain.ConnectorLDAP, domain.ConnectorOkta}}
		testee := connectors.Task(zap.NewNop(), d, states, want, runner, metrics.New())

		// both slots are taken: the pass goes on.
		_, updated, err := testee(ctx, connectors.Seed())
		if !updated || err != nil {
			t.Errorf("(updated, err) = (%v, %v)", updated, err)
		}
		close(release)
		d.Wait()
		close(ran)

		got := map[domain.ConnectorKind]bool{}
		for c := range ran {
			got[c] = true
		}
		if !got[domain.ConnectorOkta] || !got[domain.ConnectorLDAP] {
			t.Errorf("synced: %v", got)
		}
		if req.Owner != "w" || len(req.Connectors) != 2 {
			t.Errorf("claim request = %+v", req)
		}

		// connectors claimed in the pass are not claimed again, and the pass is drained.
		_, updated, err = testee(ctx, connectors.Seed())
		if updated || err != nil {
			t.Errorf("(updated, err) = (%v, %v)", updated, err)
		}
		if diff := cmp.Diff([]domain.ConnectorKind{domain.ConnectorOkta, domain.ConnectorLDAP}, req.Exclude); diff != "" {
			t.Errorf("excluded (-want, +got): %s", diff)
		}
	})

	t.Run("a claim error is returned", func(t *testing.T) {
		ctx := context.Background()
		expected := errors.New("expected error")
		states := statemock.New()
		states.Impl.Claim = func(context.Context, statedb.ClaimRequest) (domain.ConnectorRunState, bool, error) {
			return domain.ConnectorRunState{}, false, expected
		}

		_, updated, err := connectors.Task(zap.NewNop(), dispatch.New(ctx, 1), states, statedb.ClaimRequest{}, nil, metrics.New())(ctx, connectors.Seed())

		if updated || !errors.Is(err, expected) {
			t.Errorf("(updated, err) = (%v, %v), want (false, %v)", updated, err, expected)
		}
	})
}
