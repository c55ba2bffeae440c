package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/metrics"
)

func TestObserveDiscovery(t *testing.T) {
	testee := metrics.New()
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testee.ObserveDiscovery(domain.DiscoveryOutcome{
		Job:        domain.DiscoveryJob{Provider: domain.ProviderFixture},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Status:     domain.JobCompletedWithErrors,
		Discovered: 3, Created: 2, Updated: 1,
		ScopeErrors: []domain.ScopeFailure{{Scope: "fail-1", Error: "down"}},
	})

	expected := `
# HELP elder_worker_discovery_runs_total Count of finished discovery runs.
# TYPE elder_worker_discovery_runs_total counter
elder_worker_discovery_runs_total{provider="fixture",status="completed_with_errors"} 1
# HELP elder_worker_discovery_scope_errors_total Count of sub-scopes which failed in discovery runs.
# TYPE elder_worker_discovery_scope_errors_total counter
elder_worker_discovery_scope_errors_total{provider="fixture"} 1
`
	if err := testutil.GatherAndCompare(
		testee.Registry(), strings.NewReader(expected),
		"elder_worker_discovery_runs_total", "elder_worker_discovery_scope_errors_total",
	); err != nil {
		t.Error(err)
	}
}

func TestObserveSync(t *testing.T) {
	testee := metrics.New()
	testee.ObserveSync(domain.SyncOutcome{
		State:      domain.ConnectorRunState{Connector: domain.ConnectorOkta},
		Identities: domain.ApplyCounts{Created: 4},
	}, 0)
	testee.Writeback(domain.ConnectorOkta, metrics.WritebackConflict)

	expected := `
# HELP elder_worker_connector_consecutive_failures Consecutive failed syncs of a connector, as of its last run in this replica.
# TYPE elder_worker_connector_consecutive_failures gauge
elder_worker_connector_consecutive_failures{connector="okta"} 0
# HELP elder_worker_writeback_changes_total Count of membership changes settled by write-back, by result.
# TYPE elder_worker_writeback_changes_total counter
elder_worker_writeback_changes_total{connector="okta",result="conflict"} 1
`
	if err := testutil.GatherAndCompare(
		testee.Registry(), strings.NewReader(expected),
		"elder_worker_connector_consecutive_failures", "elder_worker_writeback_changes_total",
	); err != nil {
		t.Error(err)
	}
}
