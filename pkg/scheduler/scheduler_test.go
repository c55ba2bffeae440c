package scheduler_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	testutilctx "github.com/elderproject/elder-worker/internal/testutils/context"
	"github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool/testenv"
	"github.com/elderproject/elder-worker/pkg/connector"
	cfixture "github.com/elderproject/elder-worker/pkg/connector/fixture"
	"github.com/elderproject/elder-worker/pkg/connsync"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/discovery"
	"github.com/elderproject/elder-worker/pkg/domain"
	statemock "github.com/elderproject/elder-worker/pkg/domain/connector/db/mock"
	jobdb "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
	jobmock "github.com/elderproject/elder-worker/pkg/domain/discovery/db/mock"
	"github.com/elderproject/elder-worker/pkg/domain/elder"
	"github.com/elderproject/elder-worker/pkg/loop/recurring"
	"github.com/elderproject/elder-worker/pkg/provider"
	pfixture "github.com/elderproject/elder-worker/pkg/provider/fixture"
	"github.com/elderproject/elder-worker/pkg/scheduler"
	"github.com/elderproject/elder-worker/pkg/utils/try"
)

func TestScheduler_FixtureEndToEnd(t *testing.T) {
	ctx := context.Background()
	poolBroker := testenv.NewPoolBroker(ctx, t)
	pool := poolBroker.GetPool(ctx, t)
	e := elder.New(pool)

	var jobID int64
	require.NoError(t, pool.QueryRow(
		ctx,
		`insert into "discovery_jobs" ("provider", "organization_id", "credential_ref", "scope", "schedule_interval")
		values ('fixture', 1, '{"token": "fixture"}', '{"regions": ["fixture-1"]}', 0)
		returning "id"`,
	).Scan(&jobID))

	resolver := credential.NewResolver(credential.WithSecretsDir(t.TempDir()))
	registrations := []domain.ConnectorRegistration{
		{Connector: domain.ConnectorFixture, Interval: time.Hour, Enabled: true},
	}
	testee := scheduler.New(
		scheduler.Config{
			WorkerID:      "worker-e2e",
			Loops:         domain.AllLoops(),
			Policy:        recurring.Backlog(),
			Discovery:     scheduler.LoopConfig{StaleClaim: 2 * time.Hour, MaxConcurrent: 2},
			Connectors:    scheduler.LoopConfig{StaleClaim: 30 * time.Minute, MaxConcurrent: 1},
			Registrations: registrations,
			Providers:     []domain.ProviderKind{domain.ProviderFixture},
		},
		scheduler.Deps{
			Jobs:   e.Discovery(),
			States: e.Connector(),
			Discovery: discovery.New(discovery.Config{}, discovery.Deps{
				Credentials: resolver,
				Providers:   provider.NewRegistry(pfixture.New(3)),
				Jobs:        e.Discovery(),
				Entities:    e.Entity(),
			}),
			Sync: connsync.New(
				connsync.Config{Connectors: map[domain.ConnectorKind]connsync.Settings{
					domain.ConnectorFixture: {CredentialRef: `{"token": "fixture"}`},
				}},
				connsync.Deps{
					Credentials: resolver,
					Connectors:  connector.NewRegistry(cfixture.New(cfixture.Default())),
					States:      e.Connector(),
					Identities:  e.Identity(),
				},
			),
		},
	)

	require.NoError(t, testee.Run(testutilctx.WithTest(ctx, t)))

	entities := try.To(e.Entity().Find(ctx, 1, domain.KindEntity)).OrFatal(t)
	names := []string{}
	for _, s := range entities {
		names = append(names, s.Name)
	}
	if want := []string{"vm-fixture-1-1", "vm-fixture-1-2", "vm-fixture-1-3"}; !cmp.Equal(names, want) {
		t.Errorf("entities:\n%s", cmp.Diff(want, names))
	}

	history := try.To(e.Discovery().History(ctx, jobID)).OrFatal(t)
	require.Len(t, history, 1)
	require.Equal(t, domain.JobCompleted, history[0].Status)
	require.Equal(t, 3, history[0].Created)

	job := try.To(e.Discovery().Get(ctx, jobID)).OrFatal(t)
	require.Equal(t, domain.JobCompleted, job.Status)
	require.Empty(t, job.LastError)

	dir := try.To(e.Identity().Load(ctx, domain.ConnectorFixture)).OrFatal(t)
	require.Len(t, dir.Identities, 3)
	require.Len(t, dir.Memberships, 4)

	status := try.To(testee.Status(ctx)).OrFatal(t)
	require.False(t, status.Running)
	require.Equal(t, []string{"fixture"}, status.EnabledConnectors)
	require.Equal(t, "success", status.Connectors["fixture"].LastStatus)
}

func TestScheduler_Status(t *testing.T) {
	ctx := context.Background()
	lastRun := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	states := statemock.New()
	states.Impl.List = func(context.Context) ([]domain.ConnectorRunState, error) {
		return []domain.ConnectorRunState{
			{
				Connector: domain.ConnectorOkta, LastRunAt: &lastRun, LastStatus: domain.RunFailed,
				LastError: "okta: list users: authentication failed: token=00abcdefghijklmnop", ConsecutiveFailures: 2,
			},
		}, nil
	}
	testee := scheduler.New(
		scheduler.Config{
			WorkerID: "w1",
			Registrations: []domain.ConnectorRegistration{
				{Connector: domain.ConnectorLDAP, Enabled: false},
				{Connector: domain.ConnectorOkta, Enabled: true},
			},
		},
		scheduler.Deps{States: states},
	)

	got := try.To(testee.Status(ctx)).OrFatal(t)

	require.False(t, got.Running)
	require.Equal(t, "w1", got.WorkerID)
	require.Equal(t, []string{"okta"}, got.EnabledConnectors)
	okta := got.Connectors["okta"]
	require.Equal(t, 2, okta.ConsecutiveFailures)
	require.Equal(t, "failed", okta.LastStatus)
	require.NotContains(t, okta.LastError, "00abcdefghijklmnop")
}

type runnerFunc func(ctx context.Context, job domain.DiscoveryJob) domain.DiscoveryOutcome

func (f runnerFunc) Run(ctx context.Context, job domain.DiscoveryJob) domain.DiscoveryOutcome {
	return f(ctx, job)
}

func TestScheduler_JobWithoutInterval(t *testing.T) {
	// The job is due whenever it is not running.
	newTestee := func(policy recurring.Policy) (*scheduler.Scheduler, func() int) {
		var mu sync.Mutex
		running := false
		executions := 0

		jobs := jobmock.New()
		jobs.Impl.Claim = func(_ context.Context, req jobdb.ClaimRequest) (domain.DiscoveryJob, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if running || slices.Contains(req.Exclude, 1) {
				return domain.DiscoveryJob{}, false, nil
			}
			running = true
			return domain.DiscoveryJob{ID: 1, Provider: domain.ProviderFixture}, true, nil
		}
		runner := runnerFunc(func(_ context.Context, job domain.DiscoveryJob) domain.DiscoveryOutcome {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			executions++
			running = false
			return domain.DiscoveryOutcome{Job: job, Status: domain.JobCompleted}
		})

		testee := scheduler.New(
			scheduler.Config{
				WorkerID:  "worker-1",
				Loops:     domain.LoopSet{domain.DiscoveryLoop: {}},
				Policy:    policy,
				Discovery: scheduler.LoopConfig{PollInterval: 300 * time.Second, StaleClaim: time.Hour, MaxConcurrent: 1},
				Providers: []domain.ProviderKind{domain.ProviderFixture},
			},
			scheduler.Deps{Jobs: jobs, States: statemock.New(), Discovery: runner},
		)
		return testee, func() int {
			mu.Lock()
			defer mu.Unlock()
			return executions
		}
	}

	t.Run("backlog runs it once and ends", func(t *testing.T) {
		testee, executions := newTestee(recurring.Backlog())

		require.NoError(t, testee.Run(testutilctx.WithTest(context.Background(), t)))
		require.Equal(t, 1, executions())
	})

	t.Run("forever runs it once per poll interval", func(t *testing.T) {
		testee, executions := newTestee(nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(500*time.Millisecond, cancel)
		require.NoError(t, testee.Run(ctx))
		require.Equal(t, 1, executions())
	})
}
