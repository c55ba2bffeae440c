package discovery_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/discovery"
	"github.com/elderproject/elder-worker/pkg/domain"
	jobmock "github.com/elderproject/elder-worker/pkg/domain/discovery/db/mock"
	entitydb "github.com/elderproject/elder-worker/pkg/domain/entity/db"
	entitymock "github.com/elderproject/elder-worker/pkg/domain/entity/db/mock"
	"github.com/elderproject/elder-worker/pkg/provider"
	"github.com/elderproject/elder-worker/pkg/provider/fixture"
)

type resolverFunc func(ctx context.Context, ref string, kind credential.Kind) (credential.Credential, error)

func (f resolverFunc) Resolve(ctx context.Context, ref string, kind credential.Kind) (credential.Credential, error) {
	return f(ctx, ref, kind)
}

func opaque(context.Context, string, credential.Kind) (credential.Credential, error) {
	return &credential.Opaque{}, nil
}

// seqProvider poses as the fixture provider, yielding what seq yields.
type seqProvider struct {
	seq func(ctx context.Context) iter.Seq2[domain.Resource, error]
}

func (seqProvider) Kind() domain.ProviderKind       { return domain.ProviderFixture }
func (seqProvider) CredentialKind() credential.Kind { return credential.KindOpaque }
func (p seqProvider) Discover(ctx context.Context, _ credential.Credential, _ domain.ScopeConfig) iter.Seq2[domain.Resource, error] {
	return p.seq(ctx)
}

// recorder captures what the executor writes.
type recorder struct {
	jobs     *jobmock.DiscoveryInterface
	entities *entitymock.EntityInterface

	batches   [][]string
	sweeps    []entitydb.SweepRequest
	finished  []domain.DiscoveryOutcome
	abandoned []domain.DiscoveryOutcome
}

func newRecorder(upsertErr error) *recorder {
	r := &recorder{jobs: jobmock.New(), entities: entitymock.New()}
	r.entities.Impl.UpsertBatch = func(_ context.Context, _ entitydb.Owner, _ time.Time, resources []domain.Resource) (entitydb.UpsertCounts, error) {
		if upsertErr != nil {
			return entitydb.UpsertCounts{}, upsertErr
		}
		ids := []string{}
		for _, res := range resources {
			ids = append(ids, res.ExternalID)
		}
		r.batches = append(r.batches, ids)
		return entitydb.UpsertCounts{Created: len(resources)}, nil
	}
	r.entities.Impl.Sweep = func(_ context.Context, req entitydb.SweepRequest) (int, error) {
		r.sweeps = append(r.sweeps, req)
		return 1, nil
	}
	r.jobs.Impl.Finish = func(_ context.Context, o domain.DiscoveryOutcome) (bool, error) {
		r.finished = append(r.finished, o)
		return true, nil
	}
	r.jobs.Impl.Abandon = func(_ context.Context, o domain.DiscoveryOutcome) (bool, error) {
		r.abandoned = append(r.abandoned, o)
		return true, nil
	}
	return r
}

func (r *recorder) executor(config discovery.Config, resolver credential.Interface, p provider.Provider) *discovery.Executor {
	return discovery.New(config, discovery.Deps{
		Credentials: resolver,
		Providers:   provider.NewRegistry(p),
		Jobs:        r.jobs,
		Entities:    r.entities,
	})
}

func fixtureJob(regions ...string) domain.DiscoveryJob {
	return domain.DiscoveryJob{
		ID: 7, Provider: domain.ProviderFixture, OrganizationID: 1,
		CredentialRef: "{}", Scope: domain.ScopeConfig{Regions: regions},
		ScheduleInterval: time.Hour, Enabled: true, Status: domain.JobRunning,
	}
}

func TestRun_Completed(t *testing.T) {
	rec := newRecorder(nil)
	testee := rec.executor(discovery.Config{BatchSize: 2}, resolverFunc(opaque), fixture.New(2))

	got := testee.Run(context.Background(), fixtureJob("r1", "r2"))

	if got.Status != domain.JobCompleted || got.Err != nil {
		t.Fatalf("status = %s, err = %v", got.Status, got.Err)
	}
	if got.Discovered != 4 || got.Created != 4 || got.Staled != 1 {
		t.Errorf("counts: discovered %d, created %d, staled %d", got.Discovered, got.Created, got.Staled)
	}
	wantBatches := [][]string{
		{"fixture:vm-r1-1", "fixture:vm-r1-2"},
		{"fixture:vm-r2-1", "fixture:vm-r2-2"},
	}
	if !cmp.Equal(rec.batches, wantBatches) {
		t.Errorf("batches:\n%s", cmp.Diff(wantBatches, rec.batches))
	}
	if len(rec.sweeps) != 1 || !cmp.Equal(rec.sweeps[0].Scopes, []string{"r1", "r2"}) || rec.sweeps[0].AllScopes {
		t.Errorf("unexpected sweeps: %+v", rec.sweeps)
	}
	if !rec.sweeps[0].Before.Equal(got.StartedAt) {
		t.Errorf("sweep cutoff %s is not the start of the run %s", rec.sweeps[0].Before, got.StartedAt)
	}
	if len(rec.finished) != 1 || len(rec.abandoned) != 0 {
		t.Errorf("finished %d, abandoned %d", len(rec.finished), len(rec.abandoned))
	}
}

func TestRun_PartialScopeFailure(t *testing.T) {
	rec := newRecorder(nil)
	testee := rec.executor(discovery.Config{}, resolverFunc(opaque), fixture.New(3))

	got := testee.Run(context.Background(), fixtureJob("r1", "fail-2"))

	if got.Status != domain.JobCompletedWithErrors {
		t.Fatalf("status = %s, err = %v", got.Status, got.Err)
	}
	if len(got.ScopeErrors) != 1 || got.ScopeErrors[0].Scope != "fail-2" {
		t.Errorf("scope errors: %+v", got.ScopeErrors)
	}
	if want := [][]string{{"fixture:vm-r1-1", "fixture:vm-r1-2", "fixture:vm-r1-3"}}; !cmp.Equal(rec.batches, want) {
		t.Errorf("batches:\n%s", cmp.Diff(want, rec.batches))
	}
	if len(rec.sweeps) != 1 || !cmp.Equal(rec.sweeps[0].Scopes, []string{"r1"}) {
		t.Errorf("failed scope is swept: %+v", rec.sweeps)
	}
	if got.ErrorDetail() == "" {
		t.Error("scope errors are not summarised")
	}
}

func TestRun_EveryScopeFailed(t *testing.T) {
	rec := newRecorder(nil)
	testee := rec.executor(discovery.Config{}, resolverFunc(opaque), fixture.New(3))

	got := testee.Run(context.Background(), fixtureJob("fail-1", "fail-2"))

	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s", got.Status)
	}
	var perr *domain.PartialScopeError
	if !errors.As(got.Err, &perr) || len(perr.Failures) != 2 {
		t.Errorf("err = %v", got.Err)
	}
	if len(rec.sweeps) != 0 {
		t.Errorf("swept after every scope failed: %+v", rec.sweeps)
	}
}

func TestRun_DefaultScopeSweepsAll(t *testing.T) {
	rec := newRecorder(nil)
	testee := rec.executor(discovery.Config{}, resolverFunc(opaque), fixture.New(1))

	testee.Run(context.Background(), fixtureJob())

	if len(rec.sweeps) != 1 || !rec.sweeps[0].AllScopes {
		t.Errorf("unexpected sweeps: %+v", rec.sweeps)
	}
}

func TestRun_Failed(t *testing.T) {
	apiErr := &domain.ProviderAPIError{Provider: "fixture", Op: "list", Auth: true, Err: errors.New("denied")}
	reconErr := &domain.ReconciliationError{Table: "entities", Err: errors.New("check violation")}

	for name, testcase := range map[string]struct {
		resolver  credential.Interface
		provider  provider.Provider
		upsertErr error
		job       domain.DiscoveryJob
		wantErr   any
	}{
		"credential is missing": {
			resolver: resolverFunc(func(context.Context, string, credential.Kind) (credential.Credential, error) {
				return nil, &domain.CredentialError{Source: "secret://missing", Reason: "not readable"}
			}),
			provider: fixture.New(1),
			job:      fixtureJob("r1"),
			wantErr:  new(*domain.CredentialError),
		},
		"provider is unknown": {
			resolver: resolverFunc(opaque),
			provider: fixture.New(1),
			job: func() domain.DiscoveryJob {
				j := fixtureJob("r1")
				j.Provider = domain.ProviderGCP
				return j
			}(),
			wantErr: &domain.ErrUnknownProvider,
		},
		"provider rejects the credential": {
			resolver: resolverFunc(opaque),
			provider: seqProvider{seq: func(context.Context) iter.Seq2[domain.Resource, error] {
				return func(yield func(domain.Resource, error) bool) {
					if !yield(domain.Resource{ExternalID: "x", Kind: domain.KindEntity, Scope: "r1"}, nil) {
						return
					}
					yield(domain.Resource{}, apiErr)
				}
			}},
			job:     fixtureJob("r1"),
			wantErr: new(*domain.ProviderAPIError),
		},
		"batch violates a constraint": {
			resolver:  resolverFunc(opaque),
			provider:  fixture.New(1),
			upsertErr: reconErr,
			job:       fixtureJob("r1"),
			wantErr:   new(*domain.ReconciliationError),
		},
	} {
		t.Run(name, func(t *testing.T) {
			rec := newRecorder(testcase.upsertErr)
			testee := rec.executor(discovery.Config{}, testcase.resolver, testcase.provider)

			got := testee.Run(context.Background(), testcase.job)

			if got.Status != domain.JobFailed {
				t.Fatalf("status = %s", got.Status)
			}
			switch want := testcase.wantErr.(type) {
			case *error:
				if !errors.Is(got.Err, *want) {
					t.Errorf("err = %v, want %v", got.Err, *want)
				}
			default:
				if !errors.As(got.Err, want) {
					t.Errorf("err = %v (%T), want %T", got.Err, got.Err, want)
				}
			}
			if len(rec.sweeps) != 0 {
				t.Errorf("failed run swept: %+v", rec.sweeps)
			}
			if len(rec.finished) != 1 || rec.finished[0].ErrorDetail() == "" {
				t.Errorf("outcome is not recorded as failure: %+v", rec.finished)
			}
			if len(rec.abandoned) != 0 {
				t.Errorf("failed run is abandoned")
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	rec := newRecorder(nil)
	blocking := seqProvider{seq: func(ctx context.Context) iter.Seq2[domain.Resource, error] {
		return func(yield func(domain.Resource, error) bool) {
			<-ctx.Done()
			yield(domain.Resource{}, ctx.Err())
		}
	}}
	testee := rec.executor(discovery.Config{JobTimeout: 20 * time.Millisecond}, resolverFunc(opaque), blocking)

	got := testee.Run(context.Background(), fixtureJob("r1"))

	var terr *domain.TimeoutError
	if got.Status != domain.JobFailed || !errors.As(got.Err, &terr) {
		t.Fatalf("status = %s, err = %v", got.Status, got.Err)
	}
	if !errors.Is(got.Err, context.DeadlineExceeded) {
		t.Errorf("err does not tell the deadline: %v", got.Err)
	}
	if len(rec.abandoned) != 1 || len(rec.finished) != 0 {
		t.Errorf("abandoned %d, finished %d", len(rec.abandoned), len(rec.finished))
	}
}

func TestRun_Cancelled(t *testing.T) {
	rec := newRecorder(nil)
	blocking := seqProvider{seq: func(ctx context.Context) iter.Seq2[domain.Resource, error] {
		return func(yield func(domain.Resource, error) bool) {
			<-ctx.Done()
			yield(domain.Resource{}, ctx.Err())
		}
	}}
	testee := rec.executor(discovery.Config{JobTimeout: time.Hour}, resolverFunc(opaque), blocking)

	shutdown := errors.New("shutdown grace is over")
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(20*time.Millisecond, func() { cancel(shutdown) })
	got := testee.Run(ctx, fixtureJob("r1"))

	var cerr *domain.CancelledError
	if got.Status != domain.JobFailed || !errors.As(got.Err, &cerr) {
		t.Fatalf("status = %s, err = %v", got.Status, got.Err)
	}
	if !errors.Is(got.Err, shutdown) {
		t.Errorf("err does not tell the cause: %v", got.Err)
	}
	var terr *domain.TimeoutError
	if errors.As(got.Err, &terr) {
		t.Errorf("cancelled run is recorded as timed out: %v", got.Err)
	}
	if len(rec.abandoned) != 1 || len(rec.finished) != 0 {
		t.Errorf("abandoned %d, finished %d", len(rec.abandoned), len(rec.finished))
	}
}

func TestRun_ScopeErrorWithoutCause(t *testing.T) {
	rec := newRecorder(nil)
	p := seqProvider{seq: func(context.Context) iter.Seq2[domain.Resource, error] {
		return func(yield func(domain.Resource, error) bool) {
			if !yield(domain.Resource{ExternalID: "vm-1", Kind: domain.KindEntity, Scope: "r1"}, nil) {
				return
			}
			yield(domain.Resource{}, &domain.ScopeError{Scope: "r2"})
		}
	}}
	testee := rec.executor(discovery.Config{}, resolverFunc(opaque), p)

	got := testee.Run(context.Background(), fixtureJob("r1", "r2"))

	if got.Status != domain.JobCompletedWithErrors {
		t.Fatalf("status = %s, err = %v", got.Status, got.Err)
	}
	want := []domain.ScopeFailure{{Scope: "r2", Error: "failed"}}
	if diff := cmp.Diff(want, got.ScopeErrors); diff != "" {
		t.Errorf("scope errors (-want +got):\n%s", diff)
	}
}

func TestRun_StopsPullingAfterTerminalError(t *testing.T) {
	rec := newRecorder(nil)
	pulled := 0
	p := seqProvider{seq: func(context.Context) iter.Seq2[domain.Resource, error] {
		return func(yield func(domain.Resource, error) bool) {
			for {
				pulled++
				if pulled == 2 {
					if !yield(domain.Resource{}, errors.New("broken")) {
						return
					}
					continue
				}
				if !yield(domain.Resource{ExternalID: "r", Kind: domain.KindEntity, Scope: "r1"}, nil) {
					return
				}
			}
		}
	}}
	testee := rec.executor(discovery.Config{}, resolverFunc(opaque), p)

	got := testee.Run(context.Background(), fixtureJob("r1"))

	if got.Status != domain.JobFailed || pulled != 2 {
		t.Errorf("status = %s, pulled = %d", got.Status, pulled)
	}
}
