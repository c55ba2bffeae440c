// Package discovery runs claimed discovery jobs: it drives a provider plugin
// and reconciles what it yields into resource tables.
package discovery

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	jobdb "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
	entitydb "github.com/elderproject/elder-worker/pkg/domain/entity/db"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/provider"
)

const (
	DefaultJobTimeout = time.Hour
	DefaultBatchSize  = 250

	// completion writes get this long after the run itself ran out of time.
	completionBudget = 30 * time.Second
)

type Config struct {
	JobTimeout time.Duration
	BatchSize  int
}

type Deps struct {
	Credentials credential.Interface
	Providers   *provider.Registry
	Jobs        jobdb.Interface
	Entities    entitydb.Interface
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	// Clock returns now. It defaults to time.Now.
	Clock func() time.Time
}

type Executor struct {
	config Config
	deps   Deps
}

func New(config Config, deps Deps) *Executor {
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultJobTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Executor{config: config, deps: deps}
}

// Run executes a claimed job and records its outcome.
//
// A run which timed out or was cancelled is recorded with Abandon, leaving the claim
// to become stale. Otherwise the outcome is recorded with Finish.
func (e *Executor) Run(ctx context.Context, job domain.DiscoveryJob) domain.DiscoveryOutcome {
	logger := e.deps.Logger.With(
		zap.Int64("job", job.ID),
		zap.Stringer("provider", job.Provider),
		zap.Int64("organization", job.OrganizationID),
	)
	outcome := domain.DiscoveryOutcome{Job: job, StartedAt: e.deps.Clock()}

	runCtx, cancel := context.WithTimeout(ctx, e.config.JobTimeout)
	defer cancel()
	e.discover(runCtx, &outcome)
	outcome.FinishedAt = e.deps.Clock()

	abandoned := runCtx.Err() != nil && outcome.Status == domain.JobFailed
	if abandoned {
		outcome.Err = domain.Interrupted(ctx, runCtx, e.config.JobTimeout)
	}

	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), completionBudget)
	defer wcancel()
	var updated bool
	var err error
	if abandoned {
		updated, err = e.deps.Jobs.Abandon(wctx, outcome)
	} else {
		updated, err = e.deps.Jobs.Finish(wctx, outcome)
	}
	switch {
	case err != nil:
		logger.Error("recording outcome failed", zap.Error(err))
	case !updated:
		logger.Info("job is gone or taken over. its row is left as is")
	}

	e.deps.Metrics.ObserveDiscovery(outcome)
	fields := []zap.Field{
		zap.Stringer("status", outcome.Status),
		zap.Duration("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)),
		zap.Int("discovered", outcome.Discovered),
		zap.Int("created", outcome.Created),
		zap.Int("updated", outcome.Updated),
		zap.Int("staled", outcome.Staled),
		zap.Int("scope_errors", len(outcome.ScopeErrors)),
	}
	if outcome.Err != nil {
		fields = append(fields, zap.String("error", outcome.ErrorDetail()))
	}
	logger.Info("discovery finished", fields...)
	return outcome
}

func (e *Executor) discover(ctx context.Context, outcome *domain.DiscoveryOutcome) {
	job := outcome.Job
	fail := func(err error) {
		outcome.Status = domain.JobFailed
		outcome.Err = err
	}

	p, err := e.deps.Providers.Get(job.Provider)
	if err != nil {
		fail(err)
		return
	}
	cred, err := e.deps.Credentials.Resolve(ctx, job.CredentialRef, p.CredentialKind())
	if err != nil {
		fail(err)
		return
	}

	owner := entitydb.Owner{OrganizationID: job.OrganizationID, JobID: job.ID, Provider: job.Provider}
	batch := make([]domain.Resource, 0, e.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		counts, err := e.deps.Entities.UpsertBatch(ctx, owner, e.deps.Clock(), batch)
		if err != nil {
			return err
		}
		outcome.Created += counts.Created
		outcome.Updated += counts.Updated
		batch = batch[:0]
		return nil
	}

	observed := map[string]struct{}{}
	failed := map[string]struct{}{}
	var terminal error
	for r, err := range p.Discover(ctx, cred, job.Scope) {
		if err != nil {
			var serr *domain.ScopeError
			if errors.As(err, &serr) {
				if _, dup := failed[serr.Scope]; !dup {
					failed[serr.Scope] = struct{}{}
					outcome.ScopeErrors = append(outcome.ScopeErrors, domain.ScopeFailure{
						Scope: serr.Scope, Error: domain.Redact(serr.Reason()),
					})
				}
				continue
			}
			terminal = err
			break
		}

		observed[r.Scope] = struct{}{}
		outcome.Discovered++
		batch = append(batch, r)
		if len(batch) < e.config.BatchSize {
			continue
		}
		// the batch is committed before the provider is asked for more.
		if err := flush(); err != nil {
			terminal = err
			break
		}
	}
	if terminal == nil {
		terminal = flush()
	}
	if terminal == nil {
		terminal = ctx.Err()
	}
	if terminal != nil {
		fail(terminal)
		return
	}

	configured := job.Scope.Units(job.Provider)
	succeeded := succeededScopes(configured, observed, failed)
	if len(failed) != 0 && len(succeeded) == 0 {
		fail(domain.NewPartialScopeError(outcome.ScopeErrors))
		return
	}

	req := entitydb.SweepRequest{
		Owner:  owner,
		Scopes: succeeded,
		Before: outcome.StartedAt,
		Policy: job.Scope.Sweep,
	}
	if len(configured) == 0 && len(failed) == 0 {
		// the provider chose its scopes, and every one of them succeeded.
		req.AllScopes = true
	}
	if req.AllScopes || len(req.Scopes) != 0 {
		staled, err := e.deps.Entities.Sweep(ctx, req)
		if err != nil {
			fail(err)
			return
		}
		outcome.Staled = staled
	}

	if len(failed) != 0 {
		outcome.Status = domain.JobCompletedWithErrors
	} else {
		outcome.Status = domain.JobCompleted
	}
}

// succeededScopes is every scope which was configured or observed, less failed ones.
func succeededScopes(configured []string, observed, failed map[string]struct{}) []string {
	units := map[string]struct{}{}
	for _, s := range configured {
		units[s] = struct{}{}
	}
	for s := range observed {
		units[s] = struct{}{}
	}
	succeeded := []string{}
	for s := range units {
		if _, ng := failed[s]; ng {
			continue
		}
		succeeded = append(succeeded, s)
	}
	slices.Sort(succeeded)
	return succeeded
}
