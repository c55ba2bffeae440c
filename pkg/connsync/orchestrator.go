// Package connsync runs claimed connector syncs: it mirrors an upstream
// directory into identity tables, and writes local membership changes back.
package connsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elderproject/elder-worker/pkg/connector"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/domain"
	statedb "github.com/elderproject/elder-worker/pkg/domain/connector/db"
	identitydb "github.com/elderproject/elder-worker/pkg/domain/identity/db"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/reconcile"
	"github.com/elderproject/elder-worker/pkg/utils/retry"
)

const (
	DefaultTimeout    = 15 * time.Minute
	DefaultBackoffCap = 6 * time.Hour

	completionBudget = 30 * time.Second
)

// Settings is the configuration of one connector.
type Settings struct {
	CredentialRef string
	Writeback     bool
}

type Config struct {
	Timeout    time.Duration
	BackoffCap time.Duration
	Connectors map[domain.ConnectorKind]Settings
}

type Deps struct {
	Credentials credential.Interface
	Connectors  *connector.Registry
	States      statedb.Interface
	Identities  identitydb.Interface
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

type Orchestrator struct {
	config Config
	deps   Deps
}

func New(config Config, deps Deps) *Orchestrator {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = DefaultBackoffCap
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
	return &Orchestrator{config: config, deps: deps}
}

// NextRun is when a connector runs next, after a run finished at finishedAt.
//
// failures is consecutive_failures after the run: the interval doubles per failure, up to ceiling.
func NextRun(finishedAt time.Time, interval time.Duration, failures int, ceiling time.Duration) time.Time {
	return finishedAt.Add(retry.Delay(interval, failures, max(ceiling, interval)))
}

// Run executes a claimed sync and records its outcome.
func (o *Orchestrator) Run(ctx context.Context, state domain.ConnectorRunState) domain.SyncOutcome {
	logger := o.deps.Logger.With(zap.Stringer("connector", state.Connector))
	outcome := domain.SyncOutcome{State: state, StartedAt: o.deps.Clock()}

	runCtx, cancel := context.WithTimeout(ctx, o.config.Timeout)
	defer cancel()
	outcome.Err = o.sync(runCtx, logger, &outcome)
	outcome.FinishedAt = o.deps.Clock()

	abandoned := outcome.Err != nil && runCtx.Err() != nil
	if abandoned {
		outcome.Err = domain.Interrupted(ctx, runCtx, o.config.Timeout)
	}

	failures := 0
	if outcome.Err != nil {
		failures = state.ConsecutiveFailures + 1
	}

	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), completionBudget)
	defer wcancel()
	var updated bool
	var err error
	if abandoned {
		updated, err = o.deps.States.Abandon(wctx, outcome)
	} else {
		next := NextRun(outcome.FinishedAt, state.Interval, failures, o.config.BackoffCap)
		updated, err = o.deps.States.Finish(wctx, outcome, next)
	}
	switch {
	case err != nil:
		logger.Error("recording outcome failed", zap.Error(err))
	case !updated:
		logger.Info("run state is taken over by another replica")
	}

	o.deps.Metrics.ObserveSync(outcome, failures)
	fields := []zap.Field{
		zap.String("status", string(outcome.Status())),
		zap.Duration("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)),
		zap.Int("identities_created", outcome.Identities.Created),
		zap.Int("identities_updated", outcome.Identities.Updated),
		zap.Int("identities_deactivated", outcome.Identities.Deactivated),
		zap.Int("members_added", outcome.Members.Created),
		zap.Int("members_removed", outcome.Members.Deactivated),
		zap.Int("pushed", outcome.Pushed),
		zap.Int("conflicts", outcome.Conflicts),
	}
	if outcome.Err != nil {
		fields = append(fields, zap.String("error", domain.Redact(outcome.Err.Error())), zap.Int("consecutive_failures", failures))
	}
	logger.Info("sync finished", fields...)
	return outcome
}

func (o *Orchestrator) sync(ctx context.Context, logger *zap.Logger, outcome *domain.SyncOutcome) error {
	kind := outcome.State.Connector
	settings := o.config.Connectors[kind]

	c, err := o.deps.Connectors.Get(kind)
	if err != nil {
		return err
	}
	cred, err := o.deps.Credentials.Resolve(ctx, settings.CredentialRef, c.CredentialKind())
	if err != nil {
		return err
	}

	upstream, err := c.Fetch(ctx, cred)
	if err != nil {
		return err
	}
	stored, err := o.deps.Identities.Load(ctx, kind)
	if err != nil {
		return err
	}

	delta := reconcile.Diff(stored, upstream)
	res, err := o.deps.Identities.Apply(ctx, kind, delta)
	if err != nil {
		return err
	}
	outcome.Identities = res.Identities
	outcome.Groups = res.Groups
	outcome.Members = res.Members

	wb, ok := c.(connector.WriteBacker)
	if !ok || !settings.Writeback {
		return nil
	}
	return o.writeBack(ctx, logger, wb, cred, stored, upstream, outcome)
}

// writeBack settles pending membership changes.
//
// Changes which could not be pushed stay pending for the next sync, and fail this one.
func (o *Orchestrator) writeBack(
	ctx context.Context, logger *zap.Logger,
	wb connector.WriteBacker, cred credential.Credential,
	stored, upstream domain.Snapshot, outcome *domain.SyncOutcome,
) error {
	kind := outcome.State.Connector
	pending, err := o.deps.Identities.PendingChanges(ctx, kind)
	if err != nil {
		return err
	}

	before := reconcile.NewMembershipSet(stored.Memberships...)
	current := reconcile.NewMembershipSet(upstream.Memberships...)
	var pushErrs []error
	for _, change := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		decision, detail := reconcile.Classify(change, before, current)
		switch decision {
		case reconcile.AlreadyApplied:
			if err := o.deps.Identities.ResolveChange(ctx, change, domain.ChangeApplied, ""); err != nil {
				return err
			}
			o.deps.Metrics.Writeback(kind, metrics.WritebackApplied)
		case reconcile.Conflict:
			if err := o.deps.Identities.ResolveChange(ctx, change, domain.ChangeConflict, detail); err != nil {
				return err
			}
			outcome.Conflicts++
			o.deps.Metrics.Writeback(kind, metrics.WritebackConflict)
			logger.Warn("membership change conflicts with upstream. upstream wins",
				zap.Int64("change", change.ID), zap.String("detail", detail))
		case reconcile.Push:
			if err := wb.WriteBack(ctx, cred, change); err != nil {
				o.deps.Metrics.Writeback(kind, metrics.WritebackFailed)
				var apiErr *domain.ProviderAPIError
				if ctx.Err() != nil || (errors.As(err, &apiErr) && apiErr.Auth) {
					return err
				}
				logger.Warn("write-back failed. the change stays pending", zap.Int64("change", change.ID), zap.Error(err))
				pushErrs = append(pushErrs, err)
				continue
			}
			if err := o.deps.Identities.ResolveChange(ctx, change, domain.ChangePushed, ""); err != nil {
				return err
			}
			outcome.Pushed++
			o.deps.Metrics.Writeback(kind, metrics.WritebackPushed)
			current = current.Apply(asDelta(change))
		}
	}

	if len(pushErrs) != 0 {
		return fmt.Errorf("%d membership change(s) could not be written back: %w", len(pushErrs), errors.Join(pushErrs...))
	}
	return nil
}

func asDelta(change domain.MembershipChange) domain.MembershipDelta {
	if change.Op == domain.ChangeRemove {
		return domain.MembershipDelta{Remove: []domain.Membership{change.Membership}}
	}
	return domain.MembershipDelta{Add: []domain.Membership{change.Membership}}
}
