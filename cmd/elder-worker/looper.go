package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/elderproject/elder-worker/pkg/configs/worker"
	"github.com/elderproject/elder-worker/pkg/connector"
	"github.com/elderproject/elder-worker/pkg/connector/entra"
	cfixture "github.com/elderproject/elder-worker/pkg/connector/fixture"
	"github.com/elderproject/elder-worker/pkg/connector/ldap"
	"github.com/elderproject/elder-worker/pkg/connector/okta"
	"github.com/elderproject/elder-worker/pkg/connector/workspace"
	"github.com/elderproject/elder-worker/pkg/connsync"
	"github.com/elderproject/elder-worker/pkg/credential"
	"github.com/elderproject/elder-worker/pkg/discovery"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/domain/elder"
	xe "github.com/elderproject/elder-worker/pkg/errors"
	"github.com/elderproject/elder-worker/pkg/loop/recurring"
	"github.com/elderproject/elder-worker/pkg/metrics"
	"github.com/elderproject/elder-worker/pkg/provider"
	"github.com/elderproject/elder-worker/pkg/provider/aws"
	"github.com/elderproject/elder-worker/pkg/provider/azure"
	pfixture "github.com/elderproject/elder-worker/pkg/provider/fixture"
	"github.com/elderproject/elder-worker/pkg/provider/gcp"
	"github.com/elderproject/elder-worker/pkg/provider/kubernetes"
	"github.com/elderproject/elder-worker/pkg/scheduler"
)

// Manifest tells which loops run and how they repeat.
type Manifest struct {
	Loops domain.LoopSet

	// Policy may be nil, for forever with the poll interval as cooldown.
	Policy recurring.Policy
}

// Worker is the assembled process.
type Worker struct {
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
}

func Build(ctx context.Context, conf *worker.Config, db elder.Elder, manifest Manifest, logger *zap.Logger) (*Worker, error) {
	m := metrics.New()

	resolver, err := buildResolver(ctx, conf.Secrets())
	if err != nil {
		return nil, err
	}

	plugins := []provider.Provider{aws.New(), gcp.New(), azure.New(), kubernetes.New()}
	connectors := []connector.Connector{ldap.New(), okta.New(), entra.New(), workspace.New()}
	if conf.Fixtures() {
		plugins = append(plugins, pfixture.New(pfixture.DefaultVMs))
		connectors = append(connectors, cfixture.New(cfixture.Default()))
	}
	providers := provider.NewRegistry(plugins...)

	dc := conf.Discovery()
	executor := discovery.New(
		discovery.Config{JobTimeout: dc.JobTimeout(), BatchSize: dc.BatchSize()},
		discovery.Deps{
			Credentials: resolver,
			Providers:   providers,
			Jobs:        db.Discovery(),
			Entities:    db.Entity(),
			Metrics:     m,
			Logger:      logger.Named("executor"),
		},
	)

	cc := conf.Connectors()
	settings := map[domain.ConnectorKind]connsync.Settings{}
	registrations := []domain.ConnectorRegistration{}
	for _, c := range cc.Enabled() {
		settings[c.Kind()] = connsync.Settings{CredentialRef: c.Credentials(), Writeback: c.Writeback()}
		registrations = append(registrations, domain.ConnectorRegistration{
			Connector: c.Kind(), Interval: c.Interval(), Enabled: true,
		})
	}
	orchestrator := connsync.New(
		connsync.Config{Timeout: cc.Timeout(), BackoffCap: cc.BackoffCap(), Connectors: settings},
		connsync.Deps{
			Credentials: resolver,
			Connectors:  connector.NewRegistry(connectors...),
			States:      db.Connector(),
			Identities:  db.Identity(),
			Metrics:     m,
			Logger:      logger.Named("orchestrator"),
		},
	)

	s := scheduler.New(
		scheduler.Config{
			WorkerID: conf.WorkerID(),
			Loops:    manifest.Loops,
			Policy:   manifest.Policy,
			Discovery: scheduler.LoopConfig{
				PollInterval:  dc.PollInterval(),
				StaleClaim:    dc.StaleClaim(),
				MaxConcurrent: dc.MaxConcurrent(),
			},
			Connectors: scheduler.LoopConfig{
				PollInterval:  cc.PollInterval(),
				StaleClaim:    cc.StaleClaim(),
				MaxConcurrent: cc.MaxConcurrent(),
			},
			Registrations: registrations,
			Providers:     providers.Kinds(),
		},
		scheduler.Deps{
			Jobs:      db.Discovery(),
			States:    db.Connector(),
			Discovery: executor,
			Sync:      orchestrator,
			Metrics:   m,
			Logger:    logger,
		},
	)
	return &Worker{Scheduler: s, Metrics: m}, nil
}

func buildResolver(ctx context.Context, sc *worker.SecretsConfig) (*credential.Resolver, error) {
	options := []credential.Option{credential.WithSecretsDir(sc.Dir())}
	if v := sc.Vault(); v != nil {
		src, err := credential.NewVaultSource(v.Addr(), v.TokenFile(), v.Namespace())
		if err != nil {
			return nil, xe.WrapWithNote("vault", err)
		}
		options = append(options, credential.WithVault(src))
	}
	if sc.AWSSecretsManager() {
		src, err := credential.DefaultSecretsManagerSource(ctx)
		if err != nil {
			return nil, xe.WrapWithNote("aws secrets manager", err)
		}
		options = append(options, credential.WithAWSSecretsManager(src))
	}
	return credential.NewResolver(options...), nil
}
