package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elderproject/elder-worker/pkg/configs/worker"
	"github.com/elderproject/elder-worker/pkg/domain"
	"github.com/elderproject/elder-worker/pkg/domain/elder"
	"github.com/elderproject/elder-worker/pkg/loop/recurring"
	"github.com/elderproject/elder-worker/pkg/utils/args"
	"github.com/elderproject/elder-worker/pkg/utils/filewatch"
	"github.com/elderproject/elder-worker/pkg/utils/retry"
)

// minimum version of the database schema this binary works with.
const requiredSchema = 1

type flags struct {
	config         string
	schemaRepo     string
	policy         *args.Adapter[recurring.Policy]
	loops          *args.Adapter[domain.LoopSet]
	connectTimeout time.Duration
}

func main() {
	cmd, _ := newCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() (*cobra.Command, *flags) {
	f := &flags{
		policy: args.Parser("policy", recurring.ParsePolicy),
		loops:  args.Parser("loops", domain.AsLoopSet),
	}

	cmd := &cobra.Command{
		Use:           "elder-worker",
		Short:         "runs discovery jobs and identity connector syncs of Elder",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.config, "config", os.Getenv("ELDER_WORKER_CONFIG"), "path to config file (optional)")
	fs.StringVar(&f.schemaRepo, "schema-repo", os.Getenv("ELDER_SCHEMA"), "schema repository path. The worker stops when a newer schema appears there")
	fs.String("database", "", "postgres url (overrides ELDER_DATABASE_URL)")
	fs.String("worker-id", "", "owner id written on claims (overrides ELDER_WORKER_ID)")
	fs.String("http-addr", "", "listen address of health server (overrides ELDER_HTTP_ADDR)")
	fs.String("log-level", "", "debug|info|warn|error (overrides ELDER_LOG_LEVEL)")
	fs.Bool("enable-fixtures", false, "register fixture provider and connector")
	fs.Var(
		f.policy, "policy",
		`loop policy (syntax: forever[:COOLDOWN]|backlog).`+
			` "forever[:COOLDOWN]" = run until stopped, waiting COOLDOWN (default: poll interval) between ticks.`+
			` "backlog" = run until nothing is due, then exit after work in flight drains.`,
	)
	fs.Var(f.loops, "loops", `loops to run, comma separated (default: "discovery,connectors")`)
	fs.DurationVar(&f.connectTimeout, "connect-timeout", 2*time.Minute, "how long to retry connecting to the database at startup")

	return cmd, f
}

// configure builds the config in the order: flags > env > file > defaults.
func configure(cmd *cobra.Command, f *flags) (*worker.Config, error) {
	m, err := worker.LoadMarshall(f.config, worker.WithFlags(cmd.Flags()))
	if err != nil {
		return nil, err
	}
	return m.Seal()
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(parent context.Context, cmd *cobra.Command, f *flags) error {
	conf, err := configure(cmd, f)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "configuration is invalid: %s\n", err)
		return err
	}

	logger, err := newLogger(conf.LogLevel())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "cannot build logger: %s\n", err)
		return err
	}
	defer logger.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if f.config != "" {
		// config is read once. Restart (by the supervisor) to apply changes.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, f.config)
		if err != nil {
			logger.Error("cannot watch config file", zap.String("path", f.config), zap.Error(err))
			return err
		}
		defer cancel()
		ctx = wctx
	}

	db, err := connect(ctx, logger, conf.Database(), f)
	if err != nil {
		logger.Error("cannot connect to database", zap.Error(err))
		return err
	}
	defer db.Close()

	if err := db.Schema().Require(ctx, requiredSchema); err != nil {
		logger.Error("database schema is not ready", zap.Error(err))
		return err
	}
	{
		sctx, scancel := db.Schema().Context(ctx)
		defer scancel()
		ctx = sctx
	}

	loops := domain.AllLoops()
	if f.loops.IsSet() {
		loops = f.loops.Value()
	}
	w, err := Build(ctx, conf, db, Manifest{Loops: loops, Policy: f.policy.Value()}, logger)
	if err != nil {
		logger.Error("cannot build worker", zap.Error(err))
		return err
	}

	srv := NewServer(w.Scheduler, db, w.Metrics, logger.Named("http"), conf.LogLevel())
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("health server starts", zap.String("addr", conf.HTTPAddr()))
		serverErr <- srv.Start(conf.HTTPAddr())
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("health server shutdown", zap.Error(err))
		}
	}()

	logger.Info(
		"worker starts",
		zap.String("worker_id", conf.WorkerID()),
		zap.Stringer("loops", loops),
		zap.Bool("fixtures", conf.Fixtures()),
	)
	runErr := make(chan error, 1)
	go func() { runErr <- w.Scheduler.Run(ctx) }()

	select {
	case err = <-runErr:
	case err = <-serverErr:
		logger.Error("health server stopped", zap.Error(err))
		cancel()
		<-runErr
		return err
	}

	if err != nil {
		logger.Error("worker stopped by error", zap.Error(err))
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		logger.Info("worker stopped", zap.NamedError("cause", cause))
	} else {
		logger.Info("worker stopped")
	}
	return nil
}

func connect(ctx context.Context, logger *zap.Logger, url string, f *flags) (elder.Elder, error) {
	cctx, cancel := context.WithTimeout(ctx, f.connectTimeout)
	defer cancel()

	attempt := 0
	return retry.Blocking(
		cctx, retry.ExponentialBackoff(500*time.Millisecond, 2, 15*time.Second),
		func() (elder.Elder, error) {
			attempt++
			db, err := elder.Connect(cctx, url, elder.WithSchemaRepository(f.schemaRepo))
			if err == nil {
				err = db.Ping(cctx)
				if err != nil {
					db.Close()
				}
			}
			if err != nil {
				logger.Warn("database is not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
				return nil, fmt.Errorf("%w: %w", retry.ErrRetry, err)
			}
			return db, nil
		},
	)
}
