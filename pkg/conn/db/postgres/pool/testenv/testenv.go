// Package testenv provides Postgres databases for tests.
//
// A database is a container started with dockertest, with the schema of this
// repository applied. When ELDER_TEST_DATABASE_URL is set, that database is used instead.
// Tests are skipped when neither is available.
package testenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	schema "github.com/elderproject/elder-worker/pkg/domain/schema/db/postgres"
)

// PoolBroker hands out pools to a database shared by the tests of one scope.
type PoolBroker interface {
	// GetPool returns a pool. Tables are truncated before returning and after t.
	GetPool(ctx context.Context, t *testing.T) kpool.Pool
}

type pg struct {
	pool    *pgxpool.Pool
	cleanup bool
}

func (p *pg) GetPool(ctx context.Context, t *testing.T) kpool.Pool {
	t.Helper()
	if p.cleanup {
		t.Cleanup(func() {
			ClearTables(context.Background(), t, p.pool)
		})
		ClearTables(ctx, t, p.pool)
	}
	return kpool.Wrap(p.pool)
}

type options struct {
	image        string
	tag          string
	doNotCleanup bool
}

type Option func(*options) *options

// WithImage selects the postgres image. The default is postgres:14.
func WithImage(repository, tag string) Option {
	return func(o *options) *options {
		o.image = repository
		o.tag = tag
		return o
	}
}

// WithDoNotCleanup keeps rows between tests.
func WithDoNotCleanup() Option {
	return func(o *options) *options {
		o.doNotCleanup = true
		return o
	}
}

// SchemaRepository is the directory of schema versions in this repository.
func SchemaRepository() string {
	_, file, _, _ := runtime.Caller(0)
	// pkg/conn/db/postgres/pool/testenv/testenv.go -> repository root
	root := filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "..", "..")
	return filepath.Join(root, "schema", "postgres")
}

// NewPoolBroker starts a database for the scope of t.
//
// The database lives until t finishes.
func NewPoolBroker(ctx context.Context, t *testing.T, opts ...Option) PoolBroker {
	t.Helper()

	o := &options{image: "postgres", tag: "14"}
	for _, opt := range opts {
		o = opt(o)
	}

	var url string
	if u, ok := os.LookupEnv("ELDER_TEST_DATABASE_URL"); ok && u != "" {
		url = u
	} else {
		url = startContainer(t, o)
	}

	pool, err := pgxpool.Connect(ctx, url)
	require.NoError(t, err, "connect to postgres")
	t.Cleanup(pool.Close)

	require.NoError(
		t, schema.New(kpool.Wrap(pool), SchemaRepository()).Upgrade(ctx),
		"apply schema",
	)

	return &pg{pool: pool, cleanup: !o.doNotCleanup}
}

func startContainer(t *testing.T, o *options) string {
	t.Helper()

	dpool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := dpool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	dpool.MaxWait = 2 * time.Minute

	resource, err := dpool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: o.image,
			Tag:        o.tag,
			Env: []string{
				"POSTGRES_USER=test-user",
				"POSTGRES_PASSWORD=test-pass",
				"POSTGRES_DB=elder",
			},
		},
		func(hc *docker.HostConfig) {
			hc.AutoRemove = true
			hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() {
		if err := dpool.Purge(resource); err != nil {
			t.Logf("failed to purge postgres container: %v", err)
		}
	})
	require.NoError(t, resource.Expire(600))

	url := fmt.Sprintf(
		"postgres://test-user:test-pass@%s/elder?sslmode=disable",
		resource.GetHostPort("5432/tcp"),
	)

	// the server in the container is not ready to accept connections at first.
	err = dpool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p, err := pgxpool.Connect(ctx, url)
		if err != nil {
			return err
		}
		defer p.Close()
		return p.Ping(ctx)
	})
	require.NoError(t, err, "wait for postgres")

	return url
}

// ClearTables truncates every table but schema_version.
func ClearTables(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		truncate
			"discovery_history", "discovery_jobs",
			"entities", "networking_resources", "data_stores", "services",
			"membership_changes", "group_memberships", "identity_groups", "identities",
			"connector_run_state"
		restart identity cascade
	`); err != nil {
		t.Fatal(err)
	}
}
