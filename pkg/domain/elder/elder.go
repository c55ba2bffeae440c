// Package elder bundles the stores of the worker over one database pool.
package elder

import (
	"context"

	kpool "github.com/elderproject/elder-worker/pkg/conn/db/postgres/pool"
	kconnector "github.com/elderproject/elder-worker/pkg/domain/connector/db"
	kpgconnector "github.com/elderproject/elder-worker/pkg/domain/connector/db/postgres"
	kdiscovery "github.com/elderproject/elder-worker/pkg/domain/discovery/db"
	kpgdiscovery "github.com/elderproject/elder-worker/pkg/domain/discovery/db/postgres"
	kentity "github.com/elderproject/elder-worker/pkg/domain/entity/db"
	kpgentity "github.com/elderproject/elder-worker/pkg/domain/entity/db/postgres"
	kidentity "github.com/elderproject/elder-worker/pkg/domain/identity/db"
	kpgidentity "github.com/elderproject/elder-worker/pkg/domain/identity/db/postgres"
	kschema "github.com/elderproject/elder-worker/pkg/domain/schema/db"
	kpgschema "github.com/elderproject/elder-worker/pkg/domain/schema/db/postgres"
	xe "github.com/elderproject/elder-worker/pkg/errors"
)

type Elder interface {
	Discovery() kdiscovery.Interface
	Entity() kentity.Interface
	Connector() kconnector.Interface
	Identity() kidentity.Interface
	Schema() kschema.SchemaInterface

	// Ping checks the database is reachable.
	Ping(ctx context.Context) error

	Close()
}

type elder struct {
	pool kpool.Pool

	discovery kdiscovery.Interface
	entity    kentity.Interface
	connector kconnector.Interface
	identity  kidentity.Interface
	schema    kschema.SchemaInterface
}

type Option func(*_options)

type _options struct {
	schemaRepository string
	pool             []kpool.Option
}

// WithSchemaRepository sets the directory holding schema versions.
func WithSchemaRepository(repository string) Option {
	return func(o *_options) {
		o.schemaRepository = repository
	}
}

func WithPoolOptions(opts ...kpool.Option) Option {
	return func(o *_options) {
		o.pool = append(o.pool, opts...)
	}
}

// Connect opens a pool to the database at url and builds stores over it.
func Connect(ctx context.Context, url string, options ...Option) (Elder, error) {
	opt := &_options{}
	for _, o := range options {
		o(opt)
	}

	pool, err := kpool.Connect(ctx, url, opt.pool...)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	return New(pool, options...), nil
}

// New builds stores over an opened pool.
func New(pool kpool.Pool, options ...Option) Elder {
	opt := &_options{}
	for _, o := range options {
		o(opt)
	}

	return &elder{
		pool:      pool,
		discovery: kpgdiscovery.New(pool),
		entity:    kpgentity.New(pool),
		connector: kpgconnector.New(pool),
		identity:  kpgidentity.New(pool),
		schema:    kpgschema.New(pool, opt.schemaRepository),
	}
}

func (e *elder) Discovery() kdiscovery.Interface { return e.discovery }
func (e *elder) Entity() kentity.Interface       { return e.entity }
func (e *elder) Connector() kconnector.Interface { return e.connector }
func (e *elder) Identity() kidentity.Interface   { return e.identity }
func (e *elder) Schema() kschema.SchemaInterface { return e.schema }
func (e *elder) Ping(ctx context.Context) error  { return e.pool.Ping(ctx) }
func (e *elder) Close()                          { e.pool.Close() }
