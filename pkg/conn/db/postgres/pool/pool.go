// Package pool narrows pgx's pool, connection and transaction types
// to interfaces, so that stores can be handed any of them.
package pool

import (
	"context"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	xe "github.com/elderproject/elder-worker/pkg/errors"
)

// Begin is something which can begin a transaction:
// *pgxpool.Pool, *pgxpool.Conn or pgx.Tx (as a savepoint).
type Begin interface {
	Begin(ctx context.Context) (Tx, error)
}

type BeginTx interface {
	Begin
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (Tx, error)
}

// Queryer sends SQL. See pgxpool.Conn for each method.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Tx is a subset of pgx.Tx.
//
// pgx.Tx itself does not satisfy Tx, since Begin returns the wrapped type.
// Get one from Pool or Conn.
type Tx interface {
	Queryer
	Begin

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type pgxTx struct {
	base pgx.Tx
}

var _ Tx = &pgxTx{}

func (tx *pgxTx) Begin(ctx context.Context) (Tx, error) {
	nested, err := tx.base.Begin(ctx)
	if nested == nil {
		return nil, err
	}
	return &pgxTx{nested}, err
}

func (tx *pgxTx) Commit(ctx context.Context) error   { return tx.base.Commit(ctx) }
func (tx *pgxTx) Rollback(ctx context.Context) error { return tx.base.Rollback(ctx) }

func (tx *pgxTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return tx.base.Exec(ctx, sql, arguments...)
}
func (tx *pgxTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return tx.base.Query(ctx, sql, args...)
}
func (tx *pgxTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return tx.base.QueryRow(ctx, sql, args...)
}
func (tx *pgxTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return tx.base.SendBatch(ctx, b)
}

// Conn is a subset of *pgxpool.Conn. Acquire it from Pool.
type Conn interface {
	BeginTx
	Queryer

	Release()
	Ping(ctx context.Context) error
}

type pgxPoolConn struct {
	base *pgxpool.Conn
}

var _ Conn = &pgxPoolConn{}

func (c *pgxPoolConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.base.Begin(ctx)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (c *pgxPoolConn) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (Tx, error) {
	tx, err := c.base.BeginTx(ctx, txOptions)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (c *pgxPoolConn) Release() { c.base.Release() }
func (c *pgxPoolConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return c.base.Exec(ctx, sql, arguments...)
}
func (c *pgxPoolConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.base.Query(ctx, sql, args...)
}
func (c *pgxPoolConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.base.QueryRow(ctx, sql, args...)
}
func (c *pgxPoolConn) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return c.base.SendBatch(ctx, b)
}
func (c *pgxPoolConn) Ping(ctx context.Context) error { return c.base.Ping(ctx) }

// Pool is a subset of *pgxpool.Pool. Wrap one to get it.
//
// A single Pool is shared by every execution in the process.
type Pool interface {
	BeginTx
	Queryer

	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
	Close()
}

type pgxPool struct {
	base *pgxpool.Pool
}

var _ Pool = &pgxPool{}

func (p *pgxPool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.base.Begin(ctx)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (p *pgxPool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (Tx, error) {
	tx, err := p.base.BeginTx(ctx, txOptions)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.base.Acquire(ctx)
	if conn == nil {
		return nil, err
	}
	return &pgxPoolConn{conn}, err
}
func (p *pgxPool) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return p.base.Exec(ctx, sql, arguments...)
}
func (p *pgxPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.base.Query(ctx, sql, args...)
}
func (p *pgxPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.base.QueryRow(ctx, sql, args...)
}
func (p *pgxPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return p.base.SendBatch(ctx, b)
}
func (p *pgxPool) Ping(ctx context.Context) error { return p.base.Ping(ctx) }
func (p *pgxPool) Stat() *pgxpool.Stat            { return p.base.Stat() }
func (p *pgxPool) Close()                         { p.base.Close() }

func Wrap(p *pgxpool.Pool) Pool {
	return &pgxPool{p}
}

type options struct {
	maxConns        int32
	maxConnLifetime time.Duration
	applicationName string
}

type Option func(*options) *options

// WithMaxConns sizes the pool. Zero keeps pgx's default.
func WithMaxConns(n int32) Option {
	return func(o *options) *options {
		o.maxConns = n
		return o
	}
}

func WithMaxConnLifetime(d time.Duration) Option {
	return func(o *options) *options {
		o.maxConnLifetime = d
		return o
	}
}

// WithApplicationName sets application_name, which shows up in pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(o *options) *options {
		o.applicationName = name
		return o
	}
}

// Connect opens a pool for url and checks it with a ping.
func Connect(ctx context.Context, url string, opts ...Option) (Pool, error) {
	o := &options{}
	for _, opt := range opts {
		o = opt(o)
	}

	conf, err := pgxpool.ParseConfig(url)
	if err != nil {
		// the message of a parse error may carry the password.
		return nil, xe.New("database url is malformed")
	}
	if 0 < o.maxConns {
		conf.MaxConns = o.maxConns
	}
	if 0 < o.maxConnLifetime {
		conf.MaxConnLifetime = o.maxConnLifetime
	}
	if o.applicationName != "" {
		conf.ConnConfig.RuntimeParams["application_name"] = o.applicationName
	}

	p, err := pgxpool.ConnectConfig(ctx, conf)
	if err != nil {
		return nil, xe.Wrap(err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, xe.Wrap(err)
	}
	return Wrap(p), nil
}
