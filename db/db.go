package db

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/korthq/bx/o11y"
)

// Backend identifies one of the two concrete data store engines this layer
// can be configured against.
type Backend string

const (
	// BackendPostgres is the client/server relational engine with a
	// connection pool.
	BackendPostgres Backend = "postgres"
	// BackendSQLite is the embedded single file engine.
	BackendSQLite Backend = "sqlite"
)

// DB is the facade application code calls. It is constructed once at process
// start with the chosen backend driver and injected into the request pipeline
// and into any code issuing queries; there is no package global singleton.
//
// Every operation on a nil DB, or a DB without a driver, fails with
// ErrNotInitialized, covering code paths that run before activation.
type DB struct {
	driver   Driver
	registry *Registry
}

// Option configures a DB at construction.
type Option func(*DB)

// WithRegistry seeds the DB with a pre-populated query registry. This lets
// components register their queries before the backend is activated.
func WithRegistry(r *Registry) Option {
	return func(d *DB) {
		d.registry = r
	}
}

// New activates the given backend driver and returns the facade. The driver
// performs its backend specific setup (such as opening a pool) in its own
// constructor; New itself only records the active driver. Activation is a
// one time, non concurrent step performed before the request serving phase
// begins; hot backend swaps are not supported.
func New(drv Driver, opts ...Option) *DB {
	d := &DB{
		driver:   drv,
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DB) active() error {
	if d == nil || d.driver == nil {
		return ErrNotInitialized
	}
	return nil
}

// Backend returns the active backend identity, or the empty Backend if no
// driver is active.
func (d *DB) Backend() Backend {
	if d.active() != nil {
		return ""
	}
	return d.driver.Backend()
}

// Capabilities returns the active driver's capability set. The zero
// Capabilities is returned if no driver is active.
func (d *DB) Capabilities() Capabilities {
	if d.active() != nil {
		return Capabilities{}
	}
	return d.driver.Capabilities()
}

// Registry returns the query registry, so queries can be registered through
// the facade or directly.
func (d *DB) Registry() *Registry {
	return d.registry
}

// Store inserts or overwrites a named query in the registry. There is no
// backend dispatch; it never fails.
func (d *DB) Store(name, sql string) {
	d.registry.Store(name, sql)
}

// Execute resolves name in the registry and runs the stored SQL with bound
// parameters against the active backend, returning the resulting Rows in
// backend order. A name absent from the registry fails with ErrQueryNotFound.
func (d *DB) Execute(ctx context.Context, name string, params map[string]interface{}) (rows []Row, err error) {
	if err := d.active(); err != nil {
		return nil, err
	}
	ctx, span := d.span(ctx, name)
	defer o11y.End(span, &err)

	sql, err := d.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return d.driver.Execute(ctx, sql, params, true)
}

// ExecuteNoRows is Execute for statements run for side effect only; no
// result set is materialized.
func (d *DB) ExecuteNoRows(ctx context.Context, name string, params map[string]interface{}) (err error) {
	if err := d.active(); err != nil {
		return err
	}
	ctx, span := d.span(ctx, name)
	defer o11y.End(span, &err)

	sql, err := d.registry.Resolve(name)
	if err != nil {
		return err
	}
	_, err = d.driver.Execute(ctx, sql, params, false)
	return err
}

// ExecuteSQL runs the given SQL text directly against the active backend,
// bypassing the registry.
func (d *DB) ExecuteSQL(ctx context.Context, sql string, params map[string]interface{}) (rows []Row, err error) {
	if err := d.active(); err != nil {
		return nil, err
	}
	ctx, span := d.span(ctx, "raw")
	defer o11y.End(span, &err)

	return d.driver.Execute(ctx, sql, params, true)
}

// Transaction begins a transactional scope on the connection currently
// scoped to ctx and returns a handle whose lifetime the caller manages
// explicitly within the same request.
func (d *DB) Transaction(ctx context.Context) (Tx, error) {
	if err := d.active(); err != nil {
		return nil, err
	}
	return d.driver.Transaction(ctx)
}

// WithTransaction runs fn inside a transaction, committing on a nil return
// and rolling back on error or panic.
func (d *DB) WithTransaction(ctx context.Context, fn func(context.Context, Querier) error) error {
	if err := d.active(); err != nil {
		return err
	}
	return d.driver.WithTransaction(ctx, fn)
}

// Middleware returns the connection scoping middleware appropriate to the
// active backend, for installation into the request pipeline.
func (d *DB) Middleware() (gin.HandlerFunc, error) {
	if err := d.active(); err != nil {
		return nil, err
	}
	return d.driver.Middleware(), nil
}

// Shutdown releases backend wide resources: a pool drain for the
// client/server engine, a no-op for the embedded engine. Callers invoke it
// once at process teardown.
func (d *DB) Shutdown(ctx context.Context) error {
	if err := d.active(); err != nil {
		return err
	}
	return d.driver.Shutdown(ctx)
}

// span names database work consistently and records the query timing metric.
func (d *DB) span(ctx context.Context, queryName string) (context.Context, o11y.Span) {
	ctx, span := o11y.StartSpan(ctx, fmt.Sprintf("db: %s.%s", d.driver.Backend(), queryName))
	span.RecordMetric(o11y.Timing("db.query", "db.system", "db.query_name", "result"))
	span.AddRawField("db.system", string(d.driver.Backend()))
	span.AddRawField("db.query_name", queryName)
	return ctx, span
}
