// Package postgres is the client/server backend driver: a bounded connection
// pool over PostgreSQL with per request connection checkout, named parameter
// execution and explicit transactions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Load PostgresSQL Driver

	"github.com/korthq/bx/config/secret"
	"github.com/korthq/bx/db"
	"github.com/korthq/bx/o11y"
)

type Config struct {
	Host string
	Port int
	User string
	Pass secret.String
	Name string
	SSL  bool

	// AppName is reported to the server as application_name.
	AppName string

	// PoolSize bounds the number of open connections. Defaults to 20.
	PoolSize int
	// IdleSize bounds the number of idle connections kept open.
	// Defaults to half of PoolSize.
	IdleSize int
	// AcquireTimeout bounds how long a request may wait for a pool checkout,
	// so a saturated pool produces a timeout failure rather than unbounded
	// queuing. Defaults to 5 seconds.
	AcquireTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = 20
	}
	if c.IdleSize == 0 {
		c.IdleSize = c.PoolSize / 2
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 5 * time.Second
	}
}

// Driver owns the pool. Construct it once at process start and activate it
// with db.New.
type Driver struct {
	pool           *sqlx.DB
	acquireTimeout time.Duration
}

// New opens the connection pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (d *Driver, err error) {
	_, span := o11y.StartSpan(ctx, "postgres: connect")
	defer o11y.End(span, &err)

	cfg.withDefaults()

	host := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	span.AddField("host", host)
	span.AddField("dbname", cfg.Name)
	span.AddField("username", cfg.User)
	span.AddField("pool_size", cfg.PoolSize)

	params := url.Values{}
	params.Set("connect_timeout", "5")
	if cfg.AppName != "" {
		params.Set("application_name", cfg.AppName)
	}
	if cfg.SSL {
		params.Set("sslmode", "require")
	} else {
		params.Set("sslmode", "disable")
	}
	uri := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Pass.Raw()),
		Host:     host,
		Path:     cfg.Name,
		RawQuery: params.Encode(),
	}

	pool, err := sqlx.Open("postgres", uri.String())
	if err != nil {
		return nil, err
	}
	pool.SetConnMaxLifetime(time.Hour)
	pool.SetMaxOpenConns(cfg.PoolSize)
	pool.SetMaxIdleConns(cfg.IdleSize)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}

	return &Driver{
		pool:           pool,
		acquireTimeout: cfg.AcquireTimeout,
	}, nil
}

// NewFromPool wraps an existing pool. Intended for tests and fixtures.
func NewFromPool(pool *sqlx.DB, acquireTimeout time.Duration) *Driver {
	if acquireTimeout == 0 {
		acquireTimeout = 5 * time.Second
	}
	return &Driver{pool: pool, acquireTimeout: acquireTimeout}
}

func (d *Driver) Backend() db.Backend {
	return db.BackendPostgres
}

func (d *Driver) Capabilities() db.Capabilities {
	return db.Capabilities{Execute: true, Transactions: true}
}

// Pool exposes the underlying pool for health checks and fixtures.
func (d *Driver) Pool() *sqlx.DB {
	return d.pool
}

// querier returns the connection scoped to the request, falling back to the
// pool itself outside a request (startup tasks, workers, tests).
func (d *Driver) querier(ctx context.Context) db.Querier {
	if q, ok := db.ConnFromContext(ctx); ok {
		return q
	}
	return d.pool
}

// Execute runs query with bound named parameters (eg. "... WHERE id = :id")
// against the request's scoped connection, wrapping every resulting record
// as a db.Row. With returnRows false the statement is executed for side
// effect only; zero affected rows is reported as the db.ErrNop warning.
func (d *Driver) Execute(ctx context.Context, query string, params map[string]interface{},
	returnRows bool) ([]db.Row, error) {

	q := d.querier(ctx)

	if !returnRows {
		var res sql.Result
		var err error
		if len(params) == 0 {
			res, err = q.ExecContext(ctx, query)
		} else {
			res, err = sqlx.NamedExecContext(ctx, q, query, params)
		}
		return nil, mapExecErrors(err, res)
	}

	var rows *sqlx.Rows
	var err error
	if len(params) == 0 {
		rows, err = q.QueryxContext(ctx, query)
	} else {
		rows, err = sqlx.NamedQueryContext(ctx, q, query, params)
	}
	if err != nil {
		_, err = mapError(err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	return materialize(rows)
}

// materialize drains rows into backend agnostic db.Rows, preserving backend
// order. The full result set is returned or none at all.
func materialize(rows *sqlx.Rows) ([]db.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []db.Row{}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		out = append(out, db.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		_, err = mapError(err)
		return nil, err
	}
	return out, nil
}

// Shutdown drains the pool. In-flight requests should have completed; the
// caller sequences this after the servers have stopped.
func (d *Driver) Shutdown(_ context.Context) error {
	return d.pool.Close()
}
