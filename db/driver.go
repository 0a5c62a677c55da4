package db

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// Querier is the statement surface scoped to a request. *sqlx.DB, *sqlx.Conn
// and *sqlx.Tx all satisfy it, so code written against Querier runs the same
// on a pool, a checked out connection or inside a transaction.
type Querier interface {
	sqlx.ExtContext
}

// Capabilities is the queryable capability set of a backend. Callers may
// branch on it before attempting an optional operation; callers that don't
// check get ErrUnsupported from the operation itself.
type Capabilities struct {
	// Execute reports whether the backend implements registry and raw SQL
	// execution through the facade.
	Execute bool
	// Transactions reports whether the backend implements explicit
	// transactions through the facade.
	Transactions bool
}

// Tx is an explicit transaction handle bound to one request's scoped
// connection. The caller manages its lifetime: either Commit or Rollback
// must be called before the request completes.
type Tx interface {
	// Execute runs raw SQL with bound parameters inside the transaction and
	// returns the resulting Rows.
	Execute(ctx context.Context, sql string, params map[string]interface{}) ([]Row, error)
	// ExecuteNoRows runs raw SQL inside the transaction for side effect only.
	ExecuteNoRows(ctx context.Context, sql string, params map[string]interface{}) error

	Commit() error
	Rollback() error
}

// Driver owns backend specific connection acquisition, statement execution
// and transaction primitives. One implementation exists per backend; the
// implementation is selected via configuration driven construction at
// process start.
type Driver interface {
	// Backend reports the driver's backend identity.
	Backend() Backend

	// Capabilities reports which optional operations the driver implements.
	Capabilities() Capabilities

	// Execute runs SQL with bound parameters against the connection scoped
	// to ctx (falling back to the backend's own handle outside a request)
	// and wraps every resulting record as a Row. When returnRows is false
	// the statement is executed for side effect only and the returned slice
	// is nil.
	Execute(ctx context.Context, sql string, params map[string]interface{}, returnRows bool) ([]Row, error)

	// Transaction begins a transactional scope on the connection scoped to ctx.
	Transaction(ctx context.Context) (Tx, error)

	// WithTransaction runs fn inside a transaction, committing on a nil
	// return and rolling back on error or panic. The Querier passed to fn is
	// also scoped into fn's context, so facade calls made inside fn
	// participate in the transaction.
	WithTransaction(ctx context.Context, fn func(context.Context, Querier) error) error

	// Middleware returns the connection scoping middleware for installation
	// into the request pipeline.
	Middleware() gin.HandlerFunc

	// Shutdown releases backend wide resources. Called once at process teardown.
	Shutdown(ctx context.Context) error
}

type connKey struct{}

// WithConn attaches a request scoped connection to the context. Driver
// middleware is the only expected caller.
func WithConn(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, connKey{}, q)
}

// ConnFromContext returns the connection scoped to the request, if any.
func ConnFromContext(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(connKey{}).(Querier)
	return q, ok
}
