package postgres

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/korthq/bx/db"
	"github.com/korthq/bx/o11y"
)

// scopedConn adapts a pool checkout to db.Querier: *sqlx.Conn lacks the
// DriverName and BindNamed halves of sqlx's binder surface, which named
// parameter execution needs.
type scopedConn struct {
	*sqlx.Conn
	driverName string
}

var _ db.Querier = scopedConn{}

func (c scopedConn) DriverName() string {
	return c.driverName
}

func (c scopedConn) BindNamed(query string, arg interface{}) (string, []interface{}, error) {
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return "", nil, err
	}
	return c.Rebind(bound), args, nil
}

// Middleware checks out one connection from the pool before the handler runs
// and attaches it to the request context. The checkout is returned to the
// pool when the request completes, on every exit path: success, handled
// application error, or panic.
//
// Checkout waits are bounded by the configured acquire timeout; a saturated
// pool surfaces as 503 rather than unbounded queuing.
func (d *Driver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		acquireCtx, cancel := context.WithTimeout(ctx, d.acquireTimeout)
		conn, err := d.pool.Connx(acquireCtx)
		cancel()
		if err != nil {
			o11y.LogError(ctx, "postgres: connection checkout failed", err)
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		defer func() {
			// release must happen even when the handler panics; the
			// recovery middleware sits outside this one
			_ = conn.Close()
		}()

		scoped := scopedConn{Conn: conn, driverName: d.pool.DriverName()}
		c.Request = c.Request.WithContext(db.WithConn(ctx, scoped))
		c.Next()
	}
}
