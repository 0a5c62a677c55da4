package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/korthq/bx/db"
	"github.com/korthq/bx/o11y"
)

// txBeginner is satisfied by *sqlx.DB and *sqlx.Conn.
type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// Transaction begins a transactional scope on the connection scoped to ctx
// and returns a handle the caller commits or rolls back explicitly, within
// the same request. Statements issued through the handle run inside the
// transaction.
func (d *Driver) Transaction(ctx context.Context) (db.Tx, error) {
	q, ok := db.ConnFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("transaction needs a request-scoped connection: %w", db.ErrNoConn)
	}
	b, ok := q.(txBeginner)
	if !ok {
		return nil, errors.New("postgres: scoped connection cannot begin a transaction")
	}
	tx, err := b.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not start transaction: %w", err)
	}
	return &transaction{tx: tx}, nil
}

type transaction struct {
	tx *sqlx.Tx
}

func (t *transaction) Execute(ctx context.Context, query string,
	params map[string]interface{}) ([]db.Row, error) {

	var rows *sqlx.Rows
	var err error
	if len(params) == 0 {
		rows, err = t.tx.QueryxContext(ctx, query)
	} else {
		rows, err = sqlx.NamedQueryContext(ctx, t.tx, query, params)
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

func (t *transaction) ExecuteNoRows(ctx context.Context, query string,
	params map[string]interface{}) error {

	var res sql.Result
	var err error
	if len(params) == 0 {
		res, err = t.tx.ExecContext(ctx, query)
	} else {
		res, err = sqlx.NamedExecContext(ctx, t.tx, query, params)
	}
	return mapExecErrors(err, res)
}

func (t *transaction) Commit() error {
	return t.tx.Commit()
}

func (t *transaction) Rollback() error {
	return t.tx.Rollback()
}

// WithTransaction runs f inside a transaction on the request's scoped
// connection (or a pool connection outside a request). The transaction is
// committed when f returns nil and rolled back when it returns an error or
// panics. The Querier handed to f is also scoped into f's context, so facade
// calls made inside f participate in the transaction.
func (d *Driver) WithTransaction(ctx context.Context,
	f func(context.Context, db.Querier) error) (err error) {

	ctx, span := o11y.StartSpan(ctx, "postgres: with-transaction")
	defer o11y.End(span, &err)

	var beginner txBeginner = d.pool
	if q, ok := db.ConnFromContext(ctx); ok {
		if b, ok := q.(txBeginner); ok {
			beginner = b
		}
	}

	tx, err := beginner.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}

	defer func() {
		p := recover()
		switch {
		case p != nil:
			// a panic occurred, rollback and re-panic
			_ = tx.Rollback()
			panic(p)
		case err != nil:
			// never commit on an error
			// but don't rollback if the transaction context has been canceled
			// (the library code already handles rollback in the context canceled cases)
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			// something other than a context cancel went wrong, rollback
			if rErr := tx.Rollback(); rErr != nil {
				o11y.AddField(ctx, "rollback_error", rErr)
			}
		case errors.Is(ctx.Err(), context.Canceled):
			// f may have suppressed an error but the transaction has still been cancelled
			// even if f appeared to have not seen any error we report the context cancellation
			// so the client will at least be able to be aware that the transaction was rolled back
			err = ctx.Err()
			return
		default:
			// all good, commit
			err = tx.Commit()
		}
	}()

	err = f(db.WithConn(ctx, tx), tx)

	// Note that the above defer can reassign err
	return err
}
