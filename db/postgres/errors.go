package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/korthq/bx/db"
)

const (
	pgForeignKeyConstraintErrorCode = "23503"
	pgUniqueViolationErrorCode      = "23505"
	pgExceptionRaised               = "P0001"
	pgStatementCanceled             = "57014"
)

func mapExecErrors(err error, res sql.Result) error {
	found, err := mapError(err)
	if found {
		return err
	}
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return db.ErrNop
	}
	return nil
}

// mapError maps a few pq errors to errors defined in the db package, some
// wrapping the original error. If a mapping was made the returned bool will
// be true, if not the original error is returned and the bool will be false.
func mapError(err error) (bool, error) {
	if errors.Is(err, driver.ErrBadConn) {
		return true, db.ErrBadConn
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, db.ErrNop
	}
	e := &pq.Error{}
	if errors.As(err, &e) {
		switch e.Code {
		case pgForeignKeyConstraintErrorCode:
			return true, fmt.Errorf("%w: %s - %s", db.ErrConstrained, e.Message, e.Detail)
		case pgExceptionRaised:
			return true, fmt.Errorf("%w: %s - %s", db.ErrException, e.Message, e.Detail)
		case pgStatementCanceled:
			return true, fmt.Errorf("%w: %s - %s", db.ErrCanceled, e.Message, e.Detail)
		case pgUniqueViolationErrorCode:
			return true, fmt.Errorf("%w: %s - %s", db.ErrNop, e.Message, e.Detail)
		}
	}
	return false, err
}
