package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"gotest.tools/v3/assert"

	"github.com/korthq/bx/db"
)

func TestWithTransaction_CommitAndRollback(t *testing.T) {
	ourError := errors.New("our error")
	tests := []struct {
		returnError error
		cancel      bool
		commits     int
		rollbacks   int
		expectError error
	}{
		{returnError: nil, cancel: false, expectError: nil, commits: 1},
		{returnError: nil, cancel: true, expectError: context.Canceled, rollbacks: 1},
		{returnError: ourError, cancel: false, expectError: ourError, rollbacks: 1},
		// the sqlx transaction wrapper sees the context cancel so does not call commit
		// but if the commit is called here it will return context.Canceled and not ourError
		{returnError: ourError, cancel: true, expectError: ourError, rollbacks: 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("err-%v-cancel-%t", tt.returnError, tt.cancel), func(t *testing.T) {
			ttx := &fakeTx{}
			d := NewFromPool(sqlx.NewDb(sql.OpenDB(fakeConnector{tx: ttx}), "fake"), 0)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := d.WithTransaction(ctx, func(ctx context.Context, _ db.Querier) error {
				if tt.cancel {
					cancel()
				}
				if tt.returnError != nil {
					return tt.returnError
				}
				return nil
			})
			if tt.expectError != nil {
				assert.Assert(t, errors.Is(err, tt.expectError), "got:%v wanted:%v", err, tt.expectError)
			} else {
				assert.NilError(t, err)
			}
			ttx.mu.Lock()
			defer ttx.mu.Unlock()
			assert.Equal(t, ttx.rollBackCount, tt.rollbacks)
			assert.Equal(t, ttx.commitCount, tt.commits)
		})
	}
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	ttx := &fakeTx{}
	d := NewFromPool(sqlx.NewDb(sql.OpenDB(fakeConnector{tx: ttx}), "fake"), 0)

	assert.Assert(t, panics(func() {
		_ = d.WithTransaction(context.Background(), func(context.Context, db.Querier) error {
			panic("boom")
		})
	}))

	ttx.mu.Lock()
	defer ttx.mu.Unlock()
	assert.Equal(t, ttx.rollBackCount, 1)
	assert.Equal(t, ttx.commitCount, 0)
}

func TestWithTransaction_ScopesTxIntoContext(t *testing.T) {
	ttx := &fakeTx{}
	d := NewFromPool(sqlx.NewDb(sql.OpenDB(fakeConnector{tx: ttx}), "fake"), 0)

	err := d.WithTransaction(context.Background(), func(ctx context.Context, q db.Querier) error {
		scoped, ok := db.ConnFromContext(ctx)
		assert.Check(t, ok)
		assert.Check(t, scoped == q)
		return nil
	})
	assert.NilError(t, err)
}

func TestTransaction_NeedsScopedConn(t *testing.T) {
	ttx := &fakeTx{}
	d := NewFromPool(sqlx.NewDb(sql.OpenDB(fakeConnector{tx: ttx}), "fake"), 0)

	_, err := d.Transaction(context.Background())
	assert.Check(t, errors.Is(err, db.ErrNoConn))
}

func TestTransaction_ExplicitCommit(t *testing.T) {
	ttx := &fakeTx{}
	pool := sqlx.NewDb(sql.OpenDB(fakeConnector{tx: ttx}), "fake")
	d := NewFromPool(pool, 0)

	ctx := db.WithConn(context.Background(), pool)
	tx, err := d.Transaction(ctx)
	assert.NilError(t, err)
	assert.NilError(t, tx.Commit())

	ttx.mu.Lock()
	defer ttx.mu.Unlock()
	assert.Equal(t, ttx.commitCount, 1)
	assert.Equal(t, ttx.rollBackCount, 0)
}

func TestTransaction_ExplicitRollback(t *testing.T) {
	ttx := &fakeTx{}
	pool := sqlx.NewDb(sql.OpenDB(fakeConnector{tx: ttx}), "fake")
	d := NewFromPool(pool, 0)

	ctx := db.WithConn(context.Background(), pool)
	tx, err := d.Transaction(ctx)
	assert.NilError(t, err)
	assert.NilError(t, tx.Rollback())

	ttx.mu.Lock()
	defer ttx.mu.Unlock()
	assert.Equal(t, ttx.commitCount, 0)
	assert.Equal(t, ttx.rollBackCount, 1)
}

func panics(f func()) (panicked bool) {
	defer func() {
		if recover() != nil {
			panicked = true
		}
	}()
	f()
	return false
}

type fakeConnector struct {
	driver.Connector
	tx *fakeTx
}

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return fakeConn{tx: c.tx}, nil
}

type fakeConn struct {
	tx *fakeTx
	driver.Conn
}

func (c fakeConn) Begin() (driver.Tx, error) {
	// to simulate the transaction lifecycle
	// will be unlocked in Commit or Rollback
	c.tx.mu.Lock()
	return c.tx, nil
}

func (c fakeConn) Close() error {
	return nil
}

type fakeTx struct {
	// to simulate a transaction a bit and because the
	// actual rollback calls are async in the stdlib (or sqlx) code
	mu            sync.Mutex
	commitCount   int
	rollBackCount int
}

func (tx *fakeTx) Commit() error {
	tx.commitCount++
	defer tx.mu.Unlock()
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.rollBackCount++
	tx.mu.Unlock()
	return nil
}
