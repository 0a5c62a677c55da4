package users_test

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/db"
	"github.com/korthq/bx/example/users"
	"github.com/korthq/bx/testing/sqlitefixture"
	"github.com/korthq/bx/testing/testcontext"
)

const usersSchema = `
CREATE TABLE users (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	name  TEXT NOT NULL,
	email TEXT NOT NULL
);`

// The embedded backend has no dispatched execution, so the store must work
// entirely through the handle the middleware scopes to the request.
func TestStore_SQLiteDirectHandle(t *testing.T) {
	ctx := testcontext.Background()
	fix := sqlitefixture.Setup(ctx, t, usersSchema,
		`INSERT INTO users (name, email) VALUES ('Jane Smith', 'jane@example.com')`,
	)

	store := users.NewStore(db.New(fix.Driver))

	// Scope a handle the way the middleware would for a request.
	h, err := fix.Driver.Open()
	assert.NilError(t, err)
	defer h.Close()
	ctx = db.WithConn(ctx, h)

	us, err := store.List(ctx)
	assert.NilError(t, err)
	assert.Check(t, cmp.DeepEqual(us, []users.User{
		{ID: 1, Name: "Jane Smith", Email: "jane@example.com"},
	}))

	u, err := store.ByID(ctx, 1)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(u.Email, "jane@example.com"))

	_, err = store.ByID(ctx, 42)
	assert.Check(t, errors.Is(err, users.ErrNotFound))

	id, err := store.Add(ctx, "John Doe", "john@example.com")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(id, int64(2)))

	u, err = store.ByID(ctx, id)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(u.Name, "John Doe"))

	assert.NilError(t, store.Delete(ctx, id))
	assert.Check(t, errors.Is(store.Delete(ctx, id), users.ErrNotFound))
}

func TestStore_SQLiteNoScopedHandle(t *testing.T) {
	ctx := testcontext.Background()
	fix := sqlitefixture.Setup(ctx, t, usersSchema)

	store := users.NewStore(db.New(fix.Driver))

	// Outside a request there is nothing on the context to query with.
	_, err := store.List(ctx)
	assert.Check(t, errors.Is(err, db.ErrNoConn))
}
