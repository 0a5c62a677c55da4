package users

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/db"
)

// fakeDriver serves canned rows keyed by a fragment of the SQL.
type fakeDriver struct {
	rows    map[string][]db.Row
	execErr error
	lastSQL string
}

func (f *fakeDriver) Backend() db.Backend           { return db.BackendPostgres }
func (f *fakeDriver) Capabilities() db.Capabilities { return db.Capabilities{Execute: true} }

func (f *fakeDriver) Execute(_ context.Context, sql string, _ map[string]interface{},
	returnRows bool) ([]db.Row, error) {

	f.lastSQL = sql
	if f.execErr != nil {
		return nil, f.execErr
	}
	if !returnRows {
		return nil, nil
	}
	for frag, rows := range f.rows {
		if strings.Contains(sql, frag) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeDriver) Transaction(context.Context) (db.Tx, error) { return nil, nil }
func (f *fakeDriver) WithTransaction(ctx context.Context, fn func(context.Context, db.Querier) error) error {
	return fn(ctx, nil)
}
func (f *fakeDriver) Middleware() gin.HandlerFunc    { return func(c *gin.Context) { c.Next() } }
func (f *fakeDriver) Shutdown(context.Context) error { return nil }

func userRow(id int64, name, email string) db.Row {
	return db.NewRow(
		[]string{"id", "name", "email"},
		[]interface{}{id, []byte(name), []byte(email)},
	)
}

func TestStore_List(t *testing.T) {
	drv := &fakeDriver{rows: map[string][]db.Row{
		"ORDER BY id": {
			userRow(1, "John Doe", "john@example.com"),
			userRow(2, "Jane Smith", "jane@example.com"),
			userRow(3, "Bob Johnson", "bob@example.com"),
		},
	}}
	s := NewStore(db.New(drv))

	us, err := s.List(context.Background())
	assert.NilError(t, err)
	assert.Check(t, cmp.DeepEqual(us, []User{
		{ID: 1, Name: "John Doe", Email: "john@example.com"},
		{ID: 2, Name: "Jane Smith", Email: "jane@example.com"},
		{ID: 3, Name: "Bob Johnson", Email: "bob@example.com"},
	}))
}

func TestStore_ByID(t *testing.T) {
	drv := &fakeDriver{rows: map[string][]db.Row{
		"WHERE id = :id": {userRow(2, "Jane Smith", "jane@example.com")},
	}}
	s := NewStore(db.New(drv))

	u, err := s.ByID(context.Background(), 2)
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(u.Email, "jane@example.com"))
}

func TestStore_ByID_NotFound(t *testing.T) {
	drv := &fakeDriver{}
	s := NewStore(db.New(drv))

	_, err := s.ByID(context.Background(), 99)
	assert.Check(t, errors.Is(err, ErrNotFound))
}

func TestStore_Add(t *testing.T) {
	drv := &fakeDriver{rows: map[string][]db.Row{
		"RETURNING id": {db.NewRow([]string{"id"}, []interface{}{int64(4)})},
	}}
	s := NewStore(db.New(drv))

	id, err := s.Add(context.Background(), "Ana", "ana@example.com")
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(id, int64(4)))
}

func TestStore_Delete_NotFound(t *testing.T) {
	drv := &fakeDriver{execErr: db.ErrNop}
	s := NewStore(db.New(drv))

	err := s.Delete(context.Background(), 99)
	assert.Check(t, errors.Is(err, ErrNotFound))
}
