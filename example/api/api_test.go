package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/db"
	"github.com/korthq/bx/example/users"
	"github.com/korthq/bx/service"
	"github.com/korthq/bx/testing/testcontext"
)

type fakeDriver struct {
	rows []db.Row
}

func (f *fakeDriver) Backend() db.Backend           { return db.BackendPostgres }
func (f *fakeDriver) Capabilities() db.Capabilities { return db.Capabilities{Execute: true} }

func (f *fakeDriver) Execute(_ context.Context, sql string, _ map[string]interface{},
	returnRows bool) ([]db.Row, error) {

	if !returnRows {
		return nil, nil
	}
	if strings.Contains(sql, "ORDER BY id") {
		return f.rows, nil
	}
	return nil, nil
}

func (f *fakeDriver) Transaction(context.Context) (db.Tx, error) { return nil, nil }
func (f *fakeDriver) WithTransaction(ctx context.Context, fn func(context.Context, db.Querier) error) error {
	return fn(ctx, nil)
}
func (f *fakeDriver) Middleware() gin.HandlerFunc    { return func(c *gin.Context) { c.Next() } }
func (f *fakeDriver) Shutdown(context.Context) error { return nil }

func newTestRouter(t *testing.T, drv db.Driver) *gin.Engine {
	t.Helper()

	d := db.New(drv)
	a := New(Options{Store: users.NewStore(d)})

	r, err := service.NewRouter(testcontext.Background(), service.Config{
		Name:     "api-test",
		DB:       d,
		Register: func(r *gin.Engine) { a.Register(r) },
	})
	assert.NilError(t, err)
	return r
}

func TestAPI_ListUsers(t *testing.T) {
	r := newTestRouter(t, &fakeDriver{rows: []db.Row{
		db.NewRow([]string{"id", "name", "email"},
			[]interface{}{int64(1), "John Doe", "john@example.com"}),
		db.NewRow([]string{"id", "name", "email"},
			[]interface{}{int64(2), "Jane Smith", "jane@example.com"}),
	}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/users", nil))

	assert.Check(t, cmp.Equal(w.Code, http.StatusOK))
	assert.Check(t, cmp.Contains(w.Body.String(), `"name":"Jane Smith"`))
}

func TestAPI_GetUser_BadID(t *testing.T) {
	r := newTestRouter(t, &fakeDriver{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/users/banana", nil))

	assert.Check(t, cmp.Equal(w.Code, http.StatusBadRequest))
}

func TestAPI_GetUser_NotFound(t *testing.T) {
	r := newTestRouter(t, &fakeDriver{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/users/42", nil))

	assert.Check(t, cmp.Equal(w.Code, http.StatusNotFound))
}

func TestAPI_PostUser_Invalid(t *testing.T) {
	r := newTestRouter(t, &fakeDriver{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/users",
		strings.NewReader(`{"name": "No Email"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Check(t, cmp.Equal(w.Code, http.StatusBadRequest))
}
