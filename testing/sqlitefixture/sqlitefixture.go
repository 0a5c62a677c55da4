// Package sqlitefixture creates a throwaway file backed SQLite database for a
// test, applies a schema and optional seed statements.
package sqlitefixture

import (
	"context"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/korthq/bx/db/sqlite"
)

type Fixture struct {
	Path   string
	Driver *sqlite.Driver
}

// Setup opens a database file under the test's temp directory and applies
// schema. The file is removed with the temp directory when the test ends.
func Setup(ctx context.Context, t testing.TB, schema string, seed ...string) *Fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	drv, err := sqlite.New(ctx, sqlite.Config{Path: path, WALMode: true})
	assert.NilError(t, err)

	h, err := drv.Open()
	assert.NilError(t, err)
	defer func() {
		assert.NilError(t, h.Close())
	}()

	_, err = h.ExecContext(ctx, schema)
	assert.NilError(t, err)
	for _, stmt := range seed {
		_, err = h.ExecContext(ctx, stmt)
		assert.NilError(t, err)
	}

	return &Fixture{Path: path, Driver: drv}
}
