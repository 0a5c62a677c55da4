package main

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/config"
	"github.com/korthq/bx/db"
	"github.com/korthq/bx/system"
	"github.com/korthq/bx/testing/testcontext"
)

func TestLoadDB_EnvOverridesFileConfig(t *testing.T) {
	ctx := testcontext.Background()
	sys := system.New(ctx)
	defer sys.Cleanup(ctx)

	path := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("SQLITE_PATH", path)

	cfg := config.New(map[string]interface{}{
		"db": map[string]interface{}{
			"backend": "sqlite",
			"sqlite":  map[string]interface{}{"path": "ignored.db"},
		},
	})

	d, err := loadDB(ctx, cfg, sys)
	assert.NilError(t, err)
	defer d.Shutdown(ctx)

	assert.Check(t, cmp.Equal(d.Backend(), db.BackendSQLite))

	// The driver opened the env supplied file, not the one from the config.
	_, err = os.Stat(path)
	assert.NilError(t, err)
}

func TestLoadDB_BadEnvValue(t *testing.T) {
	ctx := testcontext.Background()
	sys := system.New(ctx)
	defer sys.Cleanup(ctx)

	t.Setenv("SQLITE_WAL", "banana")

	cfg := config.New(map[string]interface{}{
		"db": map[string]interface{}{"backend": "sqlite"},
	})

	_, err := loadDB(ctx, cfg, sys)
	assert.Check(t, cmp.ErrorContains(err, "SQLITE_WAL"))
}
