package rundef

import (
	"runtime"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/korthq/bx/testing/testcontext"
)

func TestMaxProcs(t *testing.T) {
	orig := runtime.GOMAXPROCS(0)
	t.Cleanup(func() {
		runtime.GOMAXPROCS(orig)
	})

	// Checking the value this sets would mean recreating half of the library
	// to fetch the CPU quota, so just check it does not error or panic.
	err := MaxProcs(testcontext.Background())
	assert.NilError(t, err)
}
