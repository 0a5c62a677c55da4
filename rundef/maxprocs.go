package rundef

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/korthq/bx/o11y"
)

// MaxProcs sets GOMAXPROCS based on the CPU quota of the process cgroup, with
// a minimum of one.
func MaxProcs(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "rundef: max procs")
	defer o11y.End(span, &err)

	_, err = maxprocs.Set(maxprocs.Min(1), maxprocs.Logger(func(s string, i ...interface{}) {
		o11y.Log(ctx, fmt.Sprintf("rundef: "+s, i...))
	}))
	if err != nil {
		return err
	}

	limit := runtime.GOMAXPROCS(0)

	span.AddField("limit", limit)
	return err
}
