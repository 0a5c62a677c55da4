// Package rundef configures recommended go runtime defaults, such as
// GOMEMLIMIT and GOMAXPROCS, to appropriate values for the detected
// environment.
package rundef

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/korthq/bx/o11y"
)

// Defaults applies all the runtime defaults.
func Defaults(ctx context.Context) (err error) {
	ctx, span := o11y.StartSpan(ctx, "rundef: defaults")
	defer o11y.End(span, &err)

	eg := errgroup.Group{}
	eg.Go(func() error {
		return MemLimit(ctx)
	})
	eg.Go(func() error {
		return MaxProcs(ctx)
	})

	return eg.Wait()
}
