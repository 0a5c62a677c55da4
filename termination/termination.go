package termination

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korthq/bx/o11y"
)

var ErrTerminated = errors.New("terminated")

// Handle blocks until the process receives SIGINT or SIGTERM, waits delay to
// give load balancers a chance to drain, then returns ErrTerminated. It
// returns nil if ctx is cancelled first.
func Handle(ctx context.Context, delay time.Duration) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		o11y.Log(ctx, "termination: signal received",
			o11y.Field("signal", sig.String()),
			o11y.Field("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return ErrTerminated
	case <-ctx.Done():
		return nil
	}
}
