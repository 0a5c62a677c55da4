// Package recontext provides a derived context which ignores the parent's
// deadline, timeout, and cancellation. It is used where work must outlive a
// cancelled request or run context, such as graceful shutdown.
package recontext

import (
	"context"
	"time"
)

// valueOnlyContext wraps another context and suppresses its deadline and
// cancellation, keeping only its values. The struct is never handed out
// directly; it is wrapped in a standard context carrying a fresh deadline so
// the derived context can not get stuck.
type valueOnlyContext struct{ context.Context }

// WithNewDeadline returns a derived context that ignores cancellation, deadline,
// and timeout of the parent context. To avoid stuck contexts, the new deadline
// is mandatory.
func WithNewDeadline(parent context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	return context.WithDeadline(&valueOnlyContext{parent}, deadline)
}

// WithNewTimeout returns a derived context that ignores cancellation, deadline,
// and timeout of the parent context. To avoid stuck contexts, the new timeout
// is mandatory.
func WithNewTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(&valueOnlyContext{parent}, timeout)
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }
