package testcontext

import (
	"context"

	"github.com/korthq/bx/o11y"
	"github.com/korthq/bx/o11y/simple"
)

// ctx is a global singleton, initialised at package time to avoid racy
// initiation inside parallel tests.
var ctx = newContext()

// Background returns a context for use in tests which contains a working o11y,
// so you get logs.
func Background() context.Context {
	return ctx
}

func newContext() context.Context {
	p, err := simple.New(simple.Config{
		Service: "test-service",
		Mode:    "test",
	})
	if err != nil {
		panic(err)
	}
	return o11y.WithProvider(context.Background(), p)
}
