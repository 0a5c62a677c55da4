package db

import (
	"errors"

	"github.com/korthq/bx/o11y"
)

var (
	// ErrNotInitialized is returned by any dispatching operation invoked
	// before a backend driver has been constructed and activated.
	ErrNotInitialized = errors.New("database not initialized")

	// ErrUnsupported is returned when the active backend does not implement
	// the requested operation. Drivers wrap it with an explanatory message.
	ErrUnsupported = errors.New("operation not supported by this backend")

	// ErrQueryNotFound is returned by Execute for a name absent from the registry.
	ErrQueryNotFound = errors.New("query not registered")

	// ErrNoConn is returned when an operation needs the request scoped
	// connection and the context does not carry one.
	ErrNoConn = errors.New("no request-scoped database connection")

	// The following are mapped from backend native failures by the drivers.
	// Anything not recognised is propagated unwrapped so callers retain the
	// backend specific diagnostic detail.

	ErrNop         = o11y.NewWarning("no update or results")
	ErrConstrained = errors.New("violates constraints")
	ErrException   = errors.New("exception")
	ErrCanceled    = o11y.NewWarning("statement canceled")
	ErrBadConn     = o11y.NewWarning("bad connection")
)
