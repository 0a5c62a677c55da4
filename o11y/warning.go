package o11y

import "errors"

// sentinel warning to use with errors.Is in IsWarning
var errWarning = errors.New("")

// NewWarning will return a generic error that can be tested for warning.
// No two errors created with NewWarning will be tested as equal with Is.
func NewWarning(warn string) error {
	return &wrapWarnError{
		msg: warn,
		err: errWarning,
	}
}

// IsWarning returns true if any error in the chain is a warning.
func IsWarning(err error) bool {
	return errors.Is(err, errWarning)
}

// IsWarningNoUnwrap returns true if this specific error is the warning
// sentinel. It will not check wrapped errors, so is safe to use inside an
// error's own Is method.
func IsWarningNoUnwrap(err error) bool {
	return err == errWarning //nolint:errorlint
}

// wrapWarnError is a wrapping error to be tested for warning.
type wrapWarnError struct {
	msg string
	err error
}

func (e *wrapWarnError) Error() string {
	return e.msg
}

func (e *wrapWarnError) Unwrap() error {
	return e.err
}
