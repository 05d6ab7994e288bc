// Package errext contains extensions for normal Go errors that are used in
// loadrun: attached exit codes, user hints and interruption markers.
package errext

import (
	"errors"

	"github.com/liuxd6825/loadrun/errext/exitcodes"
)

// HasExitCode is an error that decides the exit code of the process.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithExitCodeIfNone attaches code to err unless something in its chain
// already carries an exit code. A nil error stays nil.
func WithExitCodeIfNone(err error, code exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var existing HasExitCode
	if errors.As(err, &existing) {
		return err
	}
	return &exitCodeError{err: err, code: code}
}

type exitCodeError struct {
	err  error
	code exitcodes.ExitCode
}

var _ HasExitCode = &exitCodeError{}

func (e *exitCodeError) Error() string                { return e.err.Error() }
func (e *exitCodeError) Unwrap() error                { return e.err }
func (e *exitCodeError) ExitCode() exitcodes.ExitCode { return e.code }
