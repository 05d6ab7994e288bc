package errext

import (
	"errors"

	"github.com/liuxd6825/loadrun/errext/exitcodes"
)

// InterruptError is an error that halts the test run before the ramp plan
// finishes. The iterations that are running are still allowed to complete.
type InterruptError struct {
	Reason string
	Code   exitcodes.ExitCode
}

var _ HasExitCode = &InterruptError{}

// Error returns the reason of the interruption.
func (i *InterruptError) Error() string {
	return i.Reason
}

// ExitCode returns the status code used when the process exits.
func (i *InterruptError) ExitCode() exitcodes.ExitCode {
	if i.Code == 0 {
		return exitcodes.ScenarioAborted
	}
	return i.Code
}

// Reasons emitted for the known interruption sources.
const (
	AbortTest       = "test aborted"
	AbortThresholds = "thresholds on metrics have been crossed"
	AbortSignal     = "test run was stopped by an external signal"
)

// IsInterruptError returns true if err is *InterruptError.
func IsInterruptError(err error) bool {
	if err == nil {
		return false
	}
	var intErr *InterruptError
	return errors.As(err, &intErr)
}
