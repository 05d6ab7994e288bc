// Package exitcodes contains the constants representing possible loadrun exit
// error codes.
package exitcodes

// ExitCode is just a type representing a process exit code for loadrun
type ExitCode uint8

// list of exit codes used by loadrun
const (
	ThresholdsHaveFailed ExitCode = 99
	GenericEngine        ExitCode = 103
	InvalidConfig        ExitCode = 104
	ExternalAbort        ExitCode = 105
	ScenarioException    ExitCode = 107
	ScenarioAborted      ExitCode = 108
	GoPanic              ExitCode = 109
)
