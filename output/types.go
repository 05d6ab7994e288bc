// Package output contains the interface that streaming outputs implement,
// the helpers most of them are built on, and the Manager that fans the
// samples of a run out to them.
package output

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
)

// Params contains all possible constructor parameters an output may need.
type Params struct {
	OutputType     string // --out $OutputType=$ConfigArgument, LOADRUN_OUT="$OutputType=$ConfigArgument"
	ConfigArgument string

	Logger         logrus.FieldLogger
	Environment    map[string]string
	StdOut         io.Writer
	FS             afero.Fs
	ScriptOptions  lib.Options
	RuntimeOptions lib.RuntimeOptions
}

// An Output abstracts the process of funneling samples to an external storage
// backend, such as a file or something like an InfluxDB instance.
//
// AddMetricSamples is called by every VU, so it must be safe for concurrent
// use and must not block; outputs buffer the samples with a SampleBuffer and
// flush them from their own goroutine.
type Output interface {
	// Returns a human-readable description of the output that will be shown
	// in the run banner.
	Description() string

	// Start is called before any sample is added and should be used for any
	// long initialization tasks, as well as for starting a goroutine to
	// asynchronously flush metrics to the output.
	Start() error

	AddMetricSamples(samples []metrics.SampleContainer)

	// Flush all remaining metrics and finalize the test run.
	Stop() error
}

// WithThresholds is an output that needs the thresholds of the run before it
// is started.
type WithThresholds interface {
	Output
	SetThresholds(map[string]metrics.Thresholds)
}

// WithStopWithTestError is an output that wants to know how the run ended.
// StopWithTestError is called instead of Stop; a nil error means the run
// finished normally.
type WithStopWithTestError interface {
	Output
	StopWithTestError(testRunErr error) error
}

// Constructor creates an output of one type.
type Constructor func(Params) (Output, error)
