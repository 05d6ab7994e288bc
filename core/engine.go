// Package core runs a test from setup to teardown and ties the scheduler,
// the metrics processing and the outputs together.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/executor"
	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/metrics/engine"
	"github.com/liuxd6825/loadrun/output"
	"github.com/liuxd6825/loadrun/output/summary"
	"github.com/liuxd6825/loadrun/runner"
)

// RunnerFactory builds the runner of a test. The VUs must push their
// samples to the pushers that samples returns.
type RunnerFactory func(samples runner.SamplePusherFactory) (lib.Runner, error)

// The Engine is the beating heart of loadrun.
type Engine struct {
	test     *lib.TestRun
	config   executor.RampingVUsConfig
	runner   lib.Runner
	executor *executor.RampingVUs
	metrics  *engine.MetricsEngine
	outputs  *output.Manager
	logger   logrus.FieldLogger
}

// NewEngine validates the ramp, builds the runner and prepares the metrics
// processing. Nothing runs until Run is called.
func NewEngine(test *lib.TestRun, newRunner RunnerFactory, outputs []output.Output) (*Engine, error) {
	config := executor.NewRampingVUsConfig(test.Options)
	if errs := config.Validate(); len(errs) > 0 {
		return nil, errext.WithExitCodeIfNone(consolidateErrors("the ramp is invalid", errs), exitcodes.InvalidConfig)
	}

	e := &Engine{
		test:    test,
		config:  config,
		outputs: output.NewManager(outputs, test.Logger),
		logger:  test.Logger.WithField("component", "engine"),
	}

	// Custom metrics are registered by the runner, so it has to exist
	// before the thresholds can be attached to them.
	r, err := newRunner(e.samplePusher)
	if err != nil {
		return nil, err
	}
	e.runner = r

	if e.metrics, err = engine.NewMetricsEngine(test); err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	e.executor = executor.NewRampingVUs(config, test, r, e.samplePusher(0))
	return e, nil
}

func consolidateErrors(msg string, errs []error) error {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = "\t- " + err.Error()
	}
	return fmt.Errorf("%s:\n%s", msg, strings.Join(lines, "\n"))
}

// samplePusher sends the samples of a VU to its collector shard and to the
// outputs.
func (e *Engine) samplePusher(vuID uint64) metrics.SamplePusher {
	return metrics.PusherFunc(func(containers ...metrics.SampleContainer) {
		e.metrics.Pusher(vuID).PushSamples(containers...)
		e.outputs.PushSamples(containers...)
	})
}

// Config returns the ramp configuration.
func (e *Engine) Config() executor.RampingVUsConfig {
	return e.config
}

// TestRun returns the test run the engine runs.
func (e *Engine) TestRun() *lib.TestRun {
	return e.test
}

// Outputs returns the outputs of the run.
func (e *Engine) Outputs() []output.Output {
	return e.outputs.Outputs()
}

// HTTPFailureRate returns the http_req_failed rate of the requests made
// within [from, to), at one second resolution, and their count.
func (e *Engine) HTTPFailureRate(from, to time.Time) (rate float64, requests int64) {
	return e.metrics.Collector().RateWindow(e.test.BuiltinMetrics.HTTPReqFailed, from, to)
}

// Executor returns the VU scheduler.
func (e *Engine) Executor() *executor.RampingVUs {
	return e.executor
}

// Run runs the test to the end: setup, the ramp, then teardown. Cancelling
// ctx stops the ramp the way a failed abortOnFail threshold does: no new
// iterations start and the running ones finish.
//
// The summary is returned even when the run fails or is aborted; it is nil
// only when the outputs couldn't be started or the summary couldn't be
// built. The error carries the exit code of the run.
func (e *Engine) Run(ctx context.Context) (*summary.Summary, error) {
	thresholds := make(map[string]metrics.Thresholds)
	for _, m := range e.metrics.MetricsWithThresholds() {
		thresholds[m.Name] = m.Thresholds
	}
	e.outputs.SetThresholds(thresholds)

	stopOutputs, err := e.outputs.Start()
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.GenericEngine)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	var (
		interrupt     error
		interruptOnce sync.Once
	)
	abortRun := func(err error) {
		interruptOnce.Do(func() { interrupt = err })
		runCancel()
	}
	finalizeThresholds := e.metrics.StartThresholdCalculations(abortRun)

	runErr := e.run(runCtx)
	// No evaluation runs after finalize, so interrupt is settled.
	breached := finalizeThresholds()

	err = e.result(ctx, runErr, interrupt, breached)
	if serr := stopOutputs(err); serr != nil {
		e.logger.WithError(serr).Error("Stopping the outputs failed")
	}

	state := summary.StateFinished
	if interrupt != nil || ctx.Err() != nil || runErr != nil {
		state = summary.StateAborted
	}
	observed := e.metrics.ObservedMetrics()
	e.warnIfNoIterations(observed)

	s, serr := summary.New(e.test, state, ExitCode(err), observed)
	if serr != nil {
		e.logger.WithError(serr).Error("Building the end-of-test summary failed")
		if err == nil {
			err = errext.WithExitCodeIfNone(serr, exitcodes.InvalidConfig)
		}
	}
	return s, err
}

// run executes setup, the ramp and teardown. Teardown runs whenever setup
// succeeded, even if the ramp was interrupted.
func (e *Engine) run(ctx context.Context) error {
	e.logger.Debug("Running setup...")
	if err := e.runner.Setup(ctx); err != nil {
		return err
	}

	e.test.MarkStarted(time.Now())
	e.logger.WithField("description", e.config.Description()).Debug("Starting the ramp...")
	runErr := e.executor.Run(ctx)
	e.test.MarkEnded(time.Now())
	e.logger.WithError(runErr).Debug("The ramp has ended")

	if err := e.runner.Teardown(context.WithoutCancel(ctx)); err != nil {
		if runErr == nil {
			return err
		}
		e.logger.WithError(err).Error("Teardown failed")
	}
	return runErr
}

// result decides the outcome of the run. A failure of the run itself wins
// over an interruption, which wins over failed thresholds.
func (e *Engine) result(ctx context.Context, runErr, interrupt error, breached []string) error {
	switch {
	case runErr != nil:
		return errext.WithExitCodeIfNone(runErr, exitcodes.GenericEngine)
	case interrupt != nil:
		return interrupt
	case ctx.Err() != nil:
		return &errext.InterruptError{Reason: errext.AbortSignal, Code: exitcodes.ExternalAbort}
	case len(breached) > 0:
		sort.Strings(breached)
		return errext.WithExitCodeIfNone(
			fmt.Errorf("thresholds on metrics '%s' have been crossed", strings.Join(breached, "', '")),
			exitcodes.ThresholdsHaveFailed,
		)
	default:
		return nil
	}
}

func (e *Engine) warnIfNoIterations(observed []engine.ObservedMetric) {
	for _, om := range observed {
		if om.Metric == e.test.BuiltinMetrics.Iterations {
			if sink, ok := om.Sink.(*metrics.CounterSink); ok && sink.Value > 0 {
				return
			}
		}
	}
	e.logger.Warn("No iterations finished, consider making the test duration longer")
}

// ExitCode returns the process exit code for the error of a run.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ecErr errext.HasExitCode
	if errors.As(err, &ecErr) {
		return int(ecErr.ExitCode())
	}
	return int(exitcodes.GenericEngine)
}
