// Package runner runs scenarios written as Go code. It implements lib.Runner:
// every VU owns its HTTP transport and runs the scenario's Default function
// as its iteration.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
	ltrace "github.com/liuxd6825/loadrun/lib/trace"
	"github.com/liuxd6825/loadrun/metrics"
)

// Scenario is a load test written in Go.
type Scenario struct {
	// Setup runs once before the ramp. Its result is passed to every
	// iteration and to Teardown as is; it is never copied.
	Setup func(ctx context.Context) (interface{}, error)

	// Default is the iteration of every VU.
	Default func(it *Iteration) error

	// Teardown runs once after every VU has finished.
	Teardown func(ctx context.Context, data interface{}) error

	// Custom metrics, registered before the run so that thresholds can
	// refer to them.
	Metrics []MetricDefinition
}

// MetricDefinition declares a custom metric.
type MetricDefinition struct {
	Name     string
	Type     metrics.MetricType
	Contains metrics.ValueType
}

// ErrNoDefault is returned for scenarios without a Default function.
var ErrNoDefault = errors.New("the scenario has no default function")

// SamplePusherFactory returns where the samples of a VU go. VU ids start at
// 1; 0 is used for setup and teardown.
type SamplePusherFactory func(vuID uint64) metrics.SamplePusher

// Runner is the lib.Runner of a Scenario.
type Runner struct {
	scenario Scenario
	test     *lib.TestRun
	samples  SamplePusherFactory
	tracer   trace.Tracer
	rpsLimit *rate.Limiter
	baseTags *metrics.TagSet
	logger   logrus.FieldLogger

	setupData interface{}
}

var _ lib.Runner = &Runner{}

// New returns a Runner for the scenario and registers its custom metrics in
// the test run's registry. A nil tracer provider disables the spans.
func New(
	test *lib.TestRun, scenario Scenario, samples SamplePusherFactory, tp trace.TracerProvider,
) (*Runner, error) {
	if scenario.Default == nil {
		return nil, errext.WithExitCodeIfNone(ErrNoDefault, exitcodes.InvalidConfig)
	}
	for _, def := range scenario.Metrics {
		if _, err := test.Registry.NewMetric(def.Name, def.Type, def.Contains); err != nil {
			return nil, errext.WithExitCodeIfNone(
				fmt.Errorf("registering the custom metric %q: %w", def.Name, err), exitcodes.InvalidConfig)
		}
	}

	r := &Runner{
		scenario: scenario,
		test:     test,
		samples:  samples,
		baseTags: test.Registry.RootTagSet().
			WithTagsFromMap(test.Options.RunTags).
			With(metrics.TagScenario, "default"),
		logger: test.Logger.WithField("component", "runner"),
	}
	if tp != nil {
		r.tracer = tp.Tracer(ltrace.TracerName)
	}
	if rps := test.Options.RPS; rps.Valid && rps.Int64 > 0 {
		r.rpsLimit = rate.NewLimiter(rate.Limit(rps.Int64), 1)
	}
	return r, nil
}

// Setup runs the scenario's Setup within the setupTimeout option and keeps
// its result for the iterations.
func (r *Runner) Setup(ctx context.Context) error {
	if r.scenario.Setup == nil {
		return nil
	}
	timeout := r.test.Options.SetupTimeout.TimeDuration()
	return r.runPart(ctx, "setup", timeout, func(ctx context.Context) error {
		data, err := r.scenario.Setup(ctx)
		if err == nil {
			r.setupData = data
		}
		return err
	})
}

// Teardown runs the scenario's Teardown within the teardownTimeout option.
func (r *Runner) Teardown(ctx context.Context) error {
	if r.scenario.Teardown == nil {
		return nil
	}
	timeout := r.test.Options.TeardownTimeout.TimeDuration()
	return r.runPart(ctx, "teardown", timeout, func(ctx context.Context) error {
		return r.scenario.Teardown(ctx, r.setupData)
	})
}

// SetupData returns the result of Setup.
func (r *Runner) SetupData() interface{} {
	return r.setupData
}

func (r *Runner) runPart(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = lib.DefaultSetupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, name)
		defer span.End()
	}

	r.logger.Debugf("Running %s()...", name)
	result := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				result <- errext.WithExitCodeIfNone(fmt.Errorf("%s() panicked: %v", name, p), exitcodes.GoPanic)
			}
		}()
		result <- fn(ctx)
	}()

	select {
	case err := <-result:
		if err != nil {
			return errext.WithExitCodeIfNone(fmt.Errorf("%s() failed: %w", name, err), exitcodes.ScenarioException)
		}
		return nil
	case <-ctx.Done():
		err := fmt.Errorf("%s() execution timed out after %s", name, timeout)
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s() was interrupted: %w", name, ctx.Err())
		}
		return errext.WithExitCodeIfNone(
			errext.WithHintf(err, "You can increase the time limit via the %sTimeout option", name),
			exitcodes.ScenarioException)
	}
}

// NewVU returns a VU with its own dialer and HTTP transport.
func (r *Runner) NewVU(_ context.Context, id uint64) (lib.VU, error) {
	return newVU(r, id)
}
