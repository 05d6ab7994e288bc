package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/netext"
	"github.com/liuxd6825/loadrun/metrics"
)

// VU is a virtual user of a Runner.
type VU struct {
	id        uint64
	runner    *Runner
	dialer    *netext.Dialer
	transport *http.Transport
	state     *lib.State

	iteration int64
}

var _ lib.VU = &VU{}

func newVU(r *Runner, id uint64) (*VU, error) {
	dialer := netext.NewDialer()
	transport, err := netext.NewHTTPTransport(r.test.Options, dialer)
	if err != nil {
		return nil, fmt.Errorf("creating the HTTP transport: %w", err)
	}

	vu := &VU{
		id:        id,
		runner:    r,
		dialer:    dialer,
		transport: transport,
	}
	vu.state = &lib.State{
		Options:        r.test.Options,
		Logger:         r.logger.WithField("vu", id),
		Group:          r.test.RootGroup,
		Transport:      transport,
		RPSLimit:       r.rpsLimit,
		Samples:        r.samples(id),
		Tags:           r.baseTags,
		BuiltinMetrics: r.test.BuiltinMetrics,
		Tracer:         r.tracer,
		VUID:           id,
	}
	return vu, nil
}

// ID returns the VU id.
func (u *VU) ID() uint64 {
	return u.id
}

// RunOnce runs one iteration of the scenario and emits its iterations,
// iteration_duration, data_sent and data_received samples. An iteration
// ended with ErrAbortIteration is not an error.
func (u *VU) RunOnce(ctx context.Context) error {
	iter := u.iteration
	u.iteration++

	state := u.state
	state.Iteration = iter
	state.Group = u.runner.test.RootGroup
	state.Logger = u.runner.logger.WithFields(logrus.Fields{"vu": u.id, "iter": iter})

	var span trace.Span
	if state.Tracer != nil {
		ctx, span = state.Tracer.Start(ctx, "iteration", trace.WithAttributes(
			attribute.Int64("loadrun.vu", int64(u.id)),
			attribute.Int64("loadrun.iteration", iter),
		))
		defer span.End()
	}

	it := &Iteration{ctx: ctx, vu: u, state: state}
	startTime := time.Now()
	err := u.runDefault(it)
	endTime := time.Now()

	tags := state.Tags.With(metrics.TagGroup, u.runner.test.RootGroup.Path)
	state.Samples.PushSamples(
		u.dialer.GetTrail(endTime, state.BuiltinMetrics, tags),
		metrics.ConnectedSamples{
			Samples: []metrics.Sample{
				state.BuiltinMetrics.Iterations.Sample(endTime, tags, 1),
				state.BuiltinMetrics.IterationDuration.Sample(endTime, tags, metrics.D(endTime.Sub(startTime))),
			},
			Tags: tags,
			Time: endTime,
		},
	)

	if err == nil {
		return nil
	}
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if errors.Is(err, ErrAbortIteration) {
		state.Logger.WithError(err).Debug("Iteration aborted")
		return nil
	}
	return fmt.Errorf("iteration %d: %w", iter, err)
}

func (u *VU) runDefault(it *Iteration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			it.state.Logger.Debugf("panic stack: %s", debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return u.runner.scenario.Default(it)
}

// Close releases the idle connections of the VU.
func (u *VU) Close() {
	u.transport.CloseIdleConnections()
}
