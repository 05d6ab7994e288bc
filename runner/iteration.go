package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/lib/netext/httpext"
	"github.com/liuxd6825/loadrun/metrics"
)

// ErrAbortIteration ends the current iteration early when returned, possibly
// wrapped, from a group or the Default function. Other errors returned from
// a group are logged and the iteration goes on.
var ErrAbortIteration = errors.New("iteration aborted")

// CheckFunc is a single named check of a response.
type CheckFunc func(res *httpext.Response) bool

// Iteration is the API of a single iteration of a VU. It must not be used
// after Default has returned, nor from other goroutines.
type Iteration struct {
	ctx   context.Context //nolint:containedctx
	vu    *VU
	state *lib.State
}

// Context returns the context of the iteration, or of the current group.
func (it *Iteration) Context() context.Context {
	return it.ctx
}

// VUID returns the id of the VU running the iteration.
func (it *Iteration) VUID() uint64 {
	return it.state.VUID
}

// Number returns the 0-based number of the iteration within its VU.
func (it *Iteration) Number() int64 {
	return it.state.Iteration
}

// Logger returns a logger with the vu and iter fields set.
func (it *Iteration) Logger() logrus.FieldLogger {
	return it.state.Logger
}

// Data returns the result of the scenario's Setup.
func (it *Iteration) Data() interface{} {
	return it.vu.runner.setupData
}

// GroupPath returns the path of the current group, "" outside of groups.
func (it *Iteration) GroupPath() string {
	return it.state.Group.Path
}

// Group runs fn in the named child group of the current one. Requests,
// checks and custom samples of fn are tagged with the group's path, and its
// duration is emitted as group_duration.
//
// Errors and panics of fn are logged and contained, so the iteration
// continues after the group. Only errors wrapping ErrAbortIteration are
// returned.
func (it *Iteration) Group(name string, fn func(it *Iteration) error) error {
	state := it.state
	group, err := state.Group.Group(name)
	if err != nil {
		return fmt.Errorf("group %q: %w", name, err)
	}

	oldGroup, oldCtx := state.Group, it.ctx
	state.Group = group
	defer func() {
		state.Group, it.ctx = oldGroup, oldCtx
	}()

	var span trace.Span
	if state.Tracer != nil {
		it.ctx, span = state.Tracer.Start(it.ctx, "group "+name,
			trace.WithAttributes(attribute.String("loadrun.group", group.Path)))
		defer span.End()
	}

	startTime := time.Now()
	err = runGroupFn(it, fn)
	endTime := time.Now()

	tags := state.Tags.With(metrics.TagGroup, group.Path)
	state.PushSample(state.BuiltinMetrics.GroupDuration.Sample(endTime, tags, metrics.D(endTime.Sub(startTime))))

	if err == nil {
		return nil
	}
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if errors.Is(err, ErrAbortIteration) {
		return err
	}
	state.Logger.WithField("group", group.Path).WithError(err).Warn("Group failed")
	return nil
}

func runGroupFn(it *Iteration, fn func(*Iteration) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			it.state.Logger.Debugf("panic stack: %s", debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(it)
}

// Request makes an HTTP request through the VU's transport. It never fails:
// transport errors, and even invalid URLs, are reported in the Response's
// Error and ErrorCode with a 0 status.
func (it *Iteration) Request(method, url string, params *httpext.Params) *httpext.Response {
	state := it.state
	preq, err := httpext.NewParsedHTTPRequest(it.ctx, state, method, url, params)
	if err == nil {
		var res *httpext.Response
		if res, err = httpext.MakeRequest(it.ctx, state, preq); err == nil {
			return res
		}
	}

	code, msg := httpext.ClassifyError(err)
	state.Logger.WithFields(logrus.Fields{
		"url": url, "method": method, "error_code": code,
	}).WithError(err).Warn("Request couldn't be sent")
	return &httpext.Response{
		URL:       url,
		Error:     msg,
		ErrorCode: int(code),
		Request:   httpext.Request{Method: method, URL: url},
	}
}

// Get is a shorthand for a GET Request.
func (it *Iteration) Get(url string, params *httpext.Params) *httpext.Response {
	return it.Request(http.MethodGet, url, params)
}

// Post is a shorthand for a POST Request with the given body.
func (it *Iteration) Post(url string, body []byte, params *httpext.Params) *httpext.Response {
	if params == nil {
		params = &httpext.Params{}
	}
	p := *params
	p.Body = bytes.Clone(body)
	return it.Request(http.MethodPost, url, &p)
}

// Check runs the checks against res in name order and emits a checks
// sample for each, tagged with its name and the current group. A check that
// panics, e.g. on a nil body, fails. Check reports whether all of them
// passed.
func (it *Iteration) Check(res *httpext.Response, checks map[string]CheckFunc) bool {
	state := it.state
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	groupTags := state.Tags.With(metrics.TagGroup, state.Group.Path)
	allPassed := true
	for _, name := range names {
		passed := runCheck(checks[name], res)
		if check, err := state.Group.Check(name); err != nil {
			state.Logger.WithError(err).Warnf("Invalid check name %q", name)
			passed = false
		} else {
			check.Record(passed)
		}

		value := 0.0
		if passed {
			value = 1
		} else {
			allPassed = false
		}
		state.PushSample(state.BuiltinMetrics.Checks.Sample(now, groupTags.With(metrics.TagCheck, name), value))
	}
	return allPassed
}

func runCheck(fn CheckFunc, res *httpext.Response) (passed bool) {
	defer func() {
		if recover() != nil {
			passed = false
		}
	}()
	return fn != nil && fn(res)
}

// Sleep suspends the VU, and only it, for d.
func (it *Iteration) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-it.ctx.Done():
	}
}

// Metric returns the custom metric with the given name, registering it if
// needed. Metrics used in thresholds should be declared in Scenario.Metrics
// instead, so that they exist before the run starts.
func (it *Iteration) Metric(name string, typ metrics.MetricType, contains ...metrics.ValueType) (*metrics.Metric, error) {
	return it.vu.runner.test.Registry.NewMetric(name, typ, contains...)
}

// AddSample pushes a sample of a custom metric, tagged like the requests of
// the current group plus the given tags.
func (it *Iteration) AddSample(metric *metrics.Metric, value float64, tags ...map[string]string) {
	state := it.state
	ts := state.Tags.With(metrics.TagGroup, state.Group.Path)
	for _, m := range tags {
		ts = ts.WithTagsFromMap(m)
	}
	state.PushSample(metric.Sample(time.Now(), ts, value))
}
