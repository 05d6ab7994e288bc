package lib

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/liuxd6825/loadrun/metrics"
)

// State provides the volatile state for a VU.
type State struct {
	// Global options.
	Options Options

	// Logger. Avoid using the global logger.
	Logger logrus.FieldLogger

	// Current group; all emitted metrics are tagged with this.
	Group *Group

	// Networking equipment. Each VU owns its Transport, so connections are
	// pooled per VU and never shared.
	Transport http.RoundTripper

	// Rate limits, shared by all VUs.
	RPSLimit *rate.Limiter

	// Where this VU's samples go.
	Samples metrics.SamplePusher

	// Tags added to every sample of this VU.
	Tags *metrics.TagSet

	BuiltinMetrics *metrics.BuiltinMetrics

	// Tracer for spans around iterations, groups and requests.
	Tracer trace.Tracer

	VUID      uint64
	Iteration int64
}

// PushSample is a shorthand for pushing a single sample.
func (s *State) PushSample(sample metrics.Sample) {
	s.Samples.PushSamples(sample)
}
