package output

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/loadrun/metrics"
)

// Manager fans the samples of a run out to a list of outputs.
type Manager struct {
	outputs []Output
	logger  logrus.FieldLogger
}

var _ metrics.SamplePusher = &Manager{}

// NewManager returns a Manager for the outputs.
func NewManager(outputs []Output, logger logrus.FieldLogger) *Manager {
	return &Manager{
		outputs: outputs,
		logger:  logger.WithField("component", "output-manager"),
	}
}

// Outputs returns the managed outputs.
func (m *Manager) Outputs() []Output {
	return m.outputs
}

// SetThresholds hands the thresholds to the outputs that want them. It must
// be called before Start.
func (m *Manager) SetThresholds(thresholds map[string]metrics.Thresholds) {
	for _, out := range m.outputs {
		if thout, ok := out.(WithThresholds); ok {
			thout.SetThresholds(thresholds)
		}
	}
}

// Start starts the outputs in order. If one fails, the ones already started
// are stopped. The returned function stops all of them, and must be called
// once, after the last sample was added.
func (m *Manager) Start() (stop func(testRunErr error) error, err error) {
	for i, out := range m.outputs {
		if err := out.Start(); err != nil {
			m.stop(m.outputs[:i], err)
			return nil, fmt.Errorf("starting the %s output: %w", out.Description(), err)
		}
		m.logger.Debugf("Started output %s", out.Description())
	}
	return func(testRunErr error) error {
		return m.stop(m.outputs, testRunErr)
	}, nil
}

// stop stops the outputs concurrently and returns the first error.
func (m *Manager) stop(outputs []Output, testRunErr error) error {
	var g errgroup.Group
	for _, out := range outputs {
		out := out
		g.Go(func() error {
			var err error
			if sout, ok := out.(WithStopWithTestError); ok {
				err = sout.StopWithTestError(testRunErr)
			} else {
				err = out.Stop()
			}
			if err != nil {
				m.logger.WithError(err).Errorf("Stopping the %s output failed", out.Description())
				return fmt.Errorf("stopping the %s output: %w", out.Description(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// AddMetricSamples passes the samples to every output.
func (m *Manager) AddMetricSamples(samples []metrics.SampleContainer) {
	if len(samples) == 0 {
		return
	}
	for _, out := range m.outputs {
		out.AddMetricSamples(samples)
	}
}

// PushSamples implements metrics.SamplePusher.
func (m *Manager) PushSamples(containers ...metrics.SampleContainer) {
	m.AddMetricSamples(containers)
}
