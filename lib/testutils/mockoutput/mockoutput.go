// Package mockoutput is an output for tests that keeps everything it is
// given in memory.
package mockoutput

import (
	"sync"

	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

// New exists so that the usage from tests avoids repetition, i.e. is
// mockoutput.New() instead of &mockoutput.MockOutput{}
func New() *MockOutput {
	return &MockOutput{}
}

// MockOutput can be used in tests to mock an actual output.
type MockOutput struct {
	mu         sync.Mutex
	samples    []metrics.Sample
	thresholds map[string]metrics.Thresholds
	runErr     error
	stopped    bool

	DescFn  func() string
	StartFn func() error
	StopFn  func() error
}

var (
	_ output.WithThresholds        = &MockOutput{}
	_ output.WithStopWithTestError = &MockOutput{}
)

// AddMetricSamples just saves the samples in memory.
func (mo *MockOutput) AddMetricSamples(scs []metrics.SampleContainer) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	for _, sc := range scs {
		mo.samples = append(mo.samples, sc.GetSamples()...)
	}
}

// Samples returns a copy of every sample added so far.
func (mo *MockOutput) Samples() []metrics.Sample {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return append([]metrics.Sample(nil), mo.samples...)
}

// Description calls the supplied DescFn callback, if available.
func (mo *MockOutput) Description() string {
	if mo.DescFn != nil {
		return mo.DescFn()
	}
	return "mock"
}

// Start calls the supplied StartFn callback, if available.
func (mo *MockOutput) Start() error {
	if mo.StartFn != nil {
		return mo.StartFn()
	}
	return nil
}

// Stop calls the supplied StopFn callback, if available.
func (mo *MockOutput) Stop() error {
	mo.mu.Lock()
	mo.stopped = true
	mo.mu.Unlock()
	if mo.StopFn != nil {
		return mo.StopFn()
	}
	return nil
}

// SetThresholds saves the thresholds of the run.
func (mo *MockOutput) SetThresholds(th map[string]metrics.Thresholds) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	mo.thresholds = th
}

// StopWithTestError saves the outcome of the run and stops the output.
func (mo *MockOutput) StopWithTestError(err error) error {
	mo.mu.Lock()
	mo.runErr = err
	mo.mu.Unlock()
	return mo.Stop()
}

// Thresholds returns what SetThresholds was called with.
func (mo *MockOutput) Thresholds() map[string]metrics.Thresholds {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.thresholds
}

// Stopped reports whether the output was stopped, and with which error.
func (mo *MockOutput) Stopped() (bool, error) {
	mo.mu.Lock()
	defer mo.mu.Unlock()
	return mo.stopped, mo.runErr
}

// Count returns how many samples of the named metric were added.
func (mo *MockOutput) Count(name string) int {
	n := 0
	for _, s := range mo.Samples() {
		if s.Metric.Name == name {
			n++
		}
	}
	return n
}
