// Package json writes every sample of a run as a line of JSON, to stdout or
// to an optionally gzipped file.
package json

import (
	stdlibjson "encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

const flushPeriod = 200 * time.Millisecond

// Output funnels all passed metrics to an (optionally gzipped) JSON file.
type Output struct {
	output.SampleBuffer

	params          output.Params
	periodicFlusher *output.PeriodicFlusher

	logger      logrus.FieldLogger
	filename    string
	encoder     *stdlibjson.Encoder
	closeFn     func() error
	seenMetrics map[string]struct{}
	thresholds  map[string]metrics.Thresholds
}

var _ output.WithThresholds = &Output{}

// New returns a new JSON output.
func New(params output.Params) (output.Output, error) {
	return &Output{
		params:   params,
		filename: params.ConfigArgument,
		logger: params.Logger.WithFields(logrus.Fields{
			"output":   "json",
			"filename": params.ConfigArgument,
		}),
		seenMetrics: make(map[string]struct{}),
	}, nil
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	if o.filename == "" || o.filename == "-" {
		return "json (stdout)"
	}
	return fmt.Sprintf("json (%s)", o.filename)
}

// Start opens the file, wrapping it in gzip for .gz names, and starts the
// goroutine for metric flushing.
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	var w io.Writer
	if o.filename == "" || o.filename == "-" {
		w = o.params.StdOut
		o.closeFn = func() error { return nil }
	} else {
		logfile, err := o.params.FS.Create(o.filename)
		if err != nil {
			return fmt.Errorf("creating %q: %w", o.filename, err)
		}
		w, o.closeFn = logfile, logfile.Close
		if strings.HasSuffix(o.filename, ".gz") {
			gz := gzip.NewWriter(logfile)
			w = gz
			o.closeFn = func() error {
				if err := gz.Close(); err != nil {
					_ = logfile.Close()
					return err
				}
				return logfile.Close()
			}
		}
	}
	o.encoder = stdlibjson.NewEncoder(w)
	o.encoder.SetEscapeHTML(false)

	pf, err := output.NewPeriodicFlusher(flushPeriod, o.flushMetrics)
	if err != nil {
		return err
	}
	o.logger.Debug("Started!")
	o.periodicFlusher = pf

	return nil
}

// Stop flushes any remaining metrics and closes the file.
func (o *Output) Stop() error {
	o.logger.Debug("Stopping...")
	defer o.logger.Debug("Stopped!")
	o.periodicFlusher.Stop()
	return o.closeFn()
}

// SetThresholds receives the thresholds before the output is started.
func (o *Output) SetThresholds(thresholds map[string]metrics.Thresholds) {
	o.thresholds = thresholds
}

func (o *Output) flushMetrics() {
	samples := o.GetBufferedSamples()
	start := time.Now()
	var count int
	for _, sc := range samples {
		samples := sc.GetSamples()
		count += len(samples)
		for _, sample := range samples {
			o.handleMetric(sample.Metric)
			if err := o.encoder.Encode(wrapSample(sample)); err != nil {
				o.logger.WithError(err).Error("Sample couldn't be marshalled to JSON")
			}
		}
	}
	if count > 0 {
		o.logger.WithField("t", time.Since(start)).WithField("count", count).Debug("Wrote metrics to JSON")
	}
}

func (o *Output) handleMetric(m *metrics.Metric) {
	if _, ok := o.seenMetrics[m.Name]; ok {
		return
	}
	o.seenMetrics[m.Name] = struct{}{}

	if err := o.encoder.Encode(wrapMetric(m, o.thresholds[m.Name])); err != nil {
		o.logger.WithError(err).Error("Metric couldn't be marshalled to JSON")
	}
}
