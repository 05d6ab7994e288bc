// Package statsd sends the samples of a run to a statsd daemon, with
// optional DogStatsD tags.
package statsd

import (
	"fmt"
	"sort"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

// New creates a new statsd output.
func New(params output.Params) (output.Output, error) {
	return newOutput(params)
}

func newOutput(params output.Params) (*Output, error) {
	conf, err := getConsolidatedConfig(params.Environment, params.ConfigArgument)
	if err != nil {
		return nil, err
	}
	blocklist := make(map[string]bool, len(conf.TagBlocklist))
	for _, tag := range conf.TagBlocklist {
		blocklist[tag] = true
	}
	return &Output{
		config:    conf,
		blocklist: blocklist,
		logger:    params.Logger.WithFields(logrus.Fields{"output": "statsd"}),
	}, nil
}

var _ output.Output = &Output{}

// Output sends the samples to a statsd daemon.
type Output struct {
	output.SampleBuffer

	periodicFlusher *output.PeriodicFlusher

	config    config
	blocklist map[string]bool

	logger logrus.FieldLogger
	client *statsd.Client
}

// processTags turns the tags that aren't blocklisted into sorted name:value
// pairs.
func processTags(blocklist map[string]bool, tags map[string]string) []string {
	res := make([]string, 0, len(tags))
	for key, value := range tags {
		if value != "" && !blocklist[key] {
			res = append(res, key+":"+value)
		}
	}
	sort.Strings(res)
	return res
}

func (o *Output) dispatch(entry metrics.Sample) error {
	var tagList []string
	if o.config.EnableTags.Bool && entry.Tags != nil {
		tagList = processTags(o.blocklist, entry.Tags.Map())
	}

	switch entry.Metric.Type {
	case metrics.Counter:
		return o.client.Count(entry.Metric.Name, int64(entry.Value), tagList, 1)
	case metrics.Trend:
		return o.client.TimeInMilliseconds(entry.Metric.Name, entry.Value, tagList, 1)
	case metrics.Gauge:
		return o.client.Gauge(entry.Metric.Name, entry.Value, tagList, 1)
	case metrics.Rate:
		if entry.Tags != nil {
			if check, ok := entry.Tags.Get(metrics.TagCheck); ok {
				return o.client.Count(checkToString(check, entry.Value), 1, tagList, 1)
			}
		}
		return o.client.Count(entry.Metric.Name, int64(entry.Value), tagList, 1)
	default:
		return fmt.Errorf("unsupported metric type %s", entry.Metric.Type)
	}
}

func checkToString(check string, value float64) string {
	label := "pass"
	if value == 0 {
		label = "fail"
	}
	return "check." + check + "." + label
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	return fmt.Sprintf("statsd (%s)", o.config.Addr.String)
}

// Start opens the UDP client and starts the goroutine for metric flushing.
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	var err error
	o.client, err = statsd.NewBuffered(o.config.Addr.String, int(o.config.BufferSize.Int64))
	if err != nil {
		return fmt.Errorf("couldn't make a buffered statsd client: %w", err)
	}
	o.client.Namespace = o.config.Namespace.String

	pf, err := output.NewPeriodicFlusher(o.config.PushInterval.TimeDuration(), o.flushMetrics)
	if err != nil {
		_ = o.client.Close()
		return err
	}
	o.logger.Debug("Started!")
	o.periodicFlusher = pf

	return nil
}

// Stop flushes any remaining metrics and closes the client.
func (o *Output) Stop() error {
	o.logger.Debug("Stopping...")
	defer o.logger.Debug("Stopped!")
	o.periodicFlusher.Stop()
	return o.client.Close()
}

func (o *Output) flushMetrics() {
	samples := o.GetBufferedSamples()
	start := time.Now()
	var count, errorCount int
	for _, sc := range samples {
		samples := sc.GetSamples()
		count += len(samples)
		for _, entry := range samples {
			if err := o.dispatch(entry); err != nil {
				o.logger.WithError(err).Debugf("Error while sending metric %s", entry.Metric.Name)
				errorCount++
			}
		}
	}

	if count == 0 {
		return
	}
	if errorCount != 0 {
		o.logger.Warnf("Couldn't send %d out of %d metrics. Enable verbose logging with --verbose to see individual errors",
			errorCount, count)
	}
	if err := o.client.Flush(); err != nil {
		o.logger.WithError(err).Error("Couldn't flush a batch")
	}
	o.logger.WithField("t", time.Since(start)).WithField("count", count).Debug("Wrote metrics to statsd")
}
