// Package influxdb pushes the samples of a run to an InfluxDB 1.x server, or
// to anything else speaking its HTTP or UDP line protocol API.
package influxdb

import (
	"fmt"
	"strconv"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

// Output is the InfluxDB output.
type Output struct {
	output.SampleBuffer

	Client    client.Client
	Config    Config
	BatchConf client.BatchPointsConfig

	params          output.Params
	periodicFlusher *output.PeriodicFlusher
	logger          logrus.FieldLogger
	fieldKinds      map[string]FieldKind
}

// New returns a new InfluxDB output.
func New(params output.Params) (output.Output, error) {
	return newOutput(params)
}

func newOutput(params output.Params) (*Output, error) {
	conf, err := GetConsolidatedConfig(params.Environment, params.ConfigArgument)
	if err != nil {
		return nil, err
	}
	if conf.PushInterval.TimeDuration() <= 0 {
		return nil, fmt.Errorf("influxdb's pushInterval must be positive, got %s", conf.PushInterval.Duration)
	}
	fieldKinds, err := MakeFieldKinds(conf)
	if err != nil {
		return nil, err
	}
	batchConf := MakeBatchConfig(conf)
	// NewBatchPoints is where the client validates the precision.
	if _, err := client.NewBatchPoints(batchConf); err != nil {
		return nil, fmt.Errorf("invalid influxdb configuration: %w", err)
	}
	cl, err := MakeClient(conf)
	if err != nil {
		return nil, err
	}
	return &Output{
		Client:     cl,
		Config:     conf,
		BatchConf:  batchConf,
		params:     params,
		fieldKinds: fieldKinds,
		logger: params.Logger.WithFields(logrus.Fields{
			"output": "InfluxDB",
			"db":     batchConf.Database,
		}),
	}, nil
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	return fmt.Sprintf("InfluxDB (%s, db %s)", o.Config.Addr.String, o.BatchConf.Database)
}

// Start tries to create the database and starts the flushing goroutine.
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	// Failing to create the database is usually harmless: the user may not
	// be an admin of an existing one, or the client may be a UDP one.
	res, err := o.Client.Query(client.NewQuery("CREATE DATABASE "+o.BatchConf.Database, "", ""))
	if err == nil && res != nil {
		err = res.Error()
	}
	if err != nil {
		o.logger.WithError(err).Debug("Couldn't create the database; most likely harmless")
	}

	pf, err := output.NewPeriodicFlusher(o.Config.PushInterval.TimeDuration(), o.flushMetrics)
	if err != nil {
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
	return o.Client.Close()
}

func (o *Output) extractTagsToValues(tags map[string]string, values map[string]interface{}) {
	for tag, kind := range o.fieldKinds {
		val, ok := tags[tag]
		if !ok {
			continue
		}
		var v interface{}
		var err error
		switch kind {
		case String:
			v = val
		case Bool:
			v, err = strconv.ParseBool(val)
		case Float:
			v, err = strconv.ParseFloat(val, 64)
		case Int:
			v, err = strconv.ParseInt(val, 10, 64)
		}
		if err == nil {
			values[tag] = v
		} else {
			values[tag] = val
		}
		delete(tags, tag)
	}
}

func (o *Output) batchFromSamples(containers []metrics.SampleContainer) (client.BatchPoints, error) {
	batch, err := client.NewBatchPoints(o.BatchConf)
	if err != nil {
		return nil, fmt.Errorf("couldn't make a batch: %w", err)
	}

	type cacheItem struct {
		tags   map[string]string
		values map[string]interface{}
	}
	cache := map[*metrics.TagSet]cacheItem{}
	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			var tags map[string]string
			values := make(map[string]interface{})
			if cached, ok := cache[sample.Tags]; ok {
				tags = cached.tags
				for k, v := range cached.values {
					values[k] = v
				}
			} else {
				tags = make(map[string]string)
				if sample.Tags != nil {
					tags = sample.Tags.Map()
				}
				o.extractTagsToValues(tags, values)
				cached := cacheItem{tags: tags, values: make(map[string]interface{}, len(values))}
				for k, v := range values {
					cached.values[k] = v
				}
				cache[sample.Tags] = cached
			}
			values["value"] = sample.Value
			p, err := client.NewPoint(sample.Metric.Name, tags, values, sample.Time)
			if err != nil {
				return nil, fmt.Errorf("couldn't make a point from a %s sample: %w", sample.Metric.Name, err)
			}
			batch.AddPoint(p)
		}
	}
	return batch, nil
}

// Format returns the samples in the InfluxDB line protocol.
func (o *Output) Format(containers []metrics.SampleContainer) ([]string, error) {
	batch, err := o.batchFromSamples(containers)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(batch.Points()))
	for _, point := range batch.Points() {
		lines = append(lines, point.String())
	}
	return lines, nil
}

func (o *Output) flushMetrics() {
	samples := o.GetBufferedSamples()
	if len(samples) == 0 {
		return
	}

	batch, err := o.batchFromSamples(samples)
	if err != nil {
		o.logger.WithError(err).Error("Couldn't build the batch")
		return
	}

	o.logger.WithField("points", len(batch.Points())).Debug("Writing...")
	startTime := time.Now()
	if err := o.Client.Write(batch); err != nil {
		o.logger.WithError(err).Error("Couldn't write stats")
		return
	}
	o.logger.WithField("t", time.Since(startTime)).Debug("Batch written!")
}
