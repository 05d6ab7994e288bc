// Package csv writes every sample of a run as a CSV row, with one column per
// well-known tag and the rest of the tags folded into extra_tags.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/loadrun/metrics"
	"github.com/liuxd6825/loadrun/output"
)

// Output saves the samples to a CSV file, or to stdout.
type Output struct {
	output.SampleBuffer

	params          output.Params
	periodicFlusher *output.PeriodicFlusher

	logger    logrus.FieldLogger
	fname     string
	csvWriter *csv.Writer
	closeFn   func() error

	columns      []string
	row          []string
	saveInterval time.Duration
	timeFormat   TimeFormat
}

// New creates a new CSV output.
func New(params output.Params) (output.Output, error) {
	return newOutput(params)
}

func newOutput(params output.Params) (*Output, error) {
	config, err := GetConsolidatedConfig(params.Environment, params.ConfigArgument)
	if err != nil {
		return nil, err
	}
	timeFormat, err := TimeFormatString(config.TimeFormat.String)
	if err != nil {
		return nil, err
	}

	columns := append([]string(nil), DefaultColumns...)
	sort.Strings(columns)

	return &Output{
		params:       params,
		fname:        config.FileName.String,
		columns:      columns,
		row:          make([]string, 3+len(columns)+1),
		saveInterval: config.SaveInterval.TimeDuration(),
		timeFormat:   timeFormat,
		logger: params.Logger.WithFields(logrus.Fields{
			"output":   "csv",
			"filename": config.FileName.String,
		}),
	}, nil
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	if o.fname == "" || o.fname == "-" {
		return "csv (stdout)"
	}
	return fmt.Sprintf("csv (%s)", o.fname)
}

// Start opens the file, writes the header and starts the flushing goroutine.
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	var w io.Writer
	if o.fname == "" || o.fname == "-" {
		w = o.params.StdOut
		o.closeFn = func() error { return nil }
	} else {
		logFile, err := o.params.FS.Create(o.fname)
		if err != nil {
			return fmt.Errorf("creating %q: %w", o.fname, err)
		}
		w, o.closeFn = logFile, logFile.Close
		if strings.HasSuffix(o.fname, ".gz") {
			gz := gzip.NewWriter(logFile)
			w = gz
			o.closeFn = func() error {
				if err := gz.Close(); err != nil {
					_ = logFile.Close()
					return err
				}
				return logFile.Close()
			}
		}
	}
	o.csvWriter = csv.NewWriter(w)

	if err := o.csvWriter.Write(MakeHeader(o.columns)); err != nil {
		_ = o.closeFn()
		return fmt.Errorf("writing the CSV header: %w", err)
	}
	o.csvWriter.Flush()

	pf, err := output.NewPeriodicFlusher(o.saveInterval, o.flushMetrics)
	if err != nil {
		_ = o.closeFn()
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

// flushMetrics is only called from the flusher goroutine, so the writer and
// the row buffer are never shared.
func (o *Output) flushMetrics() {
	samples := o.GetBufferedSamples()
	if len(samples) == 0 {
		return
	}
	for _, sc := range samples {
		for _, sample := range sc.GetSamples() {
			sample := sample
			row := SampleToRow(&sample, o.columns, o.row, o.timeFormat)
			if err := o.csvWriter.Write(row); err != nil {
				o.logger.WithError(err).Error("Error writing a CSV row")
			}
		}
	}
	o.csvWriter.Flush()
	if err := o.csvWriter.Error(); err != nil {
		o.logger.WithError(err).Error("Error flushing the CSV rows")
	}
}

// MakeHeader creates the list of column names.
func MakeHeader(columns []string) []string {
	header := make([]string, 0, len(columns)+4)
	header = append(header, "metric_name", "timestamp", "metric_value")
	header = append(header, columns...)
	return append(header, "extra_tags")
}

// SampleToRow fills row with the sample. columns must be sorted, and row
// must have room for 3+len(columns)+1 cells.
func SampleToRow(sample *metrics.Sample, columns []string, row []string, timeFormat TimeFormat) []string {
	row[0] = sample.Metric.Name

	switch timeFormat {
	case TimeFormatRFC3339:
		row[1] = sample.Time.Format(time.RFC3339)
	default:
		row[1] = strconv.FormatInt(sample.Time.Unix(), 10)
	}

	row[2] = fmt.Sprintf("%f", sample.Value)

	var sampleTags map[string]string
	if sample.Tags != nil {
		sampleTags = sample.Tags.Map()
	}
	for i, tag := range columns {
		row[i+3] = sampleTags[tag]
	}

	extra := make([]string, 0, len(sampleTags))
	for tag, val := range sampleTags {
		if !isStringInSlice(columns, tag) {
			extra = append(extra, tag+"="+val)
		}
	}
	sort.Strings(extra)
	row[len(row)-1] = strings.Join(extra, "&")

	return row
}

func isStringInSlice(slice []string, str string) bool {
	index := sort.SearchStrings(slice, str)
	return index < len(slice) && slice[index] == str
}
