package lib

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib/consts"
	"github.com/liuxd6825/loadrun/lib/types"
	"github.com/liuxd6825/loadrun/metrics"
)

// DefaultSummaryTrendStats are the default trend columns shown in the test summary output
var DefaultSummaryTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"} //nolint:gochecknoglobals

// Defaults for the options that are not explicitly configured.
const (
	DefaultSchedulerTick      = 100 * time.Millisecond
	MaxSchedulerTick          = time.Second
	DefaultThresholdsInterval = time.Second
	DefaultRequestTimeout     = 60 * time.Second
	DefaultSetupTimeout       = 60 * time.Second
	DefaultTeardownTimeout    = 60 * time.Second
	DefaultMaxRedirects       = 10
	DefaultUserAgent          = "loadrun/" + consts.Version + " (https://github.com/liuxd6825/loadrun)"
)

// Options are the consolidated settings of a test run. Every field is
// nullable so that configuration tiers can be layered with Apply.
type Options struct {
	// The VU ramp.
	Stages []Stage `json:"stages" envconfig:"LOADRUN_STAGES"`

	// How often the scheduler reconciles the running VUs with the ramp.
	SchedulerTick types.NullDuration `json:"schedulerTick" envconfig:"LOADRUN_SCHEDULER_TICK"`

	// Timeouts for the setup() and teardown() functions
	SetupTimeout    types.NullDuration `json:"setupTimeout" envconfig:"LOADRUN_SETUP_TIMEOUT"`
	TeardownTimeout types.NullDuration `json:"teardownTimeout" envconfig:"LOADRUN_TEARDOWN_TIMEOUT"`

	// Limit HTTP requests per second, across all VUs.
	RPS null.Int `json:"rps" envconfig:"LOADRUN_RPS"`

	// How many HTTP redirects do we follow?
	MaxRedirects null.Int `json:"maxRedirects" envconfig:"LOADRUN_MAX_REDIRECTS"`

	// Default User Agent string for HTTP requests.
	UserAgent null.String `json:"userAgent" envconfig:"LOADRUN_USER_AGENT"`

	// Default timeout of a single HTTP request.
	RequestTimeout types.NullDuration `json:"requestTimeout" envconfig:"LOADRUN_REQUEST_TIMEOUT"`

	// Accept invalid or untrusted TLS certificates.
	InsecureSkipTLSVerify null.Bool `json:"insecureSkipTLSVerify" envconfig:"LOADRUN_INSECURE_SKIP_TLS_VERIFY"`

	// Disable keep-alive connections
	NoConnectionReuse null.Bool `json:"noConnectionReuse" envconfig:"LOADRUN_NO_CONNECTION_REUSE"`

	// Read and discard response bodies instead of keeping them.
	DiscardResponseBodies null.Bool `json:"discardResponseBodies" envconfig:"LOADRUN_DISCARD_RESPONSE_BODIES"`

	// Define thresholds; these take the form of 'metric=["snippet1", "snippet2"]'.
	// To create a threshold on a derived metric based on tag queries ("submetrics"), use
	// a name like 'real_metric{tagA:valueA,tagB:valueB}'.
	Thresholds map[string]metrics.Thresholds `json:"thresholds" ignored:"true"`

	// How often thresholds are evaluated while the test runs.
	ThresholdsInterval types.NullDuration `json:"thresholdsInterval" envconfig:"LOADRUN_THRESHOLDS_INTERVAL"`

	// Summary trend stats for trend metrics (response times) in CLI output
	SummaryTrendStats []string `json:"summaryTrendStats" envconfig:"LOADRUN_SUMMARY_TREND_STATS"`

	// "exact" keeps every Trend value, "hdr" keeps a bounded histogram.
	TrendStorage null.String `json:"trendStorage" envconfig:"LOADRUN_TREND_STORAGE"`

	// Number of metric shards; 0 picks a default from GOMAXPROCS.
	MetricShards null.Int `json:"metricShards" envconfig:"LOADRUN_METRIC_SHARDS"`

	// Tags to be applied to all samples for this running
	RunTags map[string]string `json:"tags" envconfig:"LOADRUN_TAGS"`
}

// Apply returns the result of overwriting any fields with any that are set
// on the argument.
//
// Example:
//
//	a := Options{RPS: null.IntFrom(10), MaxRedirects: null.IntFrom(10)}
//	b := Options{RPS: null.IntFrom(5)}
//	a.Apply(b) // Options{RPS: null.IntFrom(5), MaxRedirects: null.IntFrom(10)}
func (o Options) Apply(opts Options) Options {
	// Stages are taken as declared, incomplete ones included, so that the
	// ramp validation can reject them.
	if opts.Stages != nil {
		o.Stages = append([]Stage{}, opts.Stages...)
	}
	if opts.SchedulerTick.Valid {
		o.SchedulerTick = opts.SchedulerTick
	}
	if opts.SetupTimeout.Valid {
		o.SetupTimeout = opts.SetupTimeout
	}
	if opts.TeardownTimeout.Valid {
		o.TeardownTimeout = opts.TeardownTimeout
	}
	if opts.RPS.Valid {
		o.RPS = opts.RPS
	}
	if opts.MaxRedirects.Valid {
		o.MaxRedirects = opts.MaxRedirects
	}
	if opts.UserAgent.Valid {
		o.UserAgent = opts.UserAgent
	}
	if opts.RequestTimeout.Valid {
		o.RequestTimeout = opts.RequestTimeout
	}
	if opts.InsecureSkipTLSVerify.Valid {
		o.InsecureSkipTLSVerify = opts.InsecureSkipTLSVerify
	}
	if opts.NoConnectionReuse.Valid {
		o.NoConnectionReuse = opts.NoConnectionReuse
	}
	if opts.DiscardResponseBodies.Valid {
		o.DiscardResponseBodies = opts.DiscardResponseBodies
	}
	if opts.Thresholds != nil {
		o.Thresholds = opts.Thresholds
	}
	if opts.ThresholdsInterval.Valid {
		o.ThresholdsInterval = opts.ThresholdsInterval
	}
	if opts.SummaryTrendStats != nil {
		o.SummaryTrendStats = opts.SummaryTrendStats
	}
	if opts.TrendStorage.Valid {
		o.TrendStorage = opts.TrendStorage
	}
	if opts.MetricShards.Valid {
		o.MetricShards = opts.MetricShards
	}
	if opts.RunTags != nil {
		o.RunTags = opts.RunTags
	}

	return o
}

// DefaultOptions returns the lowest configuration tier.
func DefaultOptions() Options {
	return Options{
		SchedulerTick:      types.NullDurationFrom(DefaultSchedulerTick),
		SetupTimeout:       types.NullDurationFrom(DefaultSetupTimeout),
		TeardownTimeout:    types.NullDurationFrom(DefaultTeardownTimeout),
		MaxRedirects:       null.IntFrom(DefaultMaxRedirects),
		UserAgent:          null.StringFrom(DefaultUserAgent),
		RequestTimeout:     types.NullDurationFrom(DefaultRequestTimeout),
		ThresholdsInterval: types.NullDurationFrom(DefaultThresholdsInterval),
		SummaryTrendStats:  DefaultSummaryTrendStats,
		TrendStorage:       null.StringFrom(string(metrics.TrendStorageExact)),
	}
}

// ErrInvalidOption is wrapped by every Validate error.
var ErrInvalidOption = errors.New("invalid option")

// Validate checks if all of the specified options make sense. Stage and
// threshold validation lives with the scheduler and the metrics engine, which
// know the ramp and the registry.
func (o Options) Validate() []error {
	var errs []error
	if o.SchedulerTick.Valid {
		tick := o.SchedulerTick.TimeDuration()
		if tick <= 0 || tick > MaxSchedulerTick {
			errs = append(errs, fmt.Errorf("%w: schedulerTick must be in (0, %s], got %s",
				ErrInvalidOption, MaxSchedulerTick, tick))
		}
	}
	if o.ThresholdsInterval.Valid && o.ThresholdsInterval.TimeDuration() <= 0 {
		errs = append(errs, fmt.Errorf("%w: thresholdsInterval must be positive", ErrInvalidOption))
	}
	if o.RPS.Valid && o.RPS.Int64 < 0 {
		errs = append(errs, fmt.Errorf("%w: rps can't be negative", ErrInvalidOption))
	}
	if o.MaxRedirects.Valid && o.MaxRedirects.Int64 < 0 {
		errs = append(errs, fmt.Errorf("%w: maxRedirects can't be negative", ErrInvalidOption))
	}
	if o.RequestTimeout.Valid && o.RequestTimeout.TimeDuration() <= 0 {
		errs = append(errs, fmt.Errorf("%w: requestTimeout must be positive", ErrInvalidOption))
	}
	if o.MetricShards.Valid && o.MetricShards.Int64 < 0 {
		errs = append(errs, fmt.Errorf("%w: metricShards can't be negative", ErrInvalidOption))
	}
	if o.TrendStorage.Valid {
		if err := metrics.TrendStorage(o.TrendStorage.String).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidOption, err))
		}
	}
	if o.SummaryTrendStats != nil {
		if _, err := metrics.GetResolversForTrendColumns(o.SummaryTrendStats); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidOption, err))
		}
	}
	return errs
}

// RuntimeOptions are the settings that affect how a run is reported rather
// than what it does.
type RuntimeOptions struct {
	// Environment variables visible to the scenario, e.g. BASE_URL.
	Env map[string]string `json:"env" ignored:"true"`

	NoThresholds  null.Bool   `json:"noThresholds" envconfig:"LOADRUN_NO_THRESHOLDS"`
	NoSummary     null.Bool   `json:"noSummary" envconfig:"LOADRUN_NO_SUMMARY"`
	SummaryExport null.String `json:"summaryExport" envconfig:"LOADRUN_SUMMARY_EXPORT"`
	TracesOutput  null.String `json:"tracesOutput" envconfig:"LOADRUN_TRACES_OUTPUT"`

	// The built-in scenario run when no file is given.
	Preset null.String `json:"preset" envconfig:"LOADRUN_PRESET"`
}

// Apply overwrites the fields that are set on the argument.
func (o RuntimeOptions) Apply(opts RuntimeOptions) RuntimeOptions {
	if opts.Env != nil {
		merged := make(map[string]string, len(o.Env)+len(opts.Env))
		for k, v := range o.Env {
			merged[k] = v
		}
		for k, v := range opts.Env {
			merged[k] = v
		}
		o.Env = merged
	}
	if opts.NoThresholds.Valid {
		o.NoThresholds = opts.NoThresholds
	}
	if opts.NoSummary.Valid {
		o.NoSummary = opts.NoSummary
	}
	if opts.SummaryExport.Valid {
		o.SummaryExport = opts.SummaryExport
	}
	if opts.TracesOutput.Valid {
		o.TracesOutput = opts.TracesOutput
	}
	if opts.Preset.Valid {
		o.Preset = opts.Preset
	}
	return o
}
