package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/metrics"
)

var (
	errTagEmptyName   = errors.New("invalid tag, empty name")
	errTagEmptyString = errors.New("invalid tag, empty string")
)

func optionFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", 0)
	flags.SortFlags = false

	flags.StringSliceP("stage", "s", nil, "add a `stage`, as `[duration]:[target]`")
	flags.Duration("scheduler-tick", lib.DefaultSchedulerTick, "how often the running VUs are matched to the ramp")
	flags.Int64("max-redirects", lib.DefaultMaxRedirects, "follow at most n redirects")
	flags.Int64("rps", 0, "limit requests per second")
	flags.String("user-agent", lib.DefaultUserAgent, "user agent for http requests")
	flags.Duration("request-timeout", lib.DefaultRequestTimeout, "default timeout of a single http request")
	flags.Bool("insecure-skip-tls-verify", false, "skip verification of TLS certificates")
	flags.Bool("no-connection-reuse", false, "disable keep-alive connections")
	flags.Bool("discard-response-bodies", false, "Read but don't process or save HTTP response bodies")
	flags.Duration("thresholds-interval", lib.DefaultThresholdsInterval, "how often the thresholds are evaluated")

	// The default values are set in lib.DefaultOptions(), so that an unset
	// flag doesn't override the lower configuration tiers.
	sumTrendStatsHelp := fmt.Sprintf(
		"define `stats` for trend metrics (response times), one or more as 'avg,p(95),...' (default '%s')",
		strings.Join(lib.DefaultSummaryTrendStats, ","),
	)
	flags.StringSlice("summary-trend-stats", nil, sumTrendStatsHelp)
	flags.String("trend-storage", string(metrics.TrendStorageExact),
		"how trend metrics keep their values, 'exact' or 'hdr' for a bounded histogram")
	flags.Int64("metric-shards", 0, "number of metric collector shards, 0 picks one from GOMAXPROCS")
	flags.StringSlice("tag", nil, "add a `tag` to be applied to all samples, as `[name]=[value]`")
	return flags
}

func getOptions(flags *pflag.FlagSet) (lib.Options, error) {
	opts := lib.Options{
		SchedulerTick:         getNullDuration(flags, "scheduler-tick"),
		MaxRedirects:          getNullInt64(flags, "max-redirects"),
		RPS:                   getNullInt64(flags, "rps"),
		UserAgent:             getNullString(flags, "user-agent"),
		RequestTimeout:        getNullDuration(flags, "request-timeout"),
		InsecureSkipTLSVerify: getNullBool(flags, "insecure-skip-tls-verify"),
		NoConnectionReuse:     getNullBool(flags, "no-connection-reuse"),
		DiscardResponseBodies: getNullBool(flags, "discard-response-bodies"),
		ThresholdsInterval:    getNullDuration(flags, "thresholds-interval"),
		TrendStorage:          getNullString(flags, "trend-storage"),
		MetricShards:          getNullInt64(flags, "metric-shards"),
	}

	// Using Changed() because GetStringSlice() doesn't differentiate between empty and no value
	if flags.Changed("stage") {
		stageStrings, err := flags.GetStringSlice("stage")
		if err != nil {
			return opts, err
		}
		opts.Stages = []lib.Stage{}
		for i, s := range stageStrings {
			var stage lib.Stage
			if err := stage.UnmarshalText([]byte(s)); err != nil {
				return opts, fmt.Errorf("error for stage %d: %w", i, err)
			}
			opts.Stages = append(opts.Stages, stage)
		}
	}

	if flags.Changed("summary-trend-stats") {
		trendStats, err := flags.GetStringSlice("summary-trend-stats")
		if err != nil {
			return opts, err
		}
		opts.SummaryTrendStats = trendStats
	}

	if flags.Changed("tag") {
		runTags, err := flags.GetStringSlice("tag")
		if err != nil {
			return opts, err
		}
		opts.RunTags = make(map[string]string, len(runTags))
		for i, s := range runTags {
			name, value, err := parseTagNameValue(s)
			if err != nil {
				return opts, fmt.Errorf("error for tag %d: %w", i, err)
			}
			opts.RunTags[name] = value
		}
	}

	return opts, nil
}

func parseTagNameValue(nv string) (string, string, error) {
	if nv == "" {
		return "", "", errTagEmptyString
	}

	idx := strings.IndexRune(nv, '=')
	switch idx {
	case 0:
		return "", "", errTagEmptyName
	case -1:
		return nv, "", nil
	default:
		return nv[:idx], nv[idx+1:], nil
	}
}
