package cmd

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/scenario"
)

var userEnvVarName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func runtimeOptionFlagSet(includeSysEnv bool) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", 0)
	flags.SortFlags = false
	flags.Bool("include-system-env-vars", includeSysEnv, "pass the real system environment variables to the scenario")
	flags.StringArrayP("env", "e", nil, "add/override environment variable with `VAR=value`")
	flags.Bool("no-thresholds", false, "don't run thresholds")
	flags.Bool("no-summary", false, "don't show the summary at the end of the test")
	flags.String(
		"summary-export",
		"",
		"output the end-of-test summary report to JSON file",
	)
	flags.String("traces-output", "none",
		"set the output for the request traces, possible values are none,otel[=host:port]")
	flags.String("preset", "", "built-in scenario to run when no file is given, one of "+
		strings.Join(scenario.Presets(), ", "))
	return flags
}

func saveBoolFromEnv(env map[string]string, varName string, placeholder *bool) error {
	strValue, ok := env[varName]
	if !ok {
		return nil
	}
	switch strings.ToLower(strValue) {
	case "true", "1", "yes":
		*placeholder = true
	case "false", "0", "no", "":
		*placeholder = false
	default:
		return fmt.Errorf("env var '%s' is not a valid boolean value", varName)
	}
	return nil
}

// getRuntimeOptions layers the LOADRUN_* variables of the environment under
// the CLI flags. The scenario sees the system environment, unless disabled,
// overwritten by the --env values.
func getRuntimeOptions(flags *pflag.FlagSet, environment map[string]string) (lib.RuntimeOptions, error) {
	cliOpts := lib.RuntimeOptions{
		NoThresholds:  getNullBool(flags, "no-thresholds"),
		NoSummary:     getNullBool(flags, "no-summary"),
		SummaryExport: getNullString(flags, "summary-export"),
		TracesOutput:  getNullString(flags, "traces-output"),
		Preset:        getNullString(flags, "preset"),
	}

	envOpts := lib.RuntimeOptions{}
	if err := envconfig.Process("", &envOpts, func(key string) (string, bool) {
		v, ok := environment[key]
		return v, ok
	}); err != nil {
		return lib.RuntimeOptions{}, fmt.Errorf("invalid environment configuration: %w", err)
	}
	opts := envOpts.Apply(cliOpts)
	if !opts.TracesOutput.Valid {
		opts.TracesOutput = cliOpts.TracesOutput // the flag default
	}

	includeSysEnv, err := flags.GetBool("include-system-env-vars")
	if err != nil {
		return opts, err
	}
	if !flags.Changed("include-system-env-vars") {
		if err := saveBoolFromEnv(environment, "LOADRUN_INCLUDE_SYSTEM_ENV_VARS", &includeSysEnv); err != nil {
			return opts, err
		}
	}

	opts.Env = make(map[string]string)
	if includeSysEnv {
		for k, v := range environment {
			opts.Env[k] = v
		}
	}

	// Set/overwrite environment variables with custom user-supplied values
	envVars, err := flags.GetStringArray("env")
	if err != nil {
		return opts, err
	}
	for _, kv := range envVars {
		k, v := parseEnvKeyValue(kv)
		// Allow only alphanumeric ASCII variable names for now
		if !userEnvVarName.MatchString(k) {
			return opts, fmt.Errorf("invalid environment variable name '%s'", k)
		}
		opts.Env[k] = v
	}

	return opts, nil
}

func parseEnvKeyValue(kv string) (string, string) {
	if idx := strings.IndexRune(kv, '='); idx != -1 {
		return kv[:idx], kv[idx+1:]
	}
	return kv, ""
}
