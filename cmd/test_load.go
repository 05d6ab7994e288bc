package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/loadrun/cmd/state"
	"github.com/liuxd6825/loadrun/core"
	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
	"github.com/liuxd6825/loadrun/runner"
	"github.com/liuxd6825/loadrun/scenario"
)

// loadedTest contains the parsed scenario and the runtime options, but
// without any config consolidation.
type loadedTest struct {
	sourceRootPath string // contains the raw string the user supplied, empty for a preset
	preset         string
	scenarioFile   *scenario.File
	runtimeOptions lib.RuntimeOptions
}

func loadLocalTest(gs *state.GlobalState, cmd *cobra.Command, args []string) (*loadedTest, error) {
	gs.Logger.Debugf("Gathering loadrun runtime options...")
	runtimeOptions, err := getRuntimeOptions(cmd.Flags(), gs.Env)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	test := &loadedTest{runtimeOptions: runtimeOptions}
	if len(args) == 0 {
		test.preset = scenario.DefaultPreset
		if runtimeOptions.Preset.String != "" {
			test.preset = runtimeOptions.Preset.String
		}
		gs.Logger.Debugf("No scenario given, using the built-in '%s' preset", test.preset)
		test.scenarioFile, err = scenario.Preset(test.preset, runtimeOptions.Env)
		if err != nil {
			return nil, err
		}
		return test, nil
	}
	if runtimeOptions.Preset.String != "" {
		return nil, errext.WithExitCodeIfNone(
			fmt.Errorf("the preset '%s' and the scenario file '%s' can't be used together",
				runtimeOptions.Preset.String, args[0]),
			exitcodes.InvalidConfig)
	}

	test.sourceRootPath = args[0]
	path := args[0]
	if !filepath.IsAbs(path) {
		pwd, err := gs.Getwd()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(pwd, path)
	}
	gs.Logger.Debugf("Resolving and reading test '%s'...", path)
	test.scenarioFile, err = scenario.Load(gs.FS, path, runtimeOptions.Env)
	if err != nil {
		return nil, err
	}
	return test, nil
}

// description is how the test is shown in the run banner.
func (lt *loadedTest) description() string {
	if lt.sourceRootPath == "" {
		return lt.preset + " (built-in)"
	}
	return lt.sourceRootPath
}

func (lt *loadedTest) consolidateAndValidateConfig(
	gs *state.GlobalState, cmd *cobra.Command,
	cliConfGetter func(flags *pflag.FlagSet) (Config, error),
) (*loadedAndConfiguredTest, error) {
	var cliConfig Config
	if cliConfGetter != nil {
		gs.Logger.Debug("Parsing CLI flags...")
		var err error
		cliConfig, err = cliConfGetter(cmd.Flags())
		if err != nil {
			return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
		}
	}

	gs.Logger.Debug("Consolidating config layers...")
	consolidatedConfig, err := getConsolidatedConfig(gs, cliConfig, lt.scenarioFile.Options)
	if err != nil {
		return nil, err
	}

	gs.Logger.Debug("Validating config...")
	if err := validateConfig(consolidatedConfig); err != nil {
		return nil, err
	}

	return &loadedAndConfiguredTest{
		loadedTest:         lt,
		consolidatedConfig: consolidatedConfig,
	}, nil
}

// loadedAndConfiguredTest contains the whole loadedTest, as well as the
// consolidated test config.
type loadedAndConfiguredTest struct {
	*loadedTest
	consolidatedConfig Config
}

func loadAndConfigureLocalTest(
	gs *state.GlobalState, cmd *cobra.Command, args []string,
	cliConfigGetter func(flags *pflag.FlagSet) (Config, error),
) (*loadedAndConfiguredTest, error) {
	test, err := loadLocalTest(gs, cmd, args)
	if err != nil {
		return nil, err
	}

	return test.consolidateAndValidateConfig(gs, cmd, cliConfigGetter)
}

// buildTestRun creates the test run with the consolidated options.
func (lct *loadedAndConfiguredTest) buildTestRun(gs *state.GlobalState) (*lib.TestRun, error) {
	test, err := lib.NewTestRun(gs.Logger, lct.consolidatedConfig.Options, lct.runtimeOptions)
	if err != nil {
		return nil, fmt.Errorf("could not create the test run: %w", err)
	}
	return test, nil
}

// runnerFactory builds the runner of the scenario file once the engine knows
// where the samples go.
func (lct *loadedAndConfiguredTest) runnerFactory(
	test *lib.TestRun, tp trace.TracerProvider,
) core.RunnerFactory {
	return func(samples runner.SamplePusherFactory) (lib.Runner, error) {
		sc, err := scenario.Build(lct.scenarioFile)
		if err != nil {
			return nil, err
		}
		return runner.New(test, sc, samples, tp)
	}
}
