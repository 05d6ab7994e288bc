package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/loadrun/cmd/state"
	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
	"github.com/liuxd6825/loadrun/lib"
)

// configFlagSet returns a FlagSet with the default run configuration flags.
func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", 0)
	flags.SortFlags = false
	flags.StringArrayP("out", "o", []string{}, "`uri` for an external metrics database")
	return flags
}

// Config is the consolidated configuration of a run.
type Config struct {
	lib.Options

	Out []string `json:"out" envconfig:"LOADRUN_OUT"`
}

// Apply the provided config on top of the current one, returning a new one.
// The provided config has priority. Note that the return value is not the
// config receiver.
func (c Config) Apply(cfg Config) Config {
	c.Options = c.Options.Apply(cfg.Options)
	if len(cfg.Out) > 0 {
		c.Out = cfg.Out
	}
	return c
}

// Gets configuration from CLI flags.
func getConfig(flags *pflag.FlagSet) (Config, error) {
	opts, err := getOptions(flags)
	if err != nil {
		return Config{}, err
	}
	out, err := flags.GetStringArray("out")
	if err != nil {
		return Config{}, err
	}
	return Config{Options: opts, Out: out}, nil
}

// readDiskConfig reads the JSON config file. A missing file is not an error:
// the default location usually doesn't exist.
func readDiskConfig(gs *state.GlobalState) (Config, error) {
	data, err := afero.ReadFile(gs.FS, gs.Flags.ConfigFilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("couldn't load the configuration from %q: %w", gs.Flags.ConfigFilePath, err)
	}
	var conf Config
	if err := json.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("couldn't parse the configuration from %q: %w", gs.Flags.ConfigFilePath, err)
	}
	return conf, nil
}

// readEnvConfig reads the LOADRUN_* variables of the environment.
func readEnvConfig(envMap map[string]string) (Config, error) {
	conf := Config{}
	err := envconfig.Process("", &conf, func(key string) (string, bool) {
		v, ok := envMap[key]
		return v, ok
	})
	return conf, err
}

// getConsolidatedConfig layers the configuration tiers, from the lowest
// priority to the highest:
//   - the defaults
//   - the JSON config file (--config)
//   - the options of the scenario file
//   - the LOADRUN_* environment variables
//   - the CLI flags
func getConsolidatedConfig(gs *state.GlobalState, cliConf Config, scenarioOpts lib.Options) (Config, error) {
	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	envConf, err := readEnvConfig(gs.Env)
	if err != nil {
		return Config{}, errext.WithExitCodeIfNone(
			fmt.Errorf("invalid environment configuration: %w", err), exitcodes.InvalidConfig)
	}

	conf := Config{Options: lib.DefaultOptions()}.
		Apply(fileConf).
		Apply(Config{Options: scenarioOpts}).
		Apply(envConf).
		Apply(cliConf)
	return conf, nil
}

// validateConfig returns every problem of the consolidated options at once.
func validateConfig(conf Config) error {
	errList := conf.Validate()
	if len(errList) == 0 {
		return nil
	}

	errMsgParts := []string{"There were problems with the specified script configuration:"}
	for _, err := range errList {
		errMsgParts = append(errMsgParts, fmt.Sprintf("\t- %s", err.Error()))
	}
	return errext.WithExitCodeIfNone(errors.New(strings.Join(errMsgParts, "\n")), exitcodes.InvalidConfig)
}
