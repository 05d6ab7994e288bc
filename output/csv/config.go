package csv

import (
	"fmt"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib/types"
)

// Config is the config for the csv output.
type Config struct {
	FileName     null.String        `json:"fileName" envconfig:"LOADRUN_CSV_FILENAME"`
	SaveInterval types.NullDuration `json:"saveInterval" envconfig:"LOADRUN_CSV_SAVE_INTERVAL"`
	TimeFormat   null.String        `json:"timeFormat" envconfig:"LOADRUN_CSV_TIME_FORMAT"`
}

// NewConfig creates a new Config instance with default values for some fields.
func NewConfig() Config {
	return Config{
		FileName:     null.NewString("file.csv", false),
		SaveInterval: types.NewNullDuration(1*time.Second, false),
		TimeFormat:   null.NewString(string(TimeFormatUnix), false),
	}
}

// Apply merges two configs by overwriting properties in the old config.
func (c Config) Apply(cfg Config) Config {
	if cfg.FileName.Valid {
		c.FileName = cfg.FileName
	}
	if cfg.SaveInterval.Valid {
		c.SaveInterval = cfg.SaveInterval
	}
	if cfg.TimeFormat.Valid {
		c.TimeFormat = cfg.TimeFormat
	}
	return c
}

// ParseArg takes an argument string and parses it into a Config. A bare
// value is the file name; otherwise it is a comma-separated key=value list.
func ParseArg(arg string) (Config, error) {
	c := Config{}

	if !strings.Contains(arg, "=") {
		c.FileName = null.StringFrom(arg)
		return c, nil
	}

	for _, pair := range strings.Split(arg, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return c, fmt.Errorf("couldn't parse %q as argument for csv output", pair)
		}
		switch k {
		case "fileName":
			c.FileName = null.StringFrom(v)
		case "saveInterval":
			if err := c.SaveInterval.UnmarshalText([]byte(v)); err != nil {
				return c, fmt.Errorf("invalid saveInterval %q: %w", v, err)
			}
		case "timeFormat":
			c.TimeFormat = null.StringFrom(v)
		default:
			return c, fmt.Errorf("unknown key %q as argument for csv output", k)
		}
	}

	return c, nil
}

// GetConsolidatedConfig combines the defaults, the LOADRUN_CSV_* environment
// variables and the --out argument, in that order of precedence.
func GetConsolidatedConfig(env map[string]string, arg string) (Config, error) {
	result := NewConfig()

	envConfig := Config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, err
	}
	result = result.Apply(envConfig)

	if arg != "" {
		argConfig, err := ParseArg(arg)
		if err != nil {
			return result, err
		}
		result = result.Apply(argConfig)
	}

	if _, err := TimeFormatString(result.TimeFormat.String); err != nil {
		return result, err
	}
	if result.SaveInterval.TimeDuration() <= 0 {
		return result, fmt.Errorf("saveInterval must be positive, got %s", result.SaveInterval.Duration)
	}
	return result, nil
}
