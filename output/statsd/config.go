package statsd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/loadrun/lib/types"
)

// config is the config for the statsd output.
type config struct {
	Addr         null.String        `json:"addr,omitempty" envconfig:"LOADRUN_STATSD_ADDR"`
	BufferSize   null.Int           `json:"bufferSize,omitempty" envconfig:"LOADRUN_STATSD_BUFFER_SIZE"`
	Namespace    null.String        `json:"namespace,omitempty" envconfig:"LOADRUN_STATSD_NAMESPACE"`
	PushInterval types.NullDuration `json:"pushInterval,omitempty" envconfig:"LOADRUN_STATSD_PUSH_INTERVAL"`
	TagBlocklist []string           `json:"tagBlocklist,omitempty" envconfig:"LOADRUN_STATSD_TAG_BLOCKLIST"`
	EnableTags   null.Bool          `json:"enableTags,omitempty" envconfig:"LOADRUN_STATSD_ENABLE_TAGS"`
}

func newConfig() config {
	return config{
		Addr:         null.NewString("localhost:8125", false),
		BufferSize:   null.NewInt(20, false),
		Namespace:    null.NewString("loadrun.", false),
		PushInterval: types.NewNullDuration(1*time.Second, false),
		TagBlocklist: []string{"vu", "iter", "url"},
		EnableTags:   null.NewBool(false, false),
	}
}

func (c config) apply(cfg config) config {
	if cfg.Addr.Valid {
		c.Addr = cfg.Addr
	}
	if cfg.BufferSize.Valid {
		c.BufferSize = cfg.BufferSize
	}
	if cfg.Namespace.Valid {
		c.Namespace = cfg.Namespace
	}
	if cfg.PushInterval.Valid {
		c.PushInterval = cfg.PushInterval
	}
	if len(cfg.TagBlocklist) > 0 {
		c.TagBlocklist = cfg.TagBlocklist
	}
	if cfg.EnableTags.Valid {
		c.EnableTags = cfg.EnableTags
	}
	return c
}

// parseArg parses the --out argument: either a bare host:port, or a
// comma-separated key=value list. Blocklisted tags are separated by
// spaces, as commas already separate the pairs.
func parseArg(arg string) (config, error) {
	c := config{}
	if !strings.Contains(arg, "=") {
		c.Addr = null.StringFrom(arg)
		return c, nil
	}
	for _, pair := range strings.Split(arg, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return c, fmt.Errorf("couldn't parse %q as argument for statsd output", pair)
		}
		switch k {
		case "addr":
			c.Addr = null.StringFrom(v)
		case "bufferSize":
			size, err := strconv.Atoi(v)
			if err != nil {
				return c, fmt.Errorf("invalid bufferSize %q: %w", v, err)
			}
			c.BufferSize = null.IntFrom(int64(size))
		case "namespace":
			c.Namespace = null.StringFrom(v)
		case "pushInterval":
			if err := c.PushInterval.UnmarshalText([]byte(v)); err != nil {
				return c, fmt.Errorf("invalid pushInterval %q: %w", v, err)
			}
		case "tagBlocklist":
			c.TagBlocklist = strings.Fields(v)
		case "enableTags":
			if err := c.EnableTags.UnmarshalText([]byte(v)); err != nil {
				return c, fmt.Errorf("enableTags must be true or false, not %s", v)
			}
		default:
			return c, fmt.Errorf("unknown key %q as argument for statsd output", k)
		}
	}
	return c, nil
}

// getConsolidatedConfig combines the defaults, the LOADRUN_STATSD_*
// environment variables and the --out argument, in that order of precedence.
func getConsolidatedConfig(env map[string]string, arg string) (config, error) {
	result := newConfig()

	envConfig := config{}
	if err := envconfig.Process("", &envConfig, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return result, err
	}
	result = result.apply(envConfig)

	if arg != "" {
		argConfig, err := parseArg(arg)
		if err != nil {
			return result, err
		}
		result = result.apply(argConfig)
	}

	if result.Addr.String == "" {
		return result, fmt.Errorf("the statsd address is empty")
	}
	if result.PushInterval.TimeDuration() <= 0 {
		return result, fmt.Errorf("statsd's pushInterval must be positive, got %s", result.PushInterval.Duration)
	}
	return result, nil
}
