package scenario

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/liuxd6825/loadrun/errext"
	"github.com/liuxd6825/loadrun/errext/exitcodes"
)

//go:embed presets/*.yaml
var presetFiles embed.FS

// DefaultPreset is the scenario used when no file is given.
const DefaultPreset = "odoo"

// Preset parses the named built-in scenario.
func Preset(name string, env map[string]string) (*File, error) {
	data, err := presetFiles.ReadFile("presets/" + name + ".yaml")
	if err != nil {
		return nil, errext.WithExitCodeIfNone(fmt.Errorf("%w: unknown preset %q, available: %s",
			ErrInvalidScenario, name, strings.Join(Presets(), ", ")), exitcodes.InvalidConfig)
	}
	return Parse(data, env)
}

// Presets returns the names of the built-in scenarios.
func Presets() []string {
	entries, _ := presetFiles.ReadDir("presets")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}
