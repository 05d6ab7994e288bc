// Package consts houses some constants needed across loadrun
package consts

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version contains the current semantic version of loadrun.
const Version = "0.4.1"

// FullVersion returns the maximally full version and build information for
// the currently running binary.
func FullVersion() string {
	goVersionArch := fmt.Sprintf("%s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Sprintf("%s (%s)", Version, goVersionArch)
	}

	var (
		commit string
		dirty  bool
	)
	for _, s := range buildInfo.Settings {
		switch s.Key {
		case "vcs.revision":
			commitLen := 10
			if len(s.Value) < commitLen {
				commitLen = len(s.Value)
			}
			commit = s.Value[:commitLen]
		case "vcs.modified":
			if s.Value == "true" {
				dirty = true
			}
		default:
		}
	}

	if commit == "" {
		return fmt.Sprintf("%s (%s)", Version, goVersionArch)
	}

	if dirty {
		commit += "-dirty"
	}

	return fmt.Sprintf("%s (commit/%s, %s)", Version, commit, goVersionArch)
}

// Banner is shown on top of a run.
const Banner = `
   __                __
  / /___  ____ _____/ /______  ______
 / / __ \/ __ '/ __  / ___/ / / / __ \
/ / /_/ / /_/ / /_/ / /  / /_/ / / / /
/_/\____/\__,_/\__,_/_/   \__,_/_/ /_/`
