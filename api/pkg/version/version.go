package version

import (
	"runtime/debug"
)

// Version is set by the build process
var Version string

func Get() string {
	if Version != "" {
		return Version
	}

	version := "<unknown>"
	info, ok := debug.ReadBuildInfo()
	if ok {
		for _, kv := range info.Settings {
			if kv.Value == "" {
				continue
			}
			switch kv.Key {
			case "vcs.revision":
				version = kv.Value
			}
		}
	}
	return version
}
