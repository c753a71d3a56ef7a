package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// FromBuildInfo describes the running binary: its module version when installed from a tag,
// otherwise the VCS revision it was built from.
func FromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unavailable"
	}

	return describe(info)
}

func describe(info *debug.BuildInfo) string {
	settings := make(map[string]string, len(info.Settings))

	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs") {
			settings[s.Key] = s.Value
		}
	}

	revision := settings["vcs.revision"]
	if settings["vcs.modified"] == "true" && revision != "" {
		revision += "-dirty"
	}

	if v := info.Main.Version; v != "" && v != "(devel)" {
		if revision == "" {
			return v
		}

		return fmt.Sprintf("%s (%s)", v, revision)
	}

	switch {
	case revision == "":
		return "unavailable"
	case settings["vcs.time"] == "":
		return fmt.Sprintf("built from %s revision %s", settings["vcs"], revision)
	default:
		return fmt.Sprintf("built from %s revision %s at %s", settings["vcs"], revision, settings["vcs.time"])
	}
}
