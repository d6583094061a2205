package app

import (
	"runtime/debug"
	"strings"
)

// Version is filled by ldflags in release builds.
var Version = ""

// BuildVersion prefers the ldflags value, then the module version recorded
// by `go install`, then "dev".
func BuildVersion() string {
	if v := strings.TrimSpace(Version); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}

	return "dev"
}
