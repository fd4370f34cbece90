package restcore

import (
	"fmt"
	"runtime"
)

// Build information. Populated at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// GetVersion returns the library version string.
func GetVersion() string {
	return Version
}

// GetVersionInfo returns a formatted string with all build information.
func GetVersionInfo() string {
	return fmt.Sprintf("restcore %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, GoVersion)
}
