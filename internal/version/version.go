// Package version exposes build metadata. The variables are set at link time:
//
//	go build -ldflags "-X github.com/MeKo-Tech/wmclean/internal/version.Version=v1.2.0"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables set by ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns version information
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String is the one-line form used by --version.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}

// Details is the multi-line form printed by the version command.
func Details() string {
	return fmt.Sprintf("wmclean version %s\nCommit: %s\nBuilt: %s\nGo: %s %s/%s\n",
		Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
