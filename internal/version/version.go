// Package version exposes build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags "-X" at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata in one line.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
