// Package version holds build metadata for the proxie binary, injected with
// -ldflags "-X proxie/pkg/version.Version=v0.3.0".
package version

import "fmt"

//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build metadata for --version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
