// Package version carries build metadata injected at link time.
package version

import "fmt"

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String returns the full build stamp for startup logs and -version output.
func String() string {
	return fmt.Sprintf("gazeline %s (%s, built %s)", Version, GitSHA, BuildTime)
}
