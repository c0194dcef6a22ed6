// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// UserAgent is sent on every request to the remote inference services.
func UserAgent() string {
	return "onboard/" + Version
}

// String formats the build metadata for `onboard version`.
func String() string {
	return fmt.Sprintf("onboard %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
