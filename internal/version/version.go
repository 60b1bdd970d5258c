// Package version carries the build identity stamped into the detection
// tools.
package version

// Populated through -ldflags at build time; the defaults mark a local
// development build.
var (
	// Version is the release tag.
	Version = "0.1.0"

	// BuildTime is when the binary was produced, in UTC.
	BuildTime = "unknown"

	// GitCommit identifies the source revision.
	GitCommit = "unknown"
)
