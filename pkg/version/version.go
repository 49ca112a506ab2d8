// Package version carries build metadata injected at link time via
// -ldflags "-X github.com/Sumatoshi-tech/lanekeeper/pkg/version.Version=...".
package version

var (
	// Version is the release tag of the running binary.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)
