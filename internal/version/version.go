// Package version carries build metadata for the yac binary, injected with
// -ldflags at release time:
//
//	go build -ldflags="-X github.com/thatsimo/yet-another-chatbot/internal/version.Version=v0.3.0 \
//	                    -X github.com/thatsimo/yet-another-chatbot/internal/version.Commit=1a2b3c4"
package version

import "fmt"

var (
	// Version is the release tag; "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA the binary was built from.
	Commit = "unknown"
	// BuildDate is the RFC3339 build timestamp.
	BuildDate = "unknown"
)

// String renders the build metadata as a single line for `yac version` and
// the server startup log.
func String() string {
	return fmt.Sprintf("yac %s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
