// Package version holds build information for the finqa binary, injected
// at build time:
//
//	go build -ldflags="-X github.com/54b3r/finqa-go/internal/version.Version=v0.3.0 \
//	                    -X github.com/54b3r/finqa-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/finqa-go/internal/version.BuildDate=2026-01-01"
package version

import "fmt"

var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"
	// Commit is the short git SHA.
	Commit = "unknown"
	// BuildDate is the UTC build date.
	BuildDate = "unknown"
)

// String renders the build information on one line.
func String() string {
	return fmt.Sprintf("finqa %s (commit %s, built %s)", Version, Commit, BuildDate)
}
