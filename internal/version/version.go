// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/banshee-data/curbwatch/internal/version.Version=...".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Banner is the one-line version string printed by the binaries.
func Banner(program string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", program, Version, GitSHA, BuildTime)
}
