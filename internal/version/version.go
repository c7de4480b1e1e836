// Package version holds build metadata injected via -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line human-readable version string.
func Info() string {
	return fmt.Sprintf("llmgate %s (commit %s, built %s)", Version, Commit, Date)
}
