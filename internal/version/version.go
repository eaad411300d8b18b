// Package version carries build metadata stamped in via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the one-line banner printed by the version command.
func String() string {
	return fmt.Sprintf("kaiwa %s (commit=%s, date=%s, go=%s)", Version, Commit, Date, runtime.Version())
}
