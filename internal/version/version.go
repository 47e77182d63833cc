// Package version holds build metadata set with -ldflags, e.g.
//
//	go build -ldflags "-X formpost/internal/version.Version=1.2.0 -X formpost/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit SHA at build time.
	Commit = "unknown"
	// Date is the build date.
	Date = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	v := Version
	if v != "dev" {
		v = "v" + v
	}
	return fmt.Sprintf("formpost %s (commit: %s, built: %s, %s)", v, Commit, Date, runtime.Version())
}
