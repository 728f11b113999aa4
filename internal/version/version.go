// Package version holds build metadata injected with -ldflags.
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String formats the version for --version output
func String() string {
	return Version + " (" + Commit + ") " + BuildTime
}
