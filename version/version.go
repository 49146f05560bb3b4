// Package version exposes build metadata stamped into the binary.
package version

import (
	"fmt"
	"runtime"
)

// Stamped by the build via -ldflags "-X github.com/clipforge/clipforge/version.Version=...".
// A binary built without stamps reports itself as a dev build.
var (
	Version    = "dev"
	CommitHash = "dev"
	BuildTime  = "unknown"
)

// Info is the full build report, JSON-shaped for `clipforge version --json`.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get snapshots the stamped values plus the toolchain and platform.
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the one-line form used by `clipforge version`.
func (i Info) String() string {
	return fmt.Sprintf("clipforge %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short abbreviates the commit hash to the usual seven characters.
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
