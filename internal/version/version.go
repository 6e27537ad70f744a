// Package version carries the build metadata stamped into tklogs.
package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X github.com/example/tklogs/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type Info struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
	Platform  string
}

func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("tklogs %s (commit %s, %s, built %s, %s)", i.Version, i.GitCommit, i.Platform, i.BuildDate, i.GoVersion)
}
