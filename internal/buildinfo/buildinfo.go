// Package buildinfo exposes version metadata stamped at build time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set via -ldflags, e.g.
//
//	-X github.com/rmfaria/rssigrid/internal/buildinfo.Version=v1.2.3
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Info collects build and runtime metadata for the version command and
// the health endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, truncated to whole seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String is the one-line startup banner.
func String() string {
	return fmt.Sprintf("rssigrid %s (%s) built %s", Version, GitCommit, BuildTime)
}

// UserAgent identifies outbound HTTP requests made through httpkit.
func UserAgent() string {
	return fmt.Sprintf("rssigrid/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
