// Package buildinfo reports the meshd and meshctl build.
//
// Release builds inject values through ldflags:
//
//	go build -ldflags "-X github.com/norpie/constellation/internal/infra/buildinfo.Version=v0.3.0"
//
// Development builds fall back to the VCS stamp the Go toolchain embeds.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes a build. It is reported by the admin Status RPC and by
// `meshctl version`.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Modified  bool   `json:"modified,omitempty" yaml:"modified,omitempty"`
}

var (
	once   sync.Once
	cached Info
)

// Get returns the build information.
func Get() Info {
	once.Do(func() {
		cached = resolve(Version, Commit, BuildTime, readVCS)
	})
	return cached
}

type vcsStamp struct {
	revision string
	time     string
	modified bool
}

func readVCS() (vcsStamp, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return vcsStamp{}, false
	}
	var s vcsStamp
	for _, kv := range bi.Settings {
		switch kv.Key {
		case "vcs.revision":
			s.revision = kv.Value
		case "vcs.time":
			s.time = kv.Value
		case "vcs.modified":
			s.modified = kv.Value == "true"
		}
	}
	return s, true
}

func resolve(version, commit, buildTime string, vcs func() (vcsStamp, bool)) Info {
	info := Info{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
	if s, ok := vcs(); ok {
		if info.Commit == "" {
			info.Commit = s.revision
			info.Modified = s.modified
		}
		if info.BuildTime == "" {
			info.BuildTime = s.time
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildTime == "" {
		info.BuildTime = "unknown"
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	return info
}

// String returns a one-line summary.
func String() string {
	info := Get()
	s := info.Version + " (" + info.Commit
	if info.Modified {
		s += "-dirty"
	}
	return s + ") built " + info.BuildTime + " with " + info.GoVersion
}
