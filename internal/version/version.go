package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/smazurov/vidcap/internal/version.Version=...".
// Builds without ldflags fall back to the VCS stamp go embeds in the binary.
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	once sync.Once
	info Info
)

// Get returns version and build information.
func Get() Info {
	once.Do(func() {
		info = fromBuildInfo(debug.ReadBuildInfo())
	})
	return info
}

func fromBuildInfo(bi *debug.BuildInfo, ok bool) Info {
	out := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if !ok {
		return out
	}
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.GitCommit == "" {
				out.GitCommit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" {
				out.BuildDate = s.Value
			}
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}
	return out
}

// String returns the application version string.
func String() string {
	return Get().Version
}
