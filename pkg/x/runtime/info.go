package runtime

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

type RuntimeInfo struct {
	AppName     string `json:"app.name"`
	Version     string `json:"version"`
	GoVersion   string `json:"go.version"`
	GoArch      string `json:"go.arch"`
	VcsRevision string `json:"vcs.revision"`
	VcsTime     string `json:"vcs.time"`
	Dirty       bool   `json:"dirty"`
	StartedAt   int64  `json:"started_at"`
}

var BuildInfo = Load("trove")

// Load reads the build settings embedded by the go tool.
func Load(app string) RuntimeInfo {
	info := RuntimeInfo{
		AppName:   app,
		Version:   "devel",
		GoVersion: runtime.Version(),
		GoArch:    runtime.GOARCH,
		StartedAt: time.Now().UnixMilli(),
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.Version = v
	}
	for _, kv := range bi.Settings {
		switch kv.Key {
		case "vcs.revision":
			info.VcsRevision = kv.Value[:min(8, len(kv.Value))]
		case "vcs.time":
			info.VcsTime = kv.Value
		case "vcs.modified":
			info.Dirty = kv.Value == "true"
		}
	}
	return info
}

// UserAgent is the default User-Agent of outgoing fetches.
func (info RuntimeInfo) UserAgent() string {
	if info.VcsRevision != "" {
		return fmt.Sprintf("%s/%s (%s)", info.AppName, info.Version, info.VcsRevision)
	}
	return fmt.Sprintf("%s/%s", info.AppName, info.Version)
}

func (info RuntimeInfo) String() string {
	return fmt.Sprintf(`Version: %s
Go: %s %s
Commit: %s
Built at: %s
Dirty: %t`,
		info.Version, info.GoVersion, info.GoArch, info.VcsRevision, info.VcsTime, info.Dirty)
}
