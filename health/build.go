package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildTime time.Time
	GoVersion string
}

// getBuildInfo renders "version-revision (date, go)" from BUILD_* env vars,
// an optional build.info file and the VCS stamp embedded by the toolchain,
// in that order of precedence.
func getBuildInfo(version string) string {
	info := BuildInfo{
		Version:   version,
		Revision:  "unknown",
		GoVersion: runtime.Version(),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Revision = s.Value
			case "vcs.time":
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildTime = t
				}
			}
		}
	}

	if file := readBuildInfoFile(); file != nil {
		info.merge(*file)
	}

	info.merge(BuildInfo{
		Version:  os.Getenv("BUILD_VERSION"),
		Revision: os.Getenv("BUILD_COMMIT"),
	})
	if t, err := time.Parse(time.RFC3339, os.Getenv("BUILD_TIME")); err == nil {
		info.BuildTime = t
	}

	if info.Version == "" {
		info.Version = "dev"
	}

	return info.String()
}

func (b *BuildInfo) merge(other BuildInfo) {
	if other.Version != "" {
		b.Version = other.Version
	}
	if other.Revision != "" {
		b.Revision = other.Revision
	}
	if !other.BuildTime.IsZero() {
		b.BuildTime = other.BuildTime
	}
}

func (b BuildInfo) String() string {
	rev := b.Revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	date := "unknown"
	if !b.BuildTime.IsZero() {
		date = b.BuildTime.Format("2006-01-02")
	}
	return fmt.Sprintf("%s-%s (%s, %s)", b.Version, rev, date, b.GoVersion)
}

func readBuildInfoFile() *BuildInfo {
	for _, path := range []string{"build.info", "/app/build.info"} {
		if data, err := os.ReadFile(path); err == nil {
			info := parseBuildInfoFile(string(data))
			return &info
		}
	}
	return nil
}

// parseBuildInfoFile reads KEY=VALUE lines; blank lines and # comments are
// skipped.
func parseBuildInfoFile(content string) BuildInfo {
	var info BuildInfo

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "VERSION":
			info.Version = value
		case "GIT_COMMIT":
			info.Revision = value
		case "BUILD_TIME":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.BuildTime = t
			}
		}
	}

	return info
}
