// Package versions provides build information for the tasktally-ssh binary.
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownStr = "unknown"

// Build information set with -ldflags.
var (
	Version = "dev"
	//nolint:goconst // placeholder replaced at build time
	Commit = unknownStr
	//nolint:goconst // placeholder replaced at build time
	BuildDate = unknownStr
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"buildDate"`
	GoVersion string `json:"go_version" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetVersionInfo returns the build information of the running binary.
func GetVersionInfo() VersionInfo {
	commit, buildDate := Commit, BuildDate
	if strings.HasPrefix(Version, "dev") {
		commit, buildDate = fromBuildInfo(commit, buildDate)
	}
	return versionInfo(Version, commit, buildDate)
}

func fromBuildInfo(commit, buildDate string) (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, buildDate
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == unknownStr {
				commit = setting.Value
			}
		case "vcs.time":
			if buildDate == unknownStr {
				buildDate = setting.Value
			}
		}
	}
	return commit, buildDate
}

func versionInfo(version, commit, buildDate string) VersionInfo {
	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
		}
	}

	// Development builds are named after the commit they were built from.
	if version == "dev" {
		version = fmt.Sprintf("build-%.8s", commit)
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
