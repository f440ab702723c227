package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Set via -ldflags at build time
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// versionFileName sits beside the binary and overrides Version when present
const versionFileName = ".version"

// VersionInfo is the build identity reported by /api/version
type VersionInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
}

func CurrentVersion() VersionInfo {
	return VersionInfo{Version: Version, Build: Build, GitCommit: GitCommit}
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", v.Version, v.Build, v.GitCommit)
}

func GetVersion() string {
	return Version
}

// GetFullVersion returns the version with build and commit
func GetFullVersion() string {
	return CurrentVersion().String()
}

// LoadVersionFromFile overrides Version from the .version file next to the executable
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}
	return loadVersionFrom(filepath.Join(filepath.Dir(exePath), versionFileName))
}

func loadVersionFrom(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return Version
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
