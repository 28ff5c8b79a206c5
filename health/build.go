package health

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

var buildInfoPaths = []string{
	"build.info",
	"../build.info",
	"/app/build.info",
}

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	GitBranch string    `json:"git_branch"`
	BuildTime time.Time `json:"build_time"`
	GoVersion string    `json:"go_version"`
}

// ReadBuildInfo collects build metadata from BUILD_* variables, letting a
// build.info file override them.
func ReadBuildInfo() *BuildInfo {
	info := &BuildInfo{
		Version:   getEnvOrDefault("BUILD_VERSION", "dev"),
		GitCommit: getEnvOrDefault("BUILD_COMMIT", "unknown"),
		GitBranch: getEnvOrDefault("BUILD_BRANCH", "unknown"),
		GoVersion: runtime.Version(),
	}

	if value := os.Getenv("BUILD_TIME"); value != "" {
		if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
			info.BuildTime = buildTime
		}
	}

	for _, path := range buildInfoPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		info.merge(parseBuildInfoFile(string(data)))
		break
	}

	return info
}

func (b *BuildInfo) String() string {
	commit := b.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	return fmt.Sprintf("%s-%s (%s, %s)", b.Version, commit, b.BuildTime.Format("2006-01-02"), b.GoVersion)
}

func (b *BuildInfo) merge(other *BuildInfo) {
	if other.Version != "" {
		b.Version = other.Version
	}
	if other.GitCommit != "" {
		b.GitCommit = other.GitCommit
	}
	if other.GitBranch != "" {
		b.GitBranch = other.GitBranch
	}
	if !other.BuildTime.IsZero() {
		b.BuildTime = other.BuildTime
	}
}

func parseBuildInfoFile(content string) *BuildInfo {
	info := &BuildInfo{}

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
			info.GitCommit = value
		case "GIT_BRANCH":
			info.GitBranch = value
		case "BUILD_TIME":
			if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
				info.BuildTime = buildTime
			}
		}
	}

	return info
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
