// Package version describes the running lettertool binary: the build stamped
// in with -ldflags and the process instance serving requests. Health checks,
// logs and traces all report the same Info.
package version

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Build metadata, stamped at link time:
//
//	go build -ldflags "-X lettertool/internal/version.Version=v1.4.0 \
//	  -X lettertool/internal/version.GitCommit=$(git rev-parse HEAD) \
//	  -X lettertool/internal/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

const shortCommitLen = 7

// Info identifies one running instance of one build.
type Info struct {
	Version    string    `json:"version"`
	GitCommit  string    `json:"git_commit,omitempty"`
	BuildDate  string    `json:"build_date,omitempty"`
	InstanceID string    `json:"instance_id"`
	Hostname   string    `json:"hostname"`
	StartedAt  time.Time `json:"started_at"`
}

var (
	once    sync.Once
	current Info
)

// GetInfo returns the Info of this process. The instance ID and start time
// are fixed on the first call.
func GetInfo() Info {
	once.Do(func() {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "unknown"
		}
		current = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   hostname,
			StartedAt:  time.Now().UTC(),
		}
	})
	return current
}

// ShortCommit is the abbreviated commit hash, or "" for unstamped builds.
func (i Info) ShortCommit() string {
	if len(i.GitCommit) > shortCommitLen {
		return i.GitCommit[:shortCommitLen]
	}
	return i.GitCommit
}

// BuiltAt parses BuildDate. ok is false for unstamped or malformed dates.
func (i Info) BuiltAt() (time.Time, bool) {
	if i.BuildDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, i.BuildDate)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Uptime is the time since the instance started, truncated to seconds.
func (i Info) Uptime(now time.Time) time.Duration {
	if i.StartedAt.IsZero() || now.Before(i.StartedAt) {
		return 0
	}
	return now.Sub(i.StartedAt).Truncate(time.Second)
}

// String formats the build for `lettertool -version`, e.g.
// "lettertool v1.4.0 (a1b2c3d, built 2026-02-21) instance 5f0c...".
func (i Info) String() string {
	s := "lettertool " + i.Version

	var details []string
	if c := i.ShortCommit(); c != "" {
		details = append(details, c)
	}
	if t, ok := i.BuiltAt(); ok {
		details = append(details, "built "+t.Format(time.DateOnly))
	}
	switch len(details) {
	case 1:
		s += fmt.Sprintf(" (%s)", details[0])
	case 2:
		s += fmt.Sprintf(" (%s, %s)", details[0], details[1])
	}

	if i.InstanceID != "" {
		s += " instance " + i.InstanceID
	}
	return s
}
