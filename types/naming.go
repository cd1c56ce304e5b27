//nolint:revive // types is a common Go package naming convention
package types

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// On-disk naming conventions shared by the locator and the sync session.
const (
	// LogSuffix is the file suffix of a binary run log.
	LogSuffix = ".tlog"
	// SyncedSuffix is appended to a log path to form its synced marker.
	SyncedSuffix = ".synced"
	// ForeignEventMarker appears in the name of every foreign event file.
	ForeignEventMarker = ".tfevents."
	// OfflinePrefix starts the directory name of an offline run.
	OfflinePrefix = "offline-run-"
	// OnlinePrefix starts the directory name of an online run.
	OnlinePrefix = "run-"
	// DirTimeLayout is the timestamp layout embedded in run directory names.
	DirTimeLayout = "20060102_150405"
	// DefaultProject is used when neither the run nor the user names one.
	DefaultProject = "uncategorized"
	// StepKey is the history key carrying the structural step.
	StepKey = "_step"
	// TimestampKey is the history key carrying the wall time in seconds.
	TimestampKey = "_timestamp"
)

// LegacyMarkers are file names that identify a run directory from a client
// that predates binary run logs.
var LegacyMarkers = []string{"history.jsonl", "events.jsonl"}

// SyncedMarkerPath returns the marker path for a log.
func SyncedMarkerPath(logPath string) string {
	return logPath + SyncedSuffix
}

// RunDirName builds a run directory name.
func RunDirName(offline bool, startedAt time.Time, runID string) string {
	prefix := OnlinePrefix
	if offline {
		prefix = OfflinePrefix
	}
	return prefix + startedAt.UTC().Format(DirTimeLayout) + "-" + runID
}

// ParseRunDirName splits a run directory name into its parts.
// ok is false if name does not start with a run prefix. hasStart is false
// if the timestamp segment does not parse.
func ParseRunDirName(name string) (offline bool, startedAt time.Time, hasStart bool, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(name, OfflinePrefix):
		offline = true
		rest = strings.TrimPrefix(name, OfflinePrefix)
	case strings.HasPrefix(name, OnlinePrefix):
		rest = strings.TrimPrefix(name, OnlinePrefix)
	default:
		return false, time.Time{}, false, false
	}

	stamp, _, _ := strings.Cut(rest, "-")
	t, err := time.Parse(DirTimeLayout, stamp)
	if err != nil {
		return offline, time.Time{}, false, true
	}
	return offline, t, true, true
}

// RunIDFromDirName returns the id segment of a run directory name.
func RunIDFromDirName(name string) string {
	_, _, _, ok := ParseRunDirName(name)
	if !ok {
		return ""
	}
	idx := strings.LastIndex(name, "-")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return name[idx+1:]
}

// RunURL returns the web URL of a run. Each path segment is escaped.
func RunURL(appURL string, run *RunRecord) string {
	if run == nil {
		return ""
	}
	return strings.TrimRight(appURL, "/") + "/" +
		url.PathEscape(run.Entity) + "/" +
		url.PathEscape(run.Project) + "/runs/" +
		url.PathEscape(run.RunID)
}

func baseName(p string) string {
	return filepath.Base(filepath.Clean(p))
}
