//nolint:revive // types is a common Go package naming convention
package types

import "time"

// RunLocation is a run directory discovered on disk.
type RunLocation struct {
	// Path is the run directory.
	Path string `json:"path"`
	// LogPath is the binary run log inside Path, empty if none.
	LogPath string `json:"log_path,omitempty"`
	// Offline is true for runs recorded without a remote.
	Offline bool `json:"offline"`
	// StartedAt is parsed from the directory name when HasStart is true.
	StartedAt time.Time `json:"started_at"`
	HasStart  bool      `json:"has_start"`
	// Synced is true when the log has a synced marker next to it.
	Synced bool `json:"synced"`
}

// ID returns the run id embedded in the directory name, or "" if the name
// does not follow the run directory layout.
func (l RunLocation) ID() string {
	return RunIDFromDirName(baseName(l.Path))
}

// MergeSet is a group of foreign event directories sharing a common root.
type MergeSet struct {
	RootDir string   `json:"root_dir"`
	LogDirs []string `json:"log_dirs"`
}

// ResolvedSource is what a sync target resolved to.
// Exactly one of LogPath or MergeSet is set.
type ResolvedSource struct {
	LogPath  string    `json:"log_path,omitempty"`
	MergeSet *MergeSet `json:"merge_set,omitempty"`
	// EventFiles is the number of foreign event files found.
	EventFiles int `json:"event_files,omitempty"`
	// DroppedForeign is true when event files were ignored in favor of a
	// binary log.
	DroppedForeign bool `json:"dropped_foreign,omitempty"`
}

// IsForeign returns true if the source is a foreign merge set.
func (s *ResolvedSource) IsForeign() bool {
	return s != nil && s.MergeSet != nil
}

// Overrides are user supplied identity overrides for a sync.
type Overrides struct {
	Project string `json:"project,omitempty"`
	Entity  string `json:"entity,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// Apply fills run identity fields from the overrides. Non-empty overrides
// always win.
func (o Overrides) Apply(run *RunRecord) {
	if run == nil {
		return
	}
	if o.Project != "" {
		run.Project = o.Project
	}
	if o.Entity != "" {
		run.Entity = o.Entity
	}
	if o.RunID != "" {
		run.RunID = o.RunID
	}
}
