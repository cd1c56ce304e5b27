// Package adapter defines the notification boundary for finished sync
// targets.
//
// Adapters publish a TargetSyncedEvent to a downstream system once a
// target has been delivered and marked synced. The session owns adapter
// lifecycle; users provide configuration only.
package adapter

import "context"

// EventTargetSynced is the event type of TargetSyncedEvent.
const EventTargetSynced = "target_synced"

// Target source kinds.
const (
	SourceBinaryLog   = "binary_log"
	SourceTensorboard = "tensorboard"
)

// TargetSyncedEvent is the payload published when a target finishes
// syncing.
type TargetSyncedEvent struct {
	EventType string `json:"event_type"` // always "target_synced"
	Version   string `json:"version"`
	Path      string `json:"path"`
	// LogPath is the synced binary log, empty for tensorboard sources.
	LogPath    string `json:"log_path,omitempty"`
	Source     string `json:"source"`
	RunID      string `json:"run_id"`
	Entity     string `json:"entity"`
	Project    string `json:"project"`
	URL        string `json:"url"`
	Records    int64  `json:"records"`
	Marked     bool   `json:"marked"`
	Timestamp  string `json:"timestamp"` // RFC 3339
	DurationMs int64  `json:"duration_ms"`
}

// Adapter publishes target events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *TargetSyncedEvent) error

	// Close releases adapter resources.
	Close() error
}
