// Package types defines core domain types for backfill.
//
//nolint:revive // types is a common Go package naming convention
package types

// RecordKind is the discriminator of a Record.
type RecordKind string

// Record kinds with dedicated handling. Any other kind is carried opaquely.
const (
	KindRun     RecordKind = "run"
	KindHistory RecordKind = "history"
	KindFiles   RecordKind = "files"
	KindExit    RecordKind = "exit"
	KindFinal   RecordKind = "final"
)

// IsKnown returns true if the kind has a typed payload.
func (k RecordKind) IsKnown() bool {
	switch k {
	case KindRun, KindHistory, KindFiles, KindExit, KindFinal:
		return true
	default:
		return false
	}
}

// Control carries flow-control flags attached to a record.
type Control struct {
	// ReqResp marks the record as requiring exactly one result before
	// the producer continues.
	ReqResp bool `msgpack:"req_resp,omitempty" json:"req_resp,omitempty" yaml:"req_resp,omitempty"`
	// Mailbox correlates a result with the record that requested it.
	Mailbox string `msgpack:"mailbox,omitempty" json:"mailbox,omitempty" yaml:"mailbox,omitempty"`
}

// Record is one tagged unit of a run log.
//
// Exactly one payload field matching Kind is set. Records whose kind is not
// known to this build keep their encoded payload in Other so they can be
// forwarded unchanged.
type Record struct {
	Kind    RecordKind `json:"kind" yaml:"kind"`
	Num     int64      `json:"num" yaml:"num"`
	Control Control    `json:"control,omitempty" yaml:"control,omitempty"`

	Run     *RunRecord     `json:"run,omitempty" yaml:"run,omitempty"`
	History *HistoryRecord `json:"history,omitempty" yaml:"history,omitempty"`
	Files   *FilesRecord   `json:"files,omitempty" yaml:"files,omitempty"`
	Exit    *ExitRecord    `json:"exit,omitempty" yaml:"exit,omitempty"`
	Final   *FinalRecord   `json:"final,omitempty" yaml:"final,omitempty"`

	// Other is the raw encoded payload of an unknown kind.
	Other []byte `json:"other,omitempty" yaml:"other,omitempty"`
}

// RunRecord is the run identity.
type RunRecord struct {
	RunID       string `msgpack:"run_id" json:"run_id" yaml:"run_id"`
	Entity      string `msgpack:"entity" json:"entity" yaml:"entity"`
	Project     string `msgpack:"project" json:"project" yaml:"project"`
	DisplayName string `msgpack:"display_name,omitempty" json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Group       string `msgpack:"group,omitempty" json:"group,omitempty" yaml:"group,omitempty"`
	JobType     string `msgpack:"job_type,omitempty" json:"job_type,omitempty" yaml:"job_type,omitempty"`
	// StartedAt is the run start time in unix milliseconds.
	StartedAt int64 `msgpack:"started_at,omitempty" json:"started_at,omitempty" yaml:"started_at,omitempty"`
}

// Clone returns a copy of the run record.
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// HistoryStep is the structural step of a history row.
type HistoryStep struct {
	Num int64 `msgpack:"num" json:"num" yaml:"num"`
}

// HistoryItem is one key of a history row. Values are JSON encoded.
type HistoryItem struct {
	Key       string `msgpack:"key" json:"key" yaml:"key"`
	ValueJSON string `msgpack:"value_json" json:"value_json" yaml:"value_json"`
}

// HistoryRecord is one row of logged metrics.
type HistoryRecord struct {
	Step  HistoryStep   `msgpack:"step" json:"step" yaml:"step"`
	Items []HistoryItem `msgpack:"items" json:"items" yaml:"items"`
}

// Get returns the JSON value of key, if present.
func (h *HistoryRecord) Get(key string) (string, bool) {
	for _, item := range h.Items {
		if item.Key == key {
			return item.ValueJSON, true
		}
	}
	return "", false
}

// Set replaces the value of key, appending it when absent.
func (h *HistoryRecord) Set(key, valueJSON string) {
	for i := range h.Items {
		if h.Items[i].Key == key {
			h.Items[i].ValueJSON = valueJSON
			return
		}
	}
	h.Items = append(h.Items, HistoryItem{Key: key, ValueJSON: valueJSON})
}

// FilePolicy controls when a referenced file is uploaded.
type FilePolicy string

const (
	// FilePolicyNow uploads the file as soon as the reference is seen.
	FilePolicyNow FilePolicy = "now"
	// FilePolicyEnd uploads the file when the sender finishes.
	FilePolicyEnd FilePolicy = "end"
)

// FileItem references a file relative to the run's files directory.
type FileItem struct {
	Path   string     `msgpack:"path" json:"path" yaml:"path"`
	Policy FilePolicy `msgpack:"policy" json:"policy" yaml:"policy"`
}

// FilesRecord references run files.
type FilesRecord struct {
	Files []FileItem `msgpack:"files" json:"files" yaml:"files"`
}

// ExitRecord is the exit status of the instrumented process.
type ExitRecord struct {
	ExitCode       int32 `msgpack:"exit_code" json:"exit_code" yaml:"exit_code"`
	RuntimeSeconds int64 `msgpack:"runtime_seconds" json:"runtime_seconds" yaml:"runtime_seconds"`
}

// FinalRecord is the last record written by a cleanly closed run log.
type FinalRecord struct{}

// NewRunRecord wraps a run identity in a record.
func NewRunRecord(run *RunRecord) *Record {
	return &Record{Kind: KindRun, Run: run}
}

// NewHistoryRecord wraps a history row in a record.
func NewHistoryRecord(h *HistoryRecord) *Record {
	return &Record{Kind: KindHistory, History: h}
}

// NewFilesRecord wraps file references in a record.
func NewFilesRecord(files ...FileItem) *Record {
	return &Record{Kind: KindFiles, Files: &FilesRecord{Files: files}}
}
