// Package metrics provides per-session sync metrics collection.
//
// The Collector accumulates counters during a single sync session. It is a
// leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Targets
	TargetsStarted int64
	TargetsSynced  int64
	TargetsSkipped int64
	TargetsFailed  int64

	// Records
	RecordsRead       int64
	RecordsSent       int64
	RecordsSideEffect int64
	RecordsByKind     map[string]int64
	DecodeErrors      int64

	// Files
	FilesUploaded int64
	BytesUploaded int64

	// Sink
	SinkWriteSuccess int64
	SinkWriteFailure int64

	// Dimensions (informational, set at construction)
	StorageBackend string
	Mode           string
}

// Collector accumulates metrics during a single sync session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	targetsStarted int64
	targetsSynced  int64
	targetsSkipped int64
	targetsFailed  int64

	recordsRead       int64
	recordsSent       int64
	recordsSideEffect int64
	recordsByKind     map[string]int64
	decodeErrors      int64

	filesUploaded int64
	bytesUploaded int64

	sinkWriteSuccess int64
	sinkWriteFailure int64

	storageBackend string
	mode           string
}

// NewCollector creates a Collector with dimension labels.
// mode is "sync" or "view".
func NewCollector(storageBackend, mode string) *Collector {
	return &Collector{
		recordsByKind:  make(map[string]int64),
		storageBackend: storageBackend,
		mode:           mode,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Targets ---

// IncTargetStarted records a target entering the worker.
func (c *Collector) IncTargetStarted() {
	if c == nil {
		return
	}
	c.add(&c.targetsStarted, 1)
}

// IncTargetSynced records a target delivered in full.
func (c *Collector) IncTargetSynced() {
	if c == nil {
		return
	}
	c.add(&c.targetsSynced, 1)
}

// IncTargetSkipped records a target that resolved to nothing syncable.
func (c *Collector) IncTargetSkipped() {
	if c == nil {
		return
	}
	c.add(&c.targetsSkipped, 1)
}

// IncTargetFailed records a target aborted by a fatal error.
func (c *Collector) IncTargetFailed() {
	if c == nil {
		return
	}
	c.add(&c.targetsFailed, 1)
}

// --- Records ---

// IncRecordRead records one record read from a source, by kind.
func (c *Collector) IncRecordRead(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsRead++
	c.recordsByKind[kind]++
	c.mu.Unlock()
}

// IncRecordSent records one record forwarded to the sender.
func (c *Collector) IncRecordSent() {
	if c == nil {
		return
	}
	c.add(&c.recordsSent, 1)
}

// IncRecordSideEffect records one sender-originated record forwarded back.
func (c *Collector) IncRecordSideEffect() {
	if c == nil {
		return
	}
	c.add(&c.recordsSideEffect, 1)
}

// IncDecodeErrors records a run-log decode error.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.decodeErrors, 1)
}

// --- Files ---

// AddFileUploaded records one uploaded file of the given size.
func (c *Collector) AddFileUploaded(size int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesUploaded++
	c.bytesUploaded += size
	c.mu.Unlock()
}

// --- Sink ---
// Sink counters are per-call, not per-record. A single WriteRecords call
// with N records counts as 1 success.

// IncSinkWriteSuccess records a successful sink write operation (per-call).
func (c *Collector) IncSinkWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.sinkWriteSuccess, 1)
}

// IncSinkWriteFailure records a failed sink write operation (per-call).
func (c *Collector) IncSinkWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.sinkWriteFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.recordsByKind))
	for k, v := range c.recordsByKind {
		byKind[k] = v
	}

	return Snapshot{
		TargetsStarted: c.targetsStarted,
		TargetsSynced:  c.targetsSynced,
		TargetsSkipped: c.targetsSkipped,
		TargetsFailed:  c.targetsFailed,

		RecordsRead:       c.recordsRead,
		RecordsSent:       c.recordsSent,
		RecordsSideEffect: c.recordsSideEffect,
		RecordsByKind:     byKind,
		DecodeErrors:      c.decodeErrors,

		FilesUploaded: c.filesUploaded,
		BytesUploaded: c.bytesUploaded,

		SinkWriteSuccess: c.sinkWriteSuccess,
		SinkWriteFailure: c.sinkWriteFailure,

		StorageBackend: c.storageBackend,
		Mode:           c.mode,
	}
}
