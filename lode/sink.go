// Package lode persists replayed runs to a Lode dataset.
//
// Records land in a Hive-partitioned JSONL dataset keyed by
// entity/project/day/run_id/kind. Run files are stored as plain objects
// beside the partition, under files/.
package lode

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "backfill"

// DeriveDay computes the partition day from a run start time in unix
// milliseconds. Runs without a start time fall back to now.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startedAtMs int64) string {
	t := time.Now()
	if startedAtMs > 0 {
		t = time.UnixMilli(startedAtMs)
	}
	return t.UTC().Format("2006-01-02")
}

// Config holds Lode sink configuration.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
}

// Client abstracts the Lode storage client.
// Real implementations connect to Lode; stubs are used for testing.
type Client interface {
	// WriteRecords writes a batch of records for run.
	// Must preserve ordering within the batch.
	WriteRecords(ctx context.Context, run *types.RunRecord, recs []*types.Record) error

	// PutFile writes one run file beside the run's partition.
	PutFile(ctx context.Context, run *types.RunRecord, name, contentType string, body io.Reader) error

	// Close releases client resources.
	Close() error
}

// Sink is a Lode-backed implementation of sender.Sink.
type Sink struct {
	client Client
}

// NewSink creates a new Lode sink.
func NewSink(client Client) *Sink {
	return &Sink{client: client}
}

// WriteRecords implements sender.Sink.
func (s *Sink) WriteRecords(ctx context.Context, run *types.RunRecord, recs []*types.Record) error {
	return s.client.WriteRecords(ctx, run, recs)
}

// PutFile implements sender.Sink.
func (s *Sink) PutFile(ctx context.Context, run *types.RunRecord, name string, body io.Reader, _ int64, contentType string) error {
	return s.client.PutFile(ctx, run, name, contentType, body)
}

// Close implements sender.Sink.
func (s *Sink) Close() error {
	return s.client.Close()
}

// Verify Sink implements sender.Sink.
var _ sender.Sink = (*Sink)(nil)

// StubClient is a test client that accepts writes without persisting.
type StubClient struct {
	mu      sync.Mutex
	Batches []StubBatch
	Files   []StubFile
	Closed  bool
}

// StubBatch is a recorded record write for testing.
type StubBatch struct {
	RunID   string
	Records []*types.Record
}

// StubFile is a recorded file write for testing.
type StubFile struct {
	RunID       string
	Name        string
	ContentType string
	Data        []byte
}

// NewStubClient creates a new stub client.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// WriteRecords implements Client.
func (c *StubClient) WriteRecords(_ context.Context, run *types.RunRecord, recs []*types.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Batches = append(c.Batches, StubBatch{RunID: run.RunID, Records: recs})
	return nil
}

// PutFile implements Client.
func (c *StubClient) PutFile(_ context.Context, run *types.RunRecord, name, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Files = append(c.Files, StubFile{RunID: run.RunID, Name: name, ContentType: contentType, Data: data})
	return nil
}

// Close implements Client.
func (c *StubClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Verify StubClient implements Client.
var _ Client = (*StubClient)(nil)
