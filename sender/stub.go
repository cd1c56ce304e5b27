package sender

import (
	"context"
	"io"
	"sync"

	"github.com/justapithecus/backfill/types"
)

// StubFile is a file captured by StubSink.
type StubFile struct {
	RunID       string
	Name        string
	Data        []byte
	ContentType string
}

// StubSink is a test sink that accepts writes without persisting.
// Tracks writes for test assertions.
type StubSink struct {
	mu sync.Mutex

	// Records stores all written records in write order.
	Records []*types.Record
	// Batches is the number of WriteRecords calls.
	Batches int64
	// Files stores all uploaded files in upload order.
	Files []StubFile
	// Closed indicates whether Close was called.
	Closed bool

	// ErrorOnWrite, if non-nil, is returned by WriteRecords and PutFile.
	ErrorOnWrite error
}

// NewStubSink creates a new stub sink for testing.
func NewStubSink() *StubSink {
	return &StubSink{}
}

// WriteRecords records the batch without persisting.
func (s *StubSink) WriteRecords(_ context.Context, _ *types.RunRecord, recs []*types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.Batches++
	s.Records = append(s.Records, recs...)
	return nil
}

// PutFile captures the file contents.
func (s *StubSink) PutFile(_ context.Context, run *types.RunRecord, name string, body io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ErrorOnWrite != nil {
		return s.ErrorOnWrite
	}
	s.Files = append(s.Files, StubFile{RunID: run.RunID, Name: name, Data: data, ContentType: contentType})
	return nil
}

// Close marks the sink as closed.
func (s *StubSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Kinds returns the kinds of all written records, in order.
func (s *StubSink) Kinds() []types.RecordKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.RecordKind, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Kind
	}
	return out
}

// FileNames returns the names of all uploaded files, in order.
func (s *StubSink) FileNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Name
	}
	return out
}
