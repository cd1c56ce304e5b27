package lode

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/types"
)

// failingSink is a test double that returns errors on writes.
type failingSink struct {
	writeErr error
	closed   bool
}

func (s *failingSink) WriteRecords(context.Context, *types.RunRecord, []*types.Record) error {
	return s.writeErr
}

func (s *failingSink) PutFile(context.Context, *types.RunRecord, string, io.Reader, int64, string) error {
	return s.writeErr
}

func (s *failingSink) Close() error {
	s.closed = true
	return nil
}

func TestInstrumentedSink_Success(t *testing.T) {
	collector := metrics.NewCollector("fs", "sync")
	sink := NewInstrumentedSink(NewSink(NewStubClient()), collector)
	ctx := t.Context()

	if err := sink.WriteRecords(ctx, testRun(), []*types.Record{types.NewRunRecord(testRun())}); err != nil {
		t.Fatal(err)
	}
	if err := sink.PutFile(ctx, testRun(), "f", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatal(err)
	}

	s := collector.Snapshot()
	if s.SinkWriteSuccess != 2 || s.SinkWriteFailure != 0 {
		t.Errorf("success/failure = %d/%d, want 2/0", s.SinkWriteSuccess, s.SinkWriteFailure)
	}
}

func TestInstrumentedSink_Failure(t *testing.T) {
	inner := &failingSink{writeErr: errors.New("disk full")}
	collector := metrics.NewCollector("fs", "sync")
	sink := NewInstrumentedSink(inner, collector)

	err := sink.WriteRecords(t.Context(), testRun(), nil)
	if !errors.Is(err, inner.writeErr) {
		t.Errorf("expected inner error, got %v", err)
	}

	s := collector.Snapshot()
	if s.SinkWriteFailure != 1 || s.SinkWriteSuccess != 0 {
		t.Errorf("success/failure = %d/%d, want 0/1", s.SinkWriteSuccess, s.SinkWriteFailure)
	}

	if err := sink.Close(); err != nil || !inner.closed {
		t.Error("Close should delegate to inner sink")
	}
}

func TestInstrumentedSink_NilCollector(t *testing.T) {
	sink := NewInstrumentedSink(&failingSink{writeErr: errors.New("x")}, nil)
	_ = sink.WriteRecords(t.Context(), testRun(), nil)
}
