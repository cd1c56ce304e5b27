package lode

import (
	"context"
	"io"

	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/types"
)

// InstrumentedSink wraps a sender.Sink and records write metrics.
// Each WriteRecords/PutFile call increments sink write success or failure
// on the metrics collector.
type InstrumentedSink struct {
	inner     sender.Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner sender.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteRecords delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) WriteRecords(ctx context.Context, run *types.RunRecord, recs []*types.Record) error {
	err := s.inner.WriteRecords(ctx, run, recs)
	s.observe(err)
	return err
}

// PutFile delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) PutFile(ctx context.Context, run *types.RunRecord, name string, body io.Reader, size int64, contentType string) error {
	err := s.inner.PutFile(ctx, run, name, body, size, contentType)
	s.observe(err)
	return err
}

func (s *InstrumentedSink) observe(err error) {
	if err != nil {
		s.collector.IncSinkWriteFailure()
	} else {
		s.collector.IncSinkWriteSuccess()
	}
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

// Verify InstrumentedSink implements sender.Sink.
var _ sender.Sink = (*InstrumentedSink)(nil)
