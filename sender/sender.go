// Package sender delivers replayed records to a sink.
//
// The Sender interface is what the replay engine and the foreign ingester
// talk to. Manager is the concrete implementation: it batches records,
// answers request/response records, and uploads run files.
package sender

import (
	"context"
	"errors"
	"io"

	"github.com/justapithecus/backfill/types"
)

// ErrNoRun is returned by Finish when no run record was ever sent.
var ErrNoRun = errors.New("no run record was sent")

// ErrClosed is returned when a sender is used after Finish.
var ErrClosed = errors.New("sender is finished")

// Sender accepts records for one run.
type Sender interface {
	// Send accepts one record. Records are delivered in Send order.
	Send(ctx context.Context, rec *types.Record) error

	// Result blocks until the next result is available. Exactly one result
	// is produced per record sent with Control.ReqResp set.
	Result(ctx context.Context) (*types.Result, error)

	// PollOutgoing returns the next sender-originated record, if any.
	// The caller forwards each one back through Send.
	PollOutgoing() (*types.Record, bool)

	// Finish flushes everything and uploads remaining run files.
	Finish(ctx context.Context) error
}

// Sink abstracts delivery for a Manager.
// Implementations may post to a remote service, write to storage, or stub
// for testing.
type Sink interface {
	// WriteRecords delivers a batch of records for run.
	// Must preserve ordering within the batch.
	WriteRecords(ctx context.Context, run *types.RunRecord, recs []*types.Record) error

	// PutFile uploads one run file. name is slash separated and relative to
	// the run's files directory.
	PutFile(ctx context.Context, run *types.RunRecord, name string, body io.Reader, size int64, contentType string) error

	// Close releases any resources held by the sink.
	Close() error
}
