// Package replay replays a binary run log into a sender.
//
// The engine reads records in on-disk order and forwards them unchanged,
// with two exceptions: run records are rewritten with the user's identity
// overrides and wait for the sender's answer, and an exit record is held
// back until the final record that follows it, so the exit is delivered in
// the final record's place. An exit with no final after it is never
// delivered: the writer did not finish, so the run did not exit cleanly.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/backfill/iox"
	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/runlog"
	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/types"
)

// State is a replay state.
type State int

const (
	// StateScanning reads and forwards records.
	StateScanning State = iota
	// StateBuffering holds an exit record until the final record.
	StateBuffering
	// StateDraining finishes the sender after end of log.
	StateDraining
	// StateDone is the successful terminal state.
	StateDone
	// StateAborted is the failed terminal state.
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateBuffering:
		return "buffering"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config configures an Engine.
type Config struct {
	LogPath   string
	Overrides types.Overrides
	// Sender receives the replayed records. Unused in view mode.
	Sender sender.Sender
	// AppURL is the base of the printed run URL.
	AppURL string
	// View prints records instead of sending them.
	View bool
	// Verbose prints full records in view mode.
	Verbose bool
	// Out receives user-facing progress lines. Defaults to io.Discard.
	Out       io.Writer
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Outcome summarizes a replay.
type Outcome struct {
	// Run is the identity confirmed by the sender, nil in view mode.
	Run *types.RunRecord
	URL string
	// Read counts records decoded from the log.
	Read int64
	// Forwarded counts records sent, excluding side effects.
	Forwarded int64
	// SideEffects counts sender-originated records forwarded back.
	SideEffects int64
	// Opaque counts forwarded records of kinds this build has no type for.
	Opaque int64
	// ExitForwarded is true once an exit record was delivered.
	ExitForwarded bool
	// ExitDropped is true when the log ended with an exit still buffered.
	ExitDropped bool
	State       State
}

// Engine replays one binary log.
type Engine struct {
	config  Config
	logger  *log.Logger
	out     io.Writer
	state   State
	pending *types.Record
	outcome Outcome
	printed bool
}

// New creates an engine.
func New(config Config) (*Engine, error) {
	if config.LogPath == "" {
		return nil, errors.New("replay: log path is required")
	}
	if !config.View && config.Sender == nil {
		return nil, errors.New("replay: sender is required")
	}
	out := config.Out
	if out == nil {
		out = io.Discard
	}
	return &Engine{config: config, logger: config.baseLogger(), out: out}, nil
}

func (c Config) baseLogger() *log.Logger {
	if c.Logger == nil {
		return log.Nop()
	}
	return c.Logger
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Run replays the log until the sender finishes or a fatal error occurs.
// Returns:
//   - nil error: every record was delivered and the sender finished
//   - *Error: the target failed; the outcome reports progress so far
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	err := e.run(ctx)
	if err != nil {
		e.state = StateAborted
		if e.printed {
			_, _ = fmt.Fprintln(e.out, "failed.")
		}
	}
	e.outcome.State = e.state
	out := e.outcome
	return &out, err
}

func (e *Engine) run(ctx context.Context) error {
	reader, err := runlog.Open(e.config.LogPath)
	if err != nil {
		e.config.Collector.IncDecodeErrors()
		return &Error{Kind: ErrorDecode, Err: err}
	}
	defer iox.DiscardClose(reader)

	e.state = StateScanning
	for {
		if err := ctx.Err(); err != nil {
			return &Error{Kind: ErrorCanceled, Err: err}
		}

		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.logger.Error("record decode error", map[string]any{
				"path":  e.config.LogPath,
				"after": reader.Count(),
				"error": err.Error(),
			})
			e.config.Collector.IncDecodeErrors()
			return &Error{Kind: ErrorDecode, Num: reader.Count() + 1, Err: err}
		}
		e.outcome.Read++
		e.config.Collector.IncRecordRead(string(rec.Kind))

		if e.config.View {
			if err := e.view(rec); err != nil {
				return err
			}
			continue
		}

		if err := e.dispatch(ctx, rec); err != nil {
			return err
		}
	}

	if e.config.View {
		e.state = StateDone
		return nil
	}
	return e.drain(ctx)
}

// dispatch routes one record.
func (e *Engine) dispatch(ctx context.Context, rec *types.Record) error {
	switch rec.Kind {
	case types.KindRun:
		return e.handleRun(ctx, rec)
	case types.KindExit:
		if e.pending != nil {
			e.logger.Warn("second exit record replaces the buffered one", map[string]any{
				"previous": e.pending.Num,
				"num":      rec.Num,
			})
		}
		e.pending = rec
		e.state = StateBuffering
		return nil
	case types.KindFinal:
		if e.pending == nil {
			return &Error{Kind: ErrorProtocol, Num: rec.Num, Err: errors.New("final record without a preceding exit record")}
		}
		exit := e.pending
		e.pending = nil
		e.state = StateScanning
		return e.forwardExit(ctx, exit)
	case types.KindHistory, types.KindFiles:
		return e.forward(ctx, rec, rec.Control.ReqResp)
	default:
		// Unknown kinds pass through unchanged in Other.
		if !rec.Kind.IsKnown() {
			e.outcome.Opaque++
			e.logger.Debug("forwarding record of unknown kind", map[string]any{
				"kind": string(rec.Kind),
				"num":  rec.Num,
			})
		}
		return e.forward(ctx, rec, rec.Control.ReqResp)
	}
}

func (e *Engine) handleRun(ctx context.Context, rec *types.Record) error {
	if rec.Run == nil {
		rec.Run = &types.RunRecord{}
	}
	e.config.Overrides.Apply(rec.Run)
	return e.forward(ctx, rec, true)
}

func (e *Engine) forwardExit(ctx context.Context, exit *types.Record) error {
	if err := e.forward(ctx, exit, exit.Control.ReqResp); err != nil {
		return err
	}
	e.outcome.ExitForwarded = true
	return nil
}

// forward sends rec, waits for its result when wait is set, then drains
// the sender's side-effect records.
func (e *Engine) forward(ctx context.Context, rec *types.Record, wait bool) error {
	if wait {
		rec.Control.ReqResp = true
		if rec.Control.Mailbox == "" {
			rec.Control.Mailbox = uuid.NewString()
		}
	}

	if err := e.config.Sender.Send(ctx, rec); err != nil {
		return e.sendError(rec, err)
	}
	e.outcome.Forwarded++

	if wait {
		if err := e.awaitResult(ctx, rec); err != nil {
			return err
		}
	}
	return e.drainOutgoing(ctx)
}

func (e *Engine) awaitResult(ctx context.Context, rec *types.Record) error {
	res, err := e.config.Sender.Result(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: ErrorCanceled, Num: rec.Num, Err: err}
		}
		return &Error{Kind: ErrorDelivery, Num: rec.Num, Err: err}
	}
	if res.Mailbox != rec.Control.Mailbox {
		return &Error{
			Kind: ErrorProtocol,
			Num:  rec.Num,
			Err:  fmt.Errorf("result for mailbox %q while waiting on %q", res.Mailbox, rec.Control.Mailbox),
		}
	}
	if res.Error != nil {
		return &Error{Kind: ErrorDelivery, Num: rec.Num, Err: res.Error}
	}

	if res.Kind == types.ResultRun {
		run := res.Run
		if run == nil {
			run = rec.Run
		}
		e.outcome.Run = run.Clone()
		e.outcome.URL = types.RunURL(e.config.AppURL, run)
		e.logger = e.config.baseLogger().WithRun(run.Entity, run.Project, run.RunID)
		if !e.printed {
			e.printed = true
			_, _ = fmt.Fprintf(e.out, "Syncing: %s ... ", e.outcome.URL)
		}
	}
	return nil
}

func (e *Engine) drainOutgoing(ctx context.Context) error {
	for {
		rec, ok := e.config.Sender.PollOutgoing()
		if !ok {
			return nil
		}
		if err := e.config.Sender.Send(ctx, rec); err != nil {
			return e.sendError(rec, err)
		}
		e.outcome.SideEffects++
		e.config.Collector.IncRecordSideEffect()
	}
}

func (e *Engine) sendError(rec *types.Record, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorCanceled, Num: rec.Num, Err: err}
	}
	return &Error{Kind: ErrorDelivery, Num: rec.Num, Err: fmt.Errorf("send %s record: %w", rec.Kind, err)}
}

// drain drops a dangling exit and finishes the sender.
func (e *Engine) drain(ctx context.Context) error {
	e.state = StateDraining

	if e.pending != nil {
		e.logger.Warn("log ended without a final record, dropping buffered exit", map[string]any{
			"path": e.config.LogPath,
			"num":  e.pending.Num,
		})
		e.pending = nil
		e.outcome.ExitDropped = true
	}

	if err := e.config.Sender.Finish(ctx); err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: ErrorCanceled, Err: err}
		}
		return &Error{Kind: ErrorDelivery, Err: fmt.Errorf("finish: %w", err)}
	}
	e.state = StateDone
	if e.printed {
		_, _ = fmt.Fprintln(e.out, "done.")
	}
	return nil
}

// view prints a record instead of sending it.
func (e *Engine) view(rec *types.Record) error {
	if !e.config.Verbose {
		_, err := fmt.Fprintf(e.out, "Record: %s\n", rec.Kind)
		return err
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to render record %d: %w", rec.Num, err)
	}
	_, err = fmt.Fprintf(e.out, "---\n%s", data)
	return err
}
