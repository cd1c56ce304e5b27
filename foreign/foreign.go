// Package foreign ingests TensorBoard event-file trees as runs.
//
// Event files carry no run identity, so the ingester assigns one: the
// run id is generated, the project falls back to a default, and the entity
// is looked up from the API key owner when nothing else names it.
package foreign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/tbwatch"
	"github.com/justapithecus/backfill/types"
)

// Viewer looks up the identity behind the configured credentials.
type Viewer interface {
	Viewer(ctx context.Context) (*types.Viewer, error)
}

// ErrorKind classifies ingestion errors.
type ErrorKind int

const (
	// ErrorLookup indicates the entity could not be resolved.
	ErrorLookup ErrorKind = iota
	// ErrorWatch indicates the event files could not be read.
	ErrorWatch
	// ErrorDelivery indicates the sender failed.
	ErrorDelivery
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorLookup:
		return "lookup"
	case ErrorWatch:
		return "watch"
	case ErrorDelivery:
		return "delivery"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is an ingestion failure. Records already forwarded are not
// rolled back.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsLookupError returns true if the entity lookup failed.
func IsLookupError(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == ErrorLookup
}

// Config configures an Ingester.
type Config struct {
	// Viewer resolves the entity when neither an override nor Entity is
	// set. May be nil when an entity is always supplied.
	Viewer Viewer
	// Entity and Project are defaults applied below overrides.
	Entity  string
	Project string
	AppURL  string
	// Out receives user-facing progress lines. Defaults to io.Discard.
	Out       io.Writer
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Outcome summarizes an ingestion.
type Outcome struct {
	Run         *types.RunRecord
	URL         string
	Forwarded   int64
	SideEffects int64
	// FilesCopied counts event files staged for upload.
	FilesCopied int
}

// Ingester converts merge sets into runs. The resolved entity is cached
// for the lifetime of the ingester.
type Ingester struct {
	config Config
	logger *log.Logger
	out    io.Writer

	mu     sync.Mutex
	entity string
}

// New creates an ingester.
func New(config Config) *Ingester {
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}
	out := config.Out
	if out == nil {
		out = io.Discard
	}
	return &Ingester{config: config, logger: logger, out: out}
}

// Ingest streams every event file of set into s as one run. workDir is
// the run's working directory; its files subdirectory must be the
// sender's files directory.
func (in *Ingester) Ingest(ctx context.Context, set *types.MergeSet, overrides types.Overrides, s sender.Sender, workDir string) (*Outcome, error) {
	if set == nil || len(set.LogDirs) == 0 {
		return nil, &Error{Kind: ErrorWatch, Err: errors.New("empty merge set")}
	}

	run, err := in.identity(ctx, overrides)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Run: run.Clone(), URL: types.RunURL(in.config.AppURL, run)}
	logger := in.logger.WithRun(run.Entity, run.Project, run.RunID)
	_, _ = fmt.Fprintf(in.out, "Syncing: %s ... ", outcome.URL)

	err = in.ingest(ctx, set, run, s, workDir, logger, outcome)
	if err != nil {
		_, _ = fmt.Fprintln(in.out, "failed.")
		if outcome.Forwarded > 0 {
			logger.Warn("ingestion failed after records were delivered; they are not rolled back", map[string]any{
				"root":      set.RootDir,
				"forwarded": outcome.Forwarded,
				"error":     err.Error(),
			})
		}
		return outcome, err
	}
	_, _ = fmt.Fprintln(in.out, "done.")
	return outcome, nil
}

func (in *Ingester) ingest(ctx context.Context, set *types.MergeSet, run *types.RunRecord, s sender.Sender, workDir string, logger *log.Logger, outcome *Outcome) error {
	if err := in.forward(ctx, s, types.NewRunRecord(run), outcome); err != nil {
		return err
	}

	watcher, err := tbwatch.New(tbwatch.Config{
		FilesDir: filepath.Join(workDir, "tb"),
		Logger:   logger,
	})
	if err != nil {
		return &Error{Kind: ErrorWatch, Err: err}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := watcher.Start(watchCtx, set.RootDir, set.LogDirs); err != nil {
		cancel()
		_ = watcher.Finish()
		return &Error{Kind: ErrorWatch, Err: err}
	}

	finished := make(chan error, 1)
	go func() { finished <- watcher.Finish() }()

	var sendErr error
	for rec := range watcher.Records() {
		if sendErr != nil {
			// Keep draining so the watcher can exit.
			continue
		}
		if rec.Kind == types.KindHistory && rec.History != nil {
			rec.History.Set(types.StepKey, strconv.FormatInt(rec.History.Step.Num, 10))
		}
		in.config.Collector.IncRecordRead(string(rec.Kind))
		if err := in.forward(ctx, s, rec, outcome); err != nil {
			sendErr = err
			cancel()
		}
	}
	watchErr := <-finished
	if sendErr != nil {
		return sendErr
	}
	if watchErr != nil {
		return &Error{Kind: ErrorWatch, Err: watchErr}
	}

	n, err := copyFiles(watcher.FilesDir(), filepath.Join(workDir, "files"))
	if err != nil {
		return &Error{Kind: ErrorWatch, Err: fmt.Errorf("stage event files: %w", err)}
	}
	outcome.FilesCopied = n

	if err := s.Finish(ctx); err != nil {
		return &Error{Kind: ErrorDelivery, Err: fmt.Errorf("finish: %w", err)}
	}
	return nil
}

func (in *Ingester) forward(ctx context.Context, s sender.Sender, rec *types.Record, outcome *Outcome) error {
	if err := s.Send(ctx, rec); err != nil {
		return &Error{Kind: ErrorDelivery, Err: fmt.Errorf("send %s record: %w", rec.Kind, err)}
	}
	outcome.Forwarded++
	for {
		side, ok := s.PollOutgoing()
		if !ok {
			return nil
		}
		if err := s.Send(ctx, side); err != nil {
			return &Error{Kind: ErrorDelivery, Err: fmt.Errorf("send %s record: %w", side.Kind, err)}
		}
		outcome.SideEffects++
		in.config.Collector.IncRecordSideEffect()
	}
}

// identity builds the run record for a merge set.
func (in *Ingester) identity(ctx context.Context, overrides types.Overrides) (*types.RunRecord, error) {
	run := &types.RunRecord{
		RunID:   overrides.RunID,
		Project: overrides.Project,
		Entity:  overrides.Entity,
	}
	if run.RunID == "" {
		run.RunID = sender.NewRunID()
	}
	if run.Project == "" {
		run.Project = in.config.Project
	}
	if run.Project == "" {
		run.Project = types.DefaultProject
	}
	if run.Entity == "" {
		entity, err := in.lookupEntity(ctx)
		if err != nil {
			return nil, err
		}
		run.Entity = entity
	}
	return run, nil
}

func (in *Ingester) lookupEntity(ctx context.Context) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.config.Entity != "" {
		return in.config.Entity, nil
	}
	if in.entity != "" {
		return in.entity, nil
	}
	if in.config.Viewer == nil {
		return "", &Error{Kind: ErrorLookup, Err: errors.New("no entity configured and no viewer available")}
	}
	v, err := in.config.Viewer.Viewer(ctx)
	if err != nil {
		return "", &Error{Kind: ErrorLookup, Err: err}
	}
	if v == nil || v.Entity == "" {
		return "", &Error{Kind: ErrorLookup, Err: errors.New("viewer has no entity")}
	}
	in.entity = v.Entity
	return in.entity, nil
}
