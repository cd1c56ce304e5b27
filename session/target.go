package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/justapithecus/backfill/adapter"
	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/replay"
	"github.com/justapithecus/backfill/resolve"
	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/types"
)

// errLocked reports a target held by another process.
var errLocked = errors.New("target is being synced by another process")

func (m *Manager) syncTarget(ctx context.Context, scratch *Scratch, i int, path string) Outcome {
	start := time.Now()
	logger := m.logger.WithTarget(path)
	m.config.Collector.IncTargetStarted()

	outcome := m.runTarget(ctx, scratch, i, path, logger)
	outcome.Path = path
	outcome.Duration = time.Since(start)

	switch outcome.Status {
	case StatusSynced, StatusViewed:
		m.config.Collector.IncTargetSynced()
	case StatusSkipped:
		m.config.Collector.IncTargetSkipped()
		_, _ = fmt.Fprintf(m.out, "Skipping: %s (%v)\n", path, reason(outcome.Err))
		logger.Info("target skipped", map[string]any{"reason": reason(outcome.Err)})
	case StatusFailed:
		m.config.Collector.IncTargetFailed()
		logger.Error("target failed", map[string]any{"error": outcome.Err.Error()})
	}

	if outcome.Status == StatusSynced {
		m.notify(ctx, &outcome, logger)
	}
	return outcome
}

func reason(err error) string {
	var skipErr *resolve.SkipError
	if errors.As(err, &skipErr) {
		return skipErr.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func (m *Manager) runTarget(ctx context.Context, scratch *Scratch, i int, path string, logger *log.Logger) Outcome {
	if !m.config.View {
		unlock, err := m.lock(path)
		if err != nil {
			if errors.Is(err, errLocked) {
				return Outcome{Status: StatusSkipped, Err: err}
			}
			return Outcome{Status: StatusFailed, Err: err}
		}
		defer unlock()
	}

	src, err := resolve.Resolve(path, resolve.Options{
		IncludeTensorboard: m.config.IncludeTensorboard,
		Logger:             logger,
	})
	if err != nil {
		if resolve.IsSkip(err) {
			return Outcome{Status: StatusSkipped, Err: err}
		}
		return Outcome{Status: StatusFailed, Err: err}
	}

	if src.IsForeign() {
		return m.runForeign(ctx, scratch, i, src, logger)
	}
	return m.runLog(ctx, scratch, i, src.LogPath, logger)
}

func (m *Manager) runLog(ctx context.Context, scratch *Scratch, i int, logPath string, logger *log.Logger) Outcome {
	outcome := Outcome{Source: adapter.SourceBinaryLog, LogPath: logPath}

	cfg := replay.Config{
		LogPath:   logPath,
		Overrides: m.config.Overrides,
		AppURL:    m.config.AppURL,
		View:      m.config.View,
		Verbose:   m.config.Verbose,
		Out:       m.out,
		Logger:    logger,
		Collector: m.config.Collector,
	}
	if !m.config.View {
		workDir, err := scratch.TargetDir(i)
		if err != nil {
			outcome.Status, outcome.Err = StatusFailed, err
			return outcome
		}
		mgr, err := m.newSender(workDir, filepath.Join(filepath.Dir(logPath), "files"), logger)
		if err != nil {
			outcome.Status, outcome.Err = StatusFailed, err
			return outcome
		}
		cfg.Sender = mgr
	}

	engine, err := replay.New(cfg)
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}
	res, err := engine.Run(ctx)
	if res != nil {
		outcome.Run = res.Run
		outcome.URL = res.URL
		outcome.Records = res.Forwarded + res.SideEffects
	}
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}

	if m.config.View {
		outcome.Status = StatusViewed
		return outcome
	}

	if m.config.MarkSynced {
		if err := writeMarker(logPath); err != nil {
			outcome.Status, outcome.Err = StatusFailed, err
			return outcome
		}
		outcome.Marked = true
	}
	outcome.Status = StatusSynced
	return outcome
}

// runForeign ingests a merge set. Foreign sources have no log to mark.
func (m *Manager) runForeign(ctx context.Context, scratch *Scratch, i int, src *types.ResolvedSource, logger *log.Logger) Outcome {
	set := src.MergeSet
	outcome := Outcome{Source: adapter.SourceTensorboard}
	_, _ = fmt.Fprintf(m.out, "Found %d tfevent files in %s\n", src.EventFiles, set.RootDir)

	if m.config.View {
		for _, dir := range set.LogDirs {
			_, _ = fmt.Fprintf(m.out, "Tensorboard: %s\n", dir)
		}
		outcome.Status = StatusViewed
		return outcome
	}

	workDir, err := scratch.TargetDir(i)
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}
	mgr, err := m.newSender(workDir, "", logger)
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}

	res, err := m.ingester.Ingest(ctx, set, m.config.Overrides, mgr, workDir)
	if res != nil {
		outcome.Run = res.Run
		outcome.URL = res.URL
		outcome.Records = res.Forwarded + res.SideEffects
	}
	if err != nil {
		outcome.Status, outcome.Err = StatusFailed, err
		return outcome
	}
	outcome.Status = StatusSynced
	return outcome
}

func (m *Manager) newSender(workDir, sourceFiles string, logger *log.Logger) (*sender.Manager, error) {
	return sender.NewManager(sender.Config{
		Sink:           m.config.Sink,
		FilesDir:       filepath.Join(workDir, "files"),
		SourceFilesDir: sourceFiles,
		Entity:         m.config.Entity,
		Project:        m.config.Project,
		FlushCount:     m.config.FlushCount,
		Logger:         logger,
		Collector:      m.config.Collector,
	})
}

// lock takes the cross-process lock of a target. Lock files live outside
// the run directory, named by a hash of the target path.
func (m *Manager) lock(path string) (func(), error) {
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+path)).String() + ".lock"
	fl := flock.New(filepath.Join(m.config.LockDir, name))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("session: lock %s: %w", path, err)
	}
	if !ok {
		return nil, errLocked
	}
	return func() { _ = fl.Unlock() }, nil
}

// writeMarker creates the zero-byte synced marker next to a log.
func writeMarker(logPath string) error {
	f, err := os.Create(types.SyncedMarkerPath(logPath))
	if err != nil {
		return fmt.Errorf("session: write synced marker: %w", err)
	}
	return f.Close()
}

func (m *Manager) notify(ctx context.Context, o *Outcome, logger *log.Logger) {
	if m.config.Adapter == nil {
		return
	}
	event := &adapter.TargetSyncedEvent{
		EventType:  adapter.EventTargetSynced,
		Version:    types.Version,
		Path:       o.Path,
		LogPath:    o.LogPath,
		Source:     o.Source,
		URL:        o.URL,
		Records:    o.Records,
		Marked:     o.Marked,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Run != nil {
		event.RunID = o.Run.RunID
		event.Entity = o.Run.Entity
		event.Project = o.Run.Project
	}
	if err := m.config.Adapter.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish target event", map[string]any{"error": err.Error()})
	}
}
