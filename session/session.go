// Package session runs a list of sync targets on one background worker.
//
// Targets are processed sequentially. A failed or skipped target never
// stops the session; its outcome is recorded and the worker moves on.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/justapithecus/backfill/adapter"
	"github.com/justapithecus/backfill/foreign"
	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/types"
)

// DefaultPollInterval is the default Poll wait.
const DefaultPollInterval = time.Second

// ErrStarted is returned by Add and Start once the session has started.
var ErrStarted = errors.New("session already started")

// Status is the state of one target.
type Status string

// Target statuses.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSynced  Status = "synced"
	StatusViewed  Status = "viewed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// IsTerminal returns true for statuses that end a target.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSynced, StatusViewed, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// Config configures a Manager.
type Config struct {
	// Sink receives records for every target. The caller owns it.
	// Unused in view mode.
	Sink sender.Sink
	// Viewer resolves the entity of foreign runs when none is configured.
	Viewer foreign.Viewer
	// Adapter is notified of every synced target. Optional.
	Adapter adapter.Adapter

	Overrides types.Overrides
	Entity    string
	Project   string
	AppURL    string

	MarkSynced         bool
	View               bool
	Verbose            bool
	IncludeTensorboard bool

	FlushCount   int
	PollInterval time.Duration
	// ScratchDir is the parent of the session's scratch directory.
	// Defaults to os.TempDir().
	ScratchDir string
	// LockDir holds per-target lock files. Defaults to
	// <os.TempDir()>/backfill-locks.
	LockDir string

	// Out receives user-facing progress lines. Defaults to io.Discard.
	Out       io.Writer
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Outcome is the result of one target.
type Outcome struct {
	Path   string
	Status Status
	// Source is adapter.SourceBinaryLog or adapter.SourceTensorboard.
	Source  string
	LogPath string
	Run     *types.RunRecord
	URL     string
	// Records counts records delivered, including side effects.
	Records  int64
	Marked   bool
	Duration time.Duration
	Err      error
}

// TargetStatus is a point-in-time view of one target.
type TargetStatus struct {
	Path   string
	Status Status
}

// Manager owns one sync session.
type Manager struct {
	config   Config
	logger   *log.Logger
	out      io.Writer
	ingester *foreign.Ingester

	mu       sync.Mutex
	targets  []string
	status   []Status
	outcomes []Outcome
	started  bool
	done     chan struct{}
}

// New creates a session manager.
func New(config Config) (*Manager, error) {
	if !config.View && config.Sink == nil {
		return nil, errors.New("session: sink is required unless viewing")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockDir == "" {
		config.LockDir = filepath.Join(os.TempDir(), "backfill-locks")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}
	out := config.Out
	if out == nil {
		out = io.Discard
	}

	return &Manager{
		config: config,
		logger: logger,
		out:    out,
		ingester: foreign.New(foreign.Config{
			Viewer:    config.Viewer,
			Entity:    config.Entity,
			Project:   config.Project,
			AppURL:    config.AppURL,
			Out:       out,
			Logger:    logger,
			Collector: config.Collector,
		}),
		done: make(chan struct{}),
	}, nil
}

// Add queues a target. Paths are made absolute.
func (m *Manager) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrStarted
	}
	m.targets = append(m.targets, abs)
	m.status = append(m.status, StatusPending)
	return nil
}

// Start launches the worker. The session's scratch directory is created
// here and removed when the worker exits.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrStarted
	}

	scratch, err := newScratch(m.config.ScratchDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.config.LockDir, 0o755); err != nil {
		_ = scratch.Release()
		return fmt.Errorf("session: create lock dir: %w", err)
	}

	m.started = true
	targets := append([]string(nil), m.targets...)
	go m.work(ctx, scratch, targets)
	return nil
}

// IsDone returns true once the worker has exited.
func (m *Manager) IsDone() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Poll waits up to the poll interval for the worker and returns IsDone.
func (m *Manager) Poll() bool {
	t := time.NewTimer(m.config.PollInterval)
	defer t.Stop()
	select {
	case <-m.done:
	case <-t.C:
	}
	return m.IsDone()
}

// Wait blocks until the worker exits. It returns immediately if the
// session was never started.
func (m *Manager) Wait() {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	<-m.done
}

// Outcomes returns the outcomes of finished targets in processing order.
func (m *Manager) Outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outcome(nil), m.outcomes...)
}

// Status returns the status of every target.
func (m *Manager) Status() []TargetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TargetStatus, len(m.targets))
	for i, path := range m.targets {
		out[i] = TargetStatus{Path: path, Status: m.status[i]}
	}
	return out
}

// Failed returns the number of failed targets.
func (m *Manager) Failed() int {
	n := 0
	for _, o := range m.Outcomes() {
		if o.Status == StatusFailed {
			n++
		}
	}
	return n
}

func (m *Manager) setStatus(i int, s Status) {
	m.mu.Lock()
	m.status[i] = s
	m.mu.Unlock()
}

func (m *Manager) work(ctx context.Context, scratch *Scratch, targets []string) {
	defer close(m.done)
	defer func() {
		if err := scratch.Release(); err != nil {
			m.logger.Warn("failed to remove scratch directory", map[string]any{
				"dir":   scratch.Dir(),
				"error": err.Error(),
			})
		}
	}()

	for i, path := range targets {
		m.setStatus(i, StatusRunning)
		outcome := m.syncTarget(ctx, scratch, i, path)

		m.mu.Lock()
		m.status[i] = outcome.Status
		m.outcomes = append(m.outcomes, outcome)
		m.mu.Unlock()
	}
}
