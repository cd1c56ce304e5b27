package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/metrics"
	"github.com/justapithecus/backfill/types"
)

// MetadataFile is written into the files directory when the run identity
// becomes known.
const MetadataFile = "run-metadata.json"

// DefaultFlushCount is the batch size used when Config.FlushCount is zero.
const DefaultFlushCount = 64

// Config configures a Manager.
type Config struct {
	Sink Sink
	// FilesDir is the writable files directory for this run.
	FilesDir string
	// SourceFilesDir is an optional read-only files directory, consulted
	// after FilesDir when resolving file references.
	SourceFilesDir string
	// Entity and Project fill run records that do not carry them.
	Entity  string
	Project string
	// FlushCount triggers a sink write after N buffered records.
	FlushCount int
	Logger     *log.Logger
	Collector  *metrics.Collector
}

// Manager is the Sender implementation used for every sync target.
//
// Thread safety: Send, PollOutgoing, and Finish are called from a single
// goroutine. Result may be called concurrently with Send.
type Manager struct {
	config Config
	logger *log.Logger

	run      *types.RunRecord
	held     []*types.Record
	buffer   []*types.Record
	outgoing []*types.Record
	uploaded map[string]bool
	finished bool

	mu      sync.Mutex
	results []*types.Result
	notify  chan struct{}
}

// NewManager creates a Manager.
func NewManager(config Config) (*Manager, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("sender: sink is required")
	}
	if config.FilesDir == "" {
		return nil, fmt.Errorf("sender: files directory is required")
	}
	if config.FlushCount <= 0 {
		config.FlushCount = DefaultFlushCount
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		config:   config,
		logger:   logger,
		uploaded: make(map[string]bool),
		notify:   make(chan struct{}, 1),
	}, nil
}

// Run returns a copy of the run identity, or nil before the run record.
func (m *Manager) Run() *types.RunRecord {
	return m.run.Clone()
}

// Send accepts one record.
func (m *Manager) Send(ctx context.Context, rec *types.Record) error {
	if m.finished {
		return ErrClosed
	}
	if rec == nil {
		return fmt.Errorf("sender: nil record")
	}

	if rec.Kind == types.KindRun {
		return m.sendRun(ctx, rec)
	}

	if m.run == nil {
		m.held = append(m.held, rec)
	} else {
		if err := m.enqueue(ctx, rec); err != nil {
			return err
		}
	}

	if rec.Control.ReqResp {
		m.post(&types.Result{Kind: types.ResultAck, Mailbox: rec.Control.Mailbox})
	}
	return nil
}

func (m *Manager) sendRun(ctx context.Context, rec *types.Record) error {
	if rec.Run == nil {
		rec.Run = &types.RunRecord{}
	}
	run := rec.Run
	if run.RunID == "" {
		run.RunID = NewRunID()
	}
	if run.Entity == "" {
		run.Entity = m.config.Entity
	}
	if run.Project == "" {
		run.Project = m.config.Project
	}
	if run.Project == "" {
		run.Project = types.DefaultProject
	}

	first := m.run == nil
	m.run = run.Clone()

	if first {
		if err := m.writeMetadata(); err != nil {
			// The run is not established; later records stay held.
			m.run = nil
			if !rec.Control.ReqResp {
				return fmt.Errorf("sender: %w", err)
			}
			m.post(&types.Result{
				Kind:    types.ResultRun,
				Mailbox: rec.Control.Mailbox,
				Error:   &types.ResultError{Code: "metadata", Message: err.Error()},
			})
			return nil
		}
		m.outgoing = append(m.outgoing, types.NewFilesRecord(types.FileItem{Path: MetadataFile, Policy: types.FilePolicyNow}))
	}

	if err := m.enqueue(ctx, rec); err != nil {
		return err
	}
	if first {
		held := m.held
		m.held = nil
		for _, h := range held {
			if err := m.enqueue(ctx, h); err != nil {
				return err
			}
		}
	}

	if rec.Control.ReqResp {
		m.post(&types.Result{Kind: types.ResultRun, Mailbox: rec.Control.Mailbox, Run: m.run.Clone()})
	}
	return nil
}

// enqueue buffers rec for the sink, handling immediate file uploads.
func (m *Manager) enqueue(ctx context.Context, rec *types.Record) error {
	if rec.Kind == types.KindFiles && rec.Files != nil {
		for _, item := range rec.Files.Files {
			if item.Policy != types.FilePolicyNow {
				continue
			}
			if err := m.uploadRef(ctx, item.Path); err != nil {
				return err
			}
		}
	}

	m.buffer = append(m.buffer, rec)
	if len(m.buffer) >= m.config.FlushCount {
		return m.flush(ctx)
	}
	return nil
}

func (m *Manager) flush(ctx context.Context) error {
	if len(m.buffer) == 0 {
		return nil
	}
	batch := m.buffer
	if err := m.config.Sink.WriteRecords(ctx, m.run, batch); err != nil {
		return fmt.Errorf("sender: write %d records: %w", len(batch), err)
	}
	for range batch {
		m.config.Collector.IncRecordSent()
	}
	m.buffer = nil
	return nil
}

// Result returns the next result, blocking until one is posted.
func (m *Manager) Result(ctx context.Context) (*types.Result, error) {
	for {
		m.mu.Lock()
		if len(m.results) > 0 {
			res := m.results[0]
			m.results = m.results[1:]
			m.mu.Unlock()
			return res, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		}
	}
}

func (m *Manager) post(res *types.Result) {
	m.mu.Lock()
	m.results = append(m.results, res)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// PollOutgoing returns the next side-effect record.
func (m *Manager) PollOutgoing() (*types.Record, bool) {
	if len(m.outgoing) == 0 {
		return nil, false
	}
	rec := m.outgoing[0]
	m.outgoing = m.outgoing[1:]
	return rec, true
}

// Finish flushes buffered records and uploads every file not uploaded yet.
func (m *Manager) Finish(ctx context.Context) error {
	if m.finished {
		return ErrClosed
	}
	if m.run == nil {
		return ErrNoRun
	}
	m.finished = true

	if err := m.flush(ctx); err != nil {
		return err
	}

	for _, dir := range m.filesDirs() {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			return m.upload(ctx, filepath.ToSlash(rel), path)
		})
		if err != nil {
			return fmt.Errorf("sender: upload files: %w", err)
		}
	}
	return nil
}

func (m *Manager) filesDirs() []string {
	dirs := []string{m.config.FilesDir}
	if m.config.SourceFilesDir != "" {
		dirs = append(dirs, m.config.SourceFilesDir)
	}
	return dirs
}

// uploadRef uploads a referenced file. Missing files are logged and
// skipped; a reference may point at a file that was never written.
func (m *Manager) uploadRef(ctx context.Context, name string) error {
	name = filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(name, "../") || filepath.IsAbs(name) {
		m.logger.Warn("ignoring file reference outside the files directory", map[string]any{"path": name})
		return nil
	}
	for _, dir := range m.filesDirs() {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if _, err := os.Stat(path); err == nil {
			return m.upload(ctx, name, path)
		}
	}
	m.logger.Warn("referenced file not found", map[string]any{"path": name})
	return nil
}

func (m *Manager) upload(ctx context.Context, name, path string) error {
	if m.uploaded[name] {
		return nil
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := m.config.Sink.PutFile(ctx, m.run, name, f, info.Size(), contentType); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	m.uploaded[name] = true
	m.config.Collector.AddFileUploaded(info.Size())
	m.logger.Debug("uploaded file", map[string]any{"name": name, "size": info.Size(), "content_type": contentType})
	return nil
}

type runMetadata struct {
	*types.RunRecord
	SyncedAt string `json:"synced_at"`
	Tool     string `json:"tool"`
}

func (m *Manager) writeMetadata() error {
	if err := os.MkdirAll(m.config.FilesDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(runMetadata{
		RunRecord: m.run,
		SyncedAt:  time.Now().UTC().Format(time.RFC3339),
		Tool:      "backfill/" + types.Version,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.config.FilesDir, MetadataFile), data, 0o644)
}

// NewRunID returns a new 8 character lowercase alphanumeric run id.
func NewRunID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	u := uuid.New()
	id := make([]byte, 8)
	for i := range id {
		id[i] = alphabet[int(u[i])%len(alphabet)]
	}
	return string(id)
}

var _ Sender = (*Manager)(nil)
