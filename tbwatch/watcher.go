// Package tbwatch reads TensorBoard event files and converts their scalar
// summaries into history records.
package tbwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/backfill/iox"
	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/types"
)

// DefaultBuffer is the default record channel capacity.
const DefaultBuffer = 64

// Config configures a Watcher.
type Config struct {
	// FilesDir receives copies of parsed event files. A temporary
	// directory is created when empty.
	FilesDir string
	Logger   *log.Logger
	Buffer   int
}

// Watcher parses event files from a set of directories. Each directory is
// parsed on its own goroutine; records from one directory keep file order.
type Watcher struct {
	filesDir string
	logger   *log.Logger
	records  chan *types.Record

	mu      sync.Mutex
	g       errgroup.Group
	started bool
	done    bool
}

// New creates a watcher.
func New(cfg Config) (*Watcher, error) {
	dir := cfg.FilesDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "tbwatch-files-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create files dir: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create files dir: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	return &Watcher{
		filesDir: dir,
		logger:   logger,
		records:  make(chan *types.Record, buffer),
	}, nil
}

// FilesDir returns the directory holding copies of parsed event files.
func (w *Watcher) FilesDir() string {
	return w.filesDir
}

// Records returns the channel of produced records. It is closed by Finish.
func (w *Watcher) Records() <-chan *types.Record {
	return w.records
}

// Start begins parsing every dir. Keys from a dir other than root are
// prefixed with its path relative to root.
func (w *Watcher) Start(ctx context.Context, root string, dirs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("watcher already started")
	}
	w.started = true

	// Every dir is checked before any parser runs, so a rejected set
	// leaves nothing behind for Finish to wait on.
	rels := make([]string, len(dirs))
	for i, dir := range dirs {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("log dir %s is not under %s", dir, root)
		}
		rels[i] = rel
	}
	for i, dir := range dirs {
		rel := rels[i]
		w.g.Go(func() error {
			return w.parseDir(ctx, dir, rel)
		})
	}
	return nil
}

// Finish waits for all directories to be parsed and closes the record
// channel. Callers must keep draining Records while Finish runs.
func (w *Watcher) Finish() error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return nil
	}
	w.done = true
	w.mu.Unlock()

	err := w.g.Wait()
	close(w.records)
	return err
}

func (w *Watcher) parseDir(ctx context.Context, dir, rel string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("failed to list event dir", map[string]any{
			"dir":   dir,
			"error": err.Error(),
		})
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.Contains(e.Name(), types.ForeignEventMarker) {
			names = append(names, e.Name())
		}
	}
	// Event file names embed their creation time.
	sort.Strings(names)

	prefix := ""
	if rel != "." {
		prefix = filepath.ToSlash(rel) + "/"
	}

	for _, name := range names {
		if err := w.parseFile(ctx, filepath.Join(dir, name), prefix); err != nil {
			return err
		}

		relName := filepath.Join(rel, name)
		if _, err := iox.CopyFile(filepath.Join(dir, name), filepath.Join(w.filesDir, relName)); err != nil {
			w.logger.Warn("failed to copy event file", map[string]any{
				"path":  filepath.Join(dir, name),
				"error": err.Error(),
			})
			continue
		}
		ref := types.NewFilesRecord(types.FileItem{
			Path:   filepath.ToSlash(relName),
			Policy: types.FilePolicyEnd,
		})
		if err := w.emit(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// parseFile emits one history record per run of consecutive events with
// the same step. Only context cancellation is returned as an error.
func (w *Watcher) parseFile(ctx context.Context, path, prefix string) error {
	f, err := os.Open(path)
	if err != nil {
		w.logger.Warn("failed to open event file", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return nil
	}
	defer iox.DiscardClose(f)

	var pending *types.HistoryRecord
	var wallTime float64
	flush := func() error {
		if pending == nil {
			return nil
		}
		pending.Set(types.TimestampKey, formatFloat(wallTime, false))
		rec := types.NewHistoryRecord(pending)
		pending = nil
		return w.emit(ctx, rec)
	}

	rr := NewRecordReader(f)
	for {
		data, err := rr.Next()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				// A truncated tail is a file still being written.
			default:
				w.logger.Warn("stopped reading event file", map[string]any{
					"path":  path,
					"error": err.Error(),
				})
			}
			return flush()
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			w.logger.Warn("skipping undecodable event", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		if len(ev.Scalars) == 0 {
			continue
		}

		if pending != nil && pending.Step.Num != ev.Step {
			if err := flush(); err != nil {
				return err
			}
		}
		if pending == nil {
			pending = &types.HistoryRecord{Step: types.HistoryStep{Num: ev.Step}}
		}
		for _, s := range ev.Scalars {
			pending.Set(prefix+s.Tag, scalarJSON(s))
		}
		wallTime = ev.WallTime
	}
}

func (w *Watcher) emit(ctx context.Context, rec *types.Record) error {
	select {
	case w.records <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func scalarJSON(s Scalar) string {
	if s.IsInt {
		return strconv.FormatInt(s.Int, 10)
	}
	return formatFloat(s.Value, s.Float32)
}

// formatFloat renders a float as a JSON value. Non-finite values use the
// extended JSON literals understood by the history ingestion endpoint.
func formatFloat(v float64, single bool) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	if single {
		return strconv.FormatFloat(v, 'g', -1, 32)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
