// Package resolve decides what a sync target path points at: a single
// binary run log or a merge set of foreign event directories.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/justapithecus/backfill/log"
	"github.com/justapithecus/backfill/types"
)

// MaxMergedDirs is the number of event directories above which a merge set
// is considered to mix experiments. Larger sets still sync, with a warning.
const MaxMergedDirs = 3

// SkipError reports a target that holds nothing this tool can sync.
// It is not fatal to a session.
type SkipError struct {
	Path   string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipping %s: %s", e.Path, e.Reason)
}

// IsSkip returns true if err is a SkipError.
func IsSkip(err error) bool {
	var skipErr *SkipError
	return errors.As(err, &skipErr)
}

// Options configures resolution.
type Options struct {
	// IncludeTensorboard enables foreign event file discovery.
	IncludeTensorboard bool
	Logger             *log.Logger
}

// Resolve inspects path and returns the source to sync.
//
// When both a binary log and foreign event files are present, the binary
// log wins and the event files are dropped with a warning.
func Resolve(path string, opts Options) (*types.ResolvedSource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &SkipError{Path: path, Reason: "path does not exist"}
		}
		return nil, err
	}

	var (
		set        *types.MergeSet
		eventFiles int
	)
	if opts.IncludeTensorboard {
		set, eventFiles, err = findEventFiles(abs, info.IsDir(), logger)
		if err != nil {
			return nil, err
		}
	}

	src := &types.ResolvedSource{EventFiles: eventFiles}

	if info.IsDir() {
		logs, legacy, err := scanRunDir(abs)
		if err != nil {
			return nil, err
		}
		if set == nil {
			if legacy {
				return nil, &SkipError{Path: path, Reason: "run was written by an older client and has no binary log"}
			}
			if len(logs) != 1 {
				return nil, &SkipError{Path: path, Reason: fmt.Sprintf("expected exactly one %s file, found %d", types.LogSuffix, len(logs))}
			}
		}
		if len(logs) > 0 {
			src.LogPath = logs[0]
		}
	} else if strings.HasSuffix(abs, types.LogSuffix) {
		src.LogPath = abs
	}

	switch {
	case src.LogPath != "" && set != nil:
		logger.Warn("found binary log, not streaming tensorboard metrics", map[string]any{
			"log":         src.LogPath,
			"event_files": eventFiles,
		})
		src.DroppedForeign = true
	case src.LogPath != "":
	case set != nil:
		if len(set.LogDirs) > MaxMergedDirs {
			logger.Warn("found many event directories, metrics from separate experiments will be merged into one run", map[string]any{
				"root":     set.RootDir,
				"log_dirs": len(set.LogDirs),
			})
		}
		src.MergeSet = set
	default:
		return nil, &SkipError{Path: path, Reason: "no run log or event files found"}
	}

	return src, nil
}

// scanRunDir lists run logs and legacy markers among the immediate
// children of dir.
func scanRunDir(dir string) (logs []string, legacy bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if slices.Contains(types.LegacyMarkers, name) {
			legacy = true
		}
		if !e.IsDir() && strings.HasSuffix(name, types.LogSuffix) {
			logs = append(logs, filepath.Join(dir, name))
		}
	}
	return logs, legacy, nil
}

// findEventFiles locates foreign event files at or under path. Unreadable
// entries below path are skipped with a warning.
func findEventFiles(path string, isDir bool, logger *log.Logger) (*types.MergeSet, int, error) {
	if !isDir {
		if !strings.Contains(filepath.Base(path), types.ForeignEventMarker) {
			return nil, 0, nil
		}
		dir := filepath.Dir(path)
		return &types.MergeSet{RootDir: dir, LogDirs: []string{dir}}, 1, nil
	}

	var (
		dirs  []string
		count int
	)
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			logger.Warn("skipping unreadable path", map[string]any{
				"path":  p,
				"error": err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.Contains(d.Name(), types.ForeignEventMarker) {
			return nil
		}
		count++
		if dir := filepath.Dir(p); !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to walk %s: %w", path, err)
	}
	if len(dirs) == 0 {
		return nil, 0, nil
	}
	return &types.MergeSet{RootDir: filepath.Dir(commonPrefix(dirs)), LogDirs: dirs}, count, nil
}

// commonPrefix returns the longest common string prefix of paths.
func commonPrefix(paths []string) string {
	prefix := paths[0]
	for _, p := range paths[1:] {
		n := min(len(prefix), len(p))
		i := 0
		for i < n && prefix[i] == p[i] {
			i++
		}
		prefix = prefix[:i]
	}
	return prefix
}
