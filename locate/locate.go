// Package locate discovers run directories under a local base directory.
package locate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/justapithecus/backfill/types"
)

// Base directory names, in order of preference.
const (
	HiddenBaseDir = ".runs"
	PlainBaseDir  = "runs"
)

// Options filters discovered runs.
type Options struct {
	IncludeOffline  bool
	IncludeOnline   bool
	IncludeSynced   bool
	IncludeUnsynced bool
	// ExcludeGlobs removes matching file names from each run directory.
	ExcludeGlobs []string
	// IncludeGlobs keeps only matching file names. Applied after ExcludeGlobs.
	IncludeGlobs []string
}

// DefaultOptions includes offline runs that have not been synced yet.
func DefaultOptions() Options {
	return Options{IncludeOffline: true, IncludeUnsynced: true}
}

// Validate checks glob syntax.
func (o Options) Validate() error {
	for _, g := range append(append([]string(nil), o.ExcludeGlobs...), o.IncludeGlobs...) {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid glob pattern %q", g)
		}
	}
	return nil
}

// BaseDir returns the discovery base under workdir: the hidden directory if
// it exists, the plain one otherwise.
func BaseDir(workdir string) string {
	hidden := filepath.Join(workdir, HiddenBaseDir)
	if info, err := os.Stat(hidden); err == nil && info.IsDir() {
		return hidden
	}
	return filepath.Join(workdir, PlainBaseDir)
}

// Discover lists run logs under base that match opts.
//
// A missing base yields no runs. Results are ordered by the start time
// embedded in the directory name; directories without one sort last.
func Discover(base string, opts Options) ([]types.RunLocation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", base, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, types.OfflinePrefix):
			if opts.IncludeOffline {
				dirs = append(dirs, name)
			}
		case strings.HasPrefix(name, types.OnlinePrefix):
			if opts.IncludeOnline {
				dirs = append(dirs, name)
			}
		}
	}

	var runs []types.RunLocation
	for _, d := range dirs {
		dir := filepath.Join(base, d)
		names, err := fileNames(dir)
		if err != nil {
			return nil, err
		}
		names = filterNames(names, opts.ExcludeGlobs, opts.IncludeGlobs)

		for _, name := range names {
			if !strings.HasSuffix(name, types.LogSuffix) {
				continue
			}
			loc := newLocation(dir, filepath.Join(dir, name))
			if loc.Synced && !opts.IncludeSynced {
				continue
			}
			if !loc.Synced && !opts.IncludeUnsynced {
				continue
			}
			runs = append(runs, loc)
		}
	}

	SortByStart(runs)
	return runs, nil
}

// FromPath builds a RunLocation for a single run directory or log file.
// The log path is left empty when the directory holds no unique run log.
func FromPath(path string) (types.RunLocation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.RunLocation{}, err
	}
	if !info.IsDir() {
		return newLocation(filepath.Dir(path), path), nil
	}

	names, err := fileNames(path)
	if err != nil {
		return types.RunLocation{}, err
	}
	var logPath string
	for _, name := range names {
		if strings.HasSuffix(name, types.LogSuffix) {
			if logPath != "" {
				logPath = ""
				break
			}
			logPath = filepath.Join(path, name)
		}
	}
	return newLocation(path, logPath), nil
}

// SortByStart orders runs by start time. Runs without a parsed start time
// keep their relative order after all timed runs. Ties break on path.
func SortByStart(runs []types.RunLocation) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		if a.HasStart != b.HasStart {
			return a.HasStart
		}
		if !a.HasStart {
			return false
		}
		if !a.StartedAt.Equal(b.StartedAt) {
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.Path < b.Path
	})
}

func newLocation(dir, logPath string) types.RunLocation {
	name := filepath.Base(dir)
	offline, startedAt, hasStart, _ := types.ParseRunDirName(name)
	loc := types.RunLocation{
		Path:      dir,
		LogPath:   logPath,
		Offline:   offline,
		StartedAt: startedAt,
		HasStart:  hasStart,
	}
	loc.Synced = strings.HasPrefix(name, types.OnlinePrefix)
	if logPath != "" && exists(types.SyncedMarkerPath(logPath)) {
		loc.Synced = true
	}
	return loc
}

func fileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// filterNames removes names matching any exclude glob, then keeps only
// names matching at least one include glob. Order is preserved.
func filterNames(names, exclude, include []string) []string {
	if len(exclude) == 0 && len(include) == 0 {
		return names
	}
	out := names[:0:0]
	for _, name := range names {
		if matchAny(exclude, name) {
			continue
		}
		if len(include) > 0 && !matchAny(include, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func matchAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, name); ok {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
