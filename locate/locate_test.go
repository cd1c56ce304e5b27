package locate

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

// layout builds a base dir with:
//
//	offline-run-20240102_000000-bbb/run-bbb.tlog          (unsynced)
//	offline-run-20240101_000000-aaa/run-aaa.tlog(.synced) (synced)
//	offline-run-nodate-ccc/run-ccc.tlog                   (unsynced, unordered)
//	run-20240103_000000-ddd/run-ddd.tlog                  (online, synced)
//	latest-run/                                           (ignored)
func layout(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	touch(t, filepath.Join(base, "offline-run-20240102_000000-bbb", "run-bbb.tlog"))
	touch(t, filepath.Join(base, "offline-run-20240101_000000-aaa", "run-aaa.tlog"))
	touch(t, filepath.Join(base, "offline-run-20240101_000000-aaa", "run-aaa.tlog.synced"))
	touch(t, filepath.Join(base, "offline-run-nodate-ccc", "run-ccc.tlog"))
	touch(t, filepath.Join(base, "run-20240103_000000-ddd", "run-ddd.tlog"))
	touch(t, filepath.Join(base, "latest-run", "run-zzz.tlog"))
	return base
}

func ids(t *testing.T, base string, opts Options) []string {
	t.Helper()
	runs, err := Discover(base, opts)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID())
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiscover_Filters(t *testing.T) {
	base := layout(t)

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "default offline unsynced",
			opts: DefaultOptions(),
			want: []string{"bbb", "ccc"},
		},
		{
			name: "offline synced only",
			opts: Options{IncludeOffline: true, IncludeSynced: true},
			want: []string{"aaa"},
		},
		{
			name: "everything ordered by start",
			opts: Options{IncludeOffline: true, IncludeOnline: true, IncludeSynced: true, IncludeUnsynced: true},
			want: []string{"aaa", "bbb", "ddd", "ccc"},
		},
		{
			name: "online runs are always synced",
			opts: Options{IncludeOnline: true, IncludeUnsynced: true},
			want: []string{},
		},
		{
			name: "exclude glob",
			opts: Options{IncludeOffline: true, IncludeUnsynced: true, ExcludeGlobs: []string{"*bbb*"}},
			want: []string{"ccc"},
		},
		{
			name: "include glob",
			opts: Options{IncludeOffline: true, IncludeUnsynced: true, IncludeGlobs: []string{"run-{ccc,zzz}.tlog"}},
			want: []string{"ccc"},
		},
		{
			name: "exclude wins over include",
			opts: Options{IncludeOffline: true, IncludeUnsynced: true, IncludeGlobs: []string{"*.tlog"}, ExcludeGlobs: []string{"run-b??.tlog"}},
			want: []string{"ccc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(t, base, tt.opts)
			if !equal(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiscover_MissingBase(t *testing.T) {
	runs, err := Discover(filepath.Join(t.TempDir(), "nope"), DefaultOptions())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs, want 0", len(runs))
	}
}

func TestDiscover_InvalidGlob(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeGlobs = []string{"[unclosed"}
	if _, err := Discover(t.TempDir(), opts); err == nil {
		t.Fatal("expected error for invalid glob")
	}
}

func TestDiscover_LocationFields(t *testing.T) {
	base := layout(t)
	runs, err := Discover(base, Options{IncludeOffline: true, IncludeSynced: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if !r.Offline || !r.Synced || !r.HasStart {
		t.Errorf("unexpected flags: %+v", r)
	}
	if filepath.Base(r.LogPath) != "run-aaa.tlog" {
		t.Errorf("LogPath = %q", r.LogPath)
	}
}

func TestBaseDir(t *testing.T) {
	work := t.TempDir()
	if got := BaseDir(work); got != filepath.Join(work, PlainBaseDir) {
		t.Errorf("BaseDir without hidden = %q", got)
	}
	if err := os.Mkdir(filepath.Join(work, HiddenBaseDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := BaseDir(work); got != filepath.Join(work, HiddenBaseDir) {
		t.Errorf("BaseDir with hidden = %q", got)
	}
}

func TestFromPath(t *testing.T) {
	base := layout(t)
	dir := filepath.Join(base, "offline-run-20240102_000000-bbb")

	loc, err := FromPath(dir)
	if err != nil {
		t.Fatalf("FromPath failed: %v", err)
	}
	if loc.LogPath != filepath.Join(dir, "run-bbb.tlog") || loc.Synced {
		t.Errorf("unexpected location: %+v", loc)
	}

	loc, err = FromPath(filepath.Join(base, "offline-run-20240101_000000-aaa", "run-aaa.tlog"))
	if err != nil {
		t.Fatal(err)
	}
	if !loc.Synced {
		t.Error("file location should pick up synced marker")
	}
}
