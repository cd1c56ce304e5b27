package resolve

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justapithecus/backfill/log"
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

func TestResolve_SingleLogDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "run-abc.tlog"))

	src, err := Resolve(dir, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if src.LogPath != filepath.Join(dir, "run-abc.tlog") || src.MergeSet != nil {
		t.Errorf("unexpected source: %+v", src)
	}
}

func TestResolve_Skips(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		file  string
	}{
		{name: "empty dir"},
		{name: "two logs", files: []string{"a.tlog", "b.tlog"}},
		{name: "legacy markers", files: []string{"run.tlog", "history.jsonl"}},
		{name: "plain file", files: []string{"notes.txt"}, file: "notes.txt"},
		{name: "events without flag", files: []string{"tb/events.out.tfevents.1.host"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				touch(t, filepath.Join(dir, f))
			}
			target := dir
			if tt.file != "" {
				target = filepath.Join(dir, tt.file)
			}
			_, err := Resolve(target, Options{})
			if !IsSkip(err) {
				t.Errorf("expected SkipError, got %v", err)
			}
		})
	}
}

func TestResolve_MissingPath(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "gone"), Options{})
	if !IsSkip(err) {
		t.Errorf("expected SkipError, got %v", err)
	}
}

func TestResolve_MergeSet(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "logs", "train", "events.out.tfevents.1.host"))
	touch(t, filepath.Join(dir, "logs", "train", "events.out.tfevents.2.host"))
	touch(t, filepath.Join(dir, "logs", "test", "events.out.tfevents.1.host"))

	src, err := Resolve(dir, Options{IncludeTensorboard: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if src.MergeSet == nil {
		t.Fatal("expected merge set")
	}
	if src.MergeSet.RootDir != filepath.Join(dir, "logs") {
		t.Errorf("RootDir = %q, want %q", src.MergeSet.RootDir, filepath.Join(dir, "logs"))
	}
	if len(src.MergeSet.LogDirs) != 2 {
		t.Errorf("LogDirs = %v, want 2 distinct dirs", src.MergeSet.LogDirs)
	}
	for _, d := range src.MergeSet.LogDirs {
		if !strings.HasPrefix(d, src.MergeSet.RootDir) {
			t.Errorf("log dir %q not under root %q", d, src.MergeSet.RootDir)
		}
	}
	if src.EventFiles != 3 {
		t.Errorf("EventFiles = %d, want 3", src.EventFiles)
	}
}

func TestResolve_SingleEventFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "events.out.tfevents.1.host")
	touch(t, file)

	src, err := Resolve(file, Options{IncludeTensorboard: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if src.MergeSet == nil || src.MergeSet.RootDir != dir || len(src.MergeSet.LogDirs) != 1 || src.MergeSet.LogDirs[0] != dir {
		t.Errorf("unexpected merge set: %+v", src.MergeSet)
	}
}

func TestResolve_BinaryLogWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "run-abc.tlog"))
	touch(t, filepath.Join(dir, "tb", "events.out.tfevents.1.host"))

	var buf bytes.Buffer
	logger := log.NewLoggerWithOptions(&buf, log.Options{})

	src, err := Resolve(dir, Options{IncludeTensorboard: true, Logger: logger})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if src.LogPath == "" || src.MergeSet != nil || !src.DroppedForeign {
		t.Errorf("unexpected source: %+v", src)
	}
	if !strings.Contains(buf.String(), "not streaming tensorboard metrics") {
		t.Errorf("missing warning, log = %q", buf.String())
	}
}

func TestResolve_ManyDirsWarns(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b", "c", "d"} {
		touch(t, filepath.Join(dir, sub, "events.out.tfevents.1.host"))
	}

	var buf bytes.Buffer
	logger := log.NewLoggerWithOptions(&buf, log.Options{})

	src, err := Resolve(dir, Options{IncludeTensorboard: true, Logger: logger})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if src.MergeSet == nil || len(src.MergeSet.LogDirs) != 4 {
		t.Fatalf("unexpected source: %+v", src)
	}
	if !strings.Contains(buf.String(), "merged into one run") {
		t.Errorf("missing warning, log = %q", buf.String())
	}
}

func TestResolve_UnreadableSubdirSkipped(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "train", "events.out.tfevents.1.host"))
	locked := filepath.Join(dir, "locked")
	touch(t, filepath.Join(locked, "events.out.tfevents.1.host"))
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	if _, err := os.ReadDir(locked); err == nil {
		t.Skip("directory permissions are not enforced for this user")
	}

	var buf bytes.Buffer
	logger := log.NewLoggerWithOptions(&buf, log.Options{})

	src, err := Resolve(dir, Options{IncludeTensorboard: true, Logger: logger})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if src.MergeSet == nil || len(src.MergeSet.LogDirs) != 1 || src.MergeSet.LogDirs[0] != filepath.Join(dir, "train") {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.EventFiles != 1 {
		t.Errorf("EventFiles = %d, want 1", src.EventFiles)
	}
	if !strings.Contains(buf.String(), "skipping unreadable path") {
		t.Errorf("missing warning, log = %q", buf.String())
	}
}

func TestCommonPrefix(t *testing.T) {
	got := commonPrefix([]string{"/x/logs/train", "/x/logs/test"})
	if got != "/x/logs/t" {
		t.Errorf("commonPrefix = %q", got)
	}
}
