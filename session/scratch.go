package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Scratch is a session-owned working directory. Each target gets its own
// subdirectory.
type Scratch struct {
	dir  string
	once sync.Once
	err  error
}

func newScratch(parent string) (*Scratch, error) {
	dir, err := os.MkdirTemp(parent, "backfill-session-*")
	if err != nil {
		return nil, fmt.Errorf("session: create scratch dir: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch root.
func (s *Scratch) Dir() string {
	return s.dir
}

// TargetDir creates and returns the working directory of target i.
func (s *Scratch) TargetDir(i int) (string, error) {
	dir := filepath.Join(s.dir, fmt.Sprintf("target-%04d", i))
	if err := os.MkdirAll(filepath.Join(dir, "files"), 0o755); err != nil {
		return "", fmt.Errorf("session: create target dir: %w", err)
	}
	return dir, nil
}

// Release removes the scratch directory. Safe to call more than once.
func (s *Scratch) Release() error {
	s.once.Do(func() {
		s.err = os.RemoveAll(s.dir)
	})
	return s.err
}
