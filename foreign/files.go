package foreign

import (
	"os"
	"path/filepath"

	"github.com/justapithecus/backfill/iox"
)

// copyFiles copies the top-level entries of src into dst: directories
// recursively, files individually. It returns the number of files copied.
func copyFiles(src, dst string) (int, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	copied := 0
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			n, err := iox.CopyTree(from, to)
			copied += n
			if err != nil {
				return copied, err
			}
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		if _, err := iox.CopyFile(from, to); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
