// Package atomicfile replaces small state files so that readers see either
// the old or the new content, never a torn write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

type syncer interface{ Sync() error }

// Dir returns a filesystem rooted at dir, creating dir if needed. Temp files
// it hands out are *os.File backed, so WriteFile can sync them.
func Dir(dir string) (billy.Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return osfs.New(dir, osfs.WithBoundOS()), nil
}

// WriteFile writes data to a temp file next to name, syncs it when the
// filesystem allows, and renames it over name. On failure the temp file is
// removed and name is untouched.
func WriteFile(fs billy.Filesystem, name string, data []byte) error {
	dir := filepath.Dir(name)
	tmp, err := fs.TempFile(dir, "."+filepath.Base(name)+"-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if sf, ok := tmp.(syncer); ok {
		if err := sf.Sync(); err != nil {
			_ = tmp.Close()
			_ = fs.Remove(tmpName)
			return fmt.Errorf("sync temp: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", name, err)
	}
	return nil
}
