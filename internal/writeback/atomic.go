package writeback

import (
	"fmt"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
)

// WriteFileAtomic replaces the file at path with content. The write goes to
// a temp file in the same directory first, then renames over the target, so
// a crash mid-write never leaves half a result behind.
func WriteFileAtomic(fs billy.Filesystem, path string, content []byte) error {
	dir := filepath.Dir(path)

	tmp, err := fs.TempFile(dir, ".realm-write-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}

	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}
