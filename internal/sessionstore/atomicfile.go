package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to path such that readers never observe a
// partial document: write to a sibling temp file, fsync it, then rename
// over the destination. Some platforms (notably Windows) cannot rename
// onto an existing file, so we fall back to copy-then-unlink there.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("sessionstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionstore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionstore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionstore: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		// Rename-over-existing-file failed (e.g. Windows sharing
		// violation) — fall back to copy-then-unlink.
		if copyErr := os.WriteFile(path, data, 0644); copyErr != nil {
			return fmt.Errorf("sessionstore: rename failed (%v) and copy fallback failed: %w", err, copyErr)
		}
		os.Remove(tmpName)
	}
	return nil
}
