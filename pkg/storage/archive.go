// Package storage keeps a server-side copy of every issued document
// (study plan cards, transcripts) and signs short-lived share links for
// them.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Archive persists issued documents on disk under a base directory.
type Archive struct {
	baseDir string
}

// NewArchive ensures the base directory exists and returns a handle.
func NewArchive(baseDir string) (*Archive, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Archive{baseDir: baseDir}, nil
}

// Save writes the document bytes under the given relative path.
func (a *Archive) Save(relPath string, data []byte) error {
	path := a.resolve(relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write archived document: %w", err)
	}
	return nil
}

// Read returns the archived document bytes.
func (a *Archive) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(a.resolve(relPath))
	if err != nil {
		return nil, fmt.Errorf("read archived document: %w", err)
	}
	return data, nil
}

// Delete removes an archived document if present.
func (a *Archive) Delete(relPath string) error {
	if err := os.Remove(a.resolve(relPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete archived document: %w", err)
	}
	return nil
}

// Sweep removes documents older than the retention window and returns
// the deleted paths.
func (a *Archive) Sweep(retention time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-retention)
	deleted := make([]string, 0)
	err := filepath.WalkDir(a.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(a.baseDir, path)
		if err != nil {
			rel = path
		}
		deleted = append(deleted, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep archive: %w", err)
	}
	return deleted, nil
}

func (a *Archive) resolve(relPath string) string {
	return filepath.Join(a.baseDir, filepath.Clean("/"+relPath))
}
