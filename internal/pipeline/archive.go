package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/plate.report/internal/fsutil"
	"github.com/banshee-data/plate.report/internal/plates"
	"github.com/banshee-data/plate.report/internal/security"
)

// Archive keeps the best crop per plate under one directory, a single PNG
// per identity named by the plate's text (or identity id when unreadable).
// Saving again overwrites the previous capture.
type Archive struct {
	fs  fsutil.FileSystem
	dir string
}

// NewArchive creates the archive directory if needed.
func NewArchive(fs fsutil.FileSystem, dir string) (*Archive, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{fs: fs, dir: dir}, nil
}

// Path returns the stable archive location for a plate. The name is
// sanitized, so OCR output can never escape the archive directory.
func (a *Archive) Path(plate plates.Plate) string {
	name := plate.Text
	if name == "" {
		name = plate.ID
	}
	return filepath.Join(a.dir, security.SanitizeFilename(name)+".png")
}

// Save writes the plate's current best crop to its archive path.
func (a *Archive) Save(plate plates.Plate) (string, error) {
	path := a.Path(plate)
	if err := security.ValidatePathWithinDirectory(path, a.dir); err != nil {
		return "", err
	}
	if err := a.fs.WriteFile(path, plate.Image, 0644); err != nil {
		return "", fmt.Errorf("failed to write crop: %w", err)
	}
	return path, nil
}
