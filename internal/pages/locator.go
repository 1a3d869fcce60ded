// Package pages manages scanned page artifacts: downloading raw GIFs from
// the archive, converting them to PNG, and locating the PNG for a given
// page number.
package pages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	rawDir = "raw"
	pngDir = "png"
)

// ErrPageNotFound indicates no local artifact exists for a page.
var ErrPageNotFound = errors.New("page image not found")

// Dir locates page artifacts under a scans directory laid out as
// scansDir/raw/pageN.gif and scansDir/png/pageN.png.
type Dir struct {
	root string
}

// NewDir returns a locator rooted at scansDir.
func NewDir(scansDir string) Dir {
	return Dir{root: scansDir}
}

// Locate returns the PNG path for page, or ErrPageNotFound (wrapped with
// the page number) when the artifact does not exist on disk.
func (d Dir) Locate(page int) (string, error) {
	path := d.PNGPath(page)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("page %d (%s): %w", page, path, ErrPageNotFound)
	}
	return path, nil
}

// PNGPath returns the expected PNG path for page without checking existence.
func (d Dir) PNGPath(page int) string {
	return filepath.Join(d.root, pngDir, fmt.Sprintf("page%d.png", page))
}

// GIFPath returns the expected raw GIF path for page.
func (d Dir) GIFPath(page int) string {
	return filepath.Join(d.root, rawDir, fmt.Sprintf("page%d.gif", page))
}
