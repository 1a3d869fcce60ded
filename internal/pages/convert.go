package pages

import (
	"fmt"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
)

// ConvertPage decodes the raw GIF for page and writes the PNG artifact.
// An existing PNG is reused without re-encoding. The PNG is written to a
// temp file and renamed so a crashed conversion never leaves a truncated
// artifact behind.
func (d Dir) ConvertPage(page int) (string, error) {
	gifPath := d.GIFPath(page)
	pngPath := d.PNGPath(page)

	if _, err := os.Stat(pngPath); err == nil {
		return pngPath, nil
	}

	f, err := os.Open(gifPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("page %d (%s): %w", page, gifPath, ErrPageNotFound)
		}
		return "", fmt.Errorf("opening %s: %w", gifPath, err)
	}
	defer f.Close()

	img, err := gif.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", gifPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(pngPath), 0o755); err != nil {
		return "", fmt.Errorf("creating png directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(pngPath), ".convert-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	encodeErr := png.Encode(tmpFile, img)
	closeErr := tmpFile.Close()
	if encodeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("encoding %s: %w", pngPath, encodeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, pngPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file: %w", err)
	}
	return pngPath, nil
}
