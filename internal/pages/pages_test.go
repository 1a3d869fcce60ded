package pages

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/retrolab/basicscan/pkg/types"
)

// testGIF returns an encoded 2x2 GIF for use as a fake page scan.
func testGIF(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.White, color.Black})
	img.SetColorIndex(0, 0, 1)
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test gif: %v", err)
	}
	return buf.Bytes()
}

func writeGIF(t *testing.T, d Dir, page int) {
	t.Helper()
	path := d.GIFPath(page)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, testGIF(t), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocate(t *testing.T) {
	dir := NewDir(t.TempDir())

	pngPath := dir.PNGPath(3)
	if err := os.MkdirAll(filepath.Dir(pngPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pngPath, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := dir.Locate(3)
	if err != nil {
		t.Fatalf("Locate(3): %v", err)
	}
	if got != pngPath {
		t.Errorf("Locate(3) = %q, want %q", got, pngPath)
	}

	_, err = dir.Locate(7)
	if !errors.Is(err, ErrPageNotFound) {
		t.Errorf("Locate(7) error = %v, want ErrPageNotFound", err)
	}
	if err != nil && !strings.Contains(err.Error(), "page 7") {
		t.Errorf("Locate(7) error %q does not name the page", err)
	}
}

func TestConvertPage(t *testing.T) {
	dir := NewDir(t.TempDir())
	writeGIF(t, dir, 5)

	pngPath, err := dir.ConvertPage(5)
	if err != nil {
		t.Fatalf("ConvertPage(5): %v", err)
	}

	f, err := os.Open(pngPath)
	if err != nil {
		t.Fatalf("opening converted png: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("converted file is not a valid PNG: %v", err)
	}

	// No stray temp files after conversion.
	entries, err := os.ReadDir(filepath.Dir(pngPath))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".convert-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestConvertPage_ReusesExisting(t *testing.T) {
	dir := NewDir(t.TempDir())

	pngPath := dir.PNGPath(4)
	if err := os.MkdirAll(filepath.Dir(pngPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pngPath, []byte("sentinel"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := dir.ConvertPage(4)
	if err != nil {
		t.Fatalf("ConvertPage(4): %v", err)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sentinel" {
		t.Error("ConvertPage re-encoded over an existing PNG")
	}
}

func TestConvertPage_MissingGIF(t *testing.T) {
	dir := NewDir(t.TempDir())
	if _, err := dir.ConvertPage(9); !errors.Is(err, ErrPageNotFound) {
		t.Errorf("ConvertPage(9) error = %v, want ErrPageNotFound", err)
	}
}

func TestFetchRange(t *testing.T) {
	gifData := testGIF(t)
	var requests []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Path)
		if strings.Contains(r.URL.Path, "page2") {
			http.NotFound(w, r)
			return
		}
		w.Write(gifData)
	}))
	defer ts.Close()

	scansDir := t.TempDir()
	dir := NewDir(scansDir)
	writeGIF(t, dir, 3) // page 3 pre-seeded, must not be re-downloaded

	cfg := types.FetchConfig{
		HTTPConfig: types.HTTPConfig{UserAgent: "basicscan-test"},
		BaseURL:    ts.URL + "/pages/",
		ScansDir:   scansDir,
	}

	var out bytes.Buffer
	summary, err := FetchRange(context.Background(), ts.Client(), 1, 3, cfg, &out)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}

	if summary.Downloaded != 1 || summary.Cached != 1 || summary.Failed != 1 || summary.Converted != 2 {
		t.Errorf("summary = %+v, want 1 downloaded, 1 cached, 1 failed, 2 converted", summary)
	}
	for _, path := range requests {
		if strings.Contains(path, "page3") {
			t.Error("cached page 3 was re-downloaded")
		}
	}
	if _, err := dir.Locate(1); err != nil {
		t.Errorf("page 1 PNG missing after fetch: %v", err)
	}
	if _, err := dir.Locate(3); err != nil {
		t.Errorf("page 3 PNG missing after fetch: %v", err)
	}
}

func TestFetchRange_InvalidRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end int
	}{
		{"zero start", 0, 5},
		{"end before start", 4, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FetchRange(context.Background(), http.DefaultClient, tt.start, tt.end, types.FetchConfig{ScansDir: t.TempDir()}, &bytes.Buffer{})
			if err == nil {
				t.Error("expected range error, got nil")
			}
		})
	}
}

func TestConvertRange(t *testing.T) {
	scansDir := t.TempDir()
	dir := NewDir(scansDir)
	writeGIF(t, dir, 1)
	writeGIF(t, dir, 2)

	var out bytes.Buffer
	summary, err := ConvertRange(1, 3, scansDir, &out)
	if err != nil {
		t.Fatalf("ConvertRange: %v", err)
	}
	if summary.Converted != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 converted, 0 failed", summary)
	}
	if !strings.Contains(out.String(), "missing: page 3") {
		t.Errorf("output %q does not report missing page 3", out.String())
	}
}
