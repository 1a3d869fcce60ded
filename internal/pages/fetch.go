package pages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"github.com/retrolab/basicscan/pkg/types"
)

// FetchSummary holds the outcome of a batch fetch run.
type FetchSummary struct {
	Downloaded int
	Cached     int
	Converted  int
	Failed     int
}

// Total returns the total number of pages processed.
func (s FetchSummary) Total() int {
	return s.Downloaded + s.Cached + s.Failed
}

// HasFailures reports whether any pages failed.
func (s FetchSummary) HasFailures() bool {
	return s.Failed > 0
}

// FetchRange downloads page scans for [start, end] and converts each to
// PNG. Already-downloaded GIFs are reused. Downloads are paced by a rate
// limiter derived from cfg.DownloadDelay so the archive is never hammered.
// Individual page failures are reported and skipped; the batch continues.
func FetchRange(ctx context.Context, client *http.Client, start, end int, cfg types.FetchConfig, w io.Writer) (FetchSummary, error) {
	if start < 1 || end < start {
		return FetchSummary{}, fmt.Errorf("invalid page range %d-%d: start must be >= 1 and end >= start", start, end)
	}

	dir := NewDir(cfg.ScansDir)
	if err := os.MkdirAll(filepath.Join(cfg.ScansDir, rawDir), 0o755); err != nil {
		return FetchSummary{}, fmt.Errorf("creating raw directory: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.DownloadDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.DownloadDelay), 1)
	}

	var summary FetchSummary
	for page := start; page <= end; page++ {
		gifPath := dir.GIFPath(page)

		if _, err := os.Stat(gifPath); err == nil {
			fmt.Fprintf(w, "cached:      page %d\n", page)
			summary.Cached++
		} else {
			if err := limiter.Wait(ctx); err != nil {
				return summary, err
			}
			url := fmt.Sprintf("%spage%d.gif", cfg.BaseURL, page)
			fmt.Fprintf(w, "downloading: page %d (%s)\n", page, url)
			if err := downloadFile(ctx, client, url, gifPath, cfg); err != nil {
				fmt.Fprintf(w, "failed:      page %d (%v)\n", page, err)
				summary.Failed++
				continue
			}
			summary.Downloaded++
		}

		if _, err := dir.ConvertPage(page); err != nil {
			fmt.Fprintf(w, "failed:      page %d conversion (%v)\n", page, err)
			summary.Failed++
			continue
		}
		summary.Converted++
	}

	fmt.Fprintf(w, "\nFetch summary: %d downloaded, %d cached, %d converted, %d failed\n",
		summary.Downloaded, summary.Cached, summary.Converted, summary.Failed)
	return summary, nil
}

// ConvertRange converts already-downloaded GIFs for [start, end] without
// touching the network. Missing GIFs are skipped with a notice.
func ConvertRange(start, end int, scansDir string, w io.Writer) (FetchSummary, error) {
	if start < 1 || end < start {
		return FetchSummary{}, fmt.Errorf("invalid page range %d-%d: start must be >= 1 and end >= start", start, end)
	}

	dir := NewDir(scansDir)
	var summary FetchSummary
	for page := start; page <= end; page++ {
		if _, err := os.Stat(dir.GIFPath(page)); err != nil {
			fmt.Fprintf(w, "missing: page %d\n", page)
			continue
		}
		if _, err := dir.ConvertPage(page); err != nil {
			fmt.Fprintf(w, "failed:  page %d (%v)\n", page, err)
			summary.Failed++
			continue
		}
		fmt.Fprintf(w, "converted: page %d\n", page)
		summary.Converted++
	}
	fmt.Fprintf(w, "\nConvert summary: %d converted, %d failed\n", summary.Converted, summary.Failed)
	return summary, nil
}

// downloadFile fetches url to destPath using a temporary file so partial
// downloads never shadow a good artifact.
func downloadFile(ctx context.Context, client *http.Client, url, destPath string, cfg types.FetchConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
