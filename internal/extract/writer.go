package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/retrolab/basicscan/pkg/types"
)

const (
	srcDir         = "src"
	reportFileName = "report.yaml"
)

// SaveListing writes one extracted program to listingsDir/src/<slug>.md.
func SaveListing(listingsDir string, result types.ListingResult) (string, error) {
	if result.Failed() {
		return "", fmt.Errorf("refusing to save failed result for %q", result.Program.Name)
	}

	dir := filepath.Join(listingsDir, srcDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating listings directory: %w", err)
	}

	path := filepath.Join(dir, result.Program.Slug()+".md")
	content := fmt.Sprintf("# %s\n\n%s\n", result.Program.Name, result.Source)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// WriteRunReport writes the per-program outcomes and the cleanup sweep to
// listingsDir/report.yaml.
func WriteRunReport(listingsDir string, report types.RunReport) (string, error) {
	if err := os.MkdirAll(listingsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating listings directory: %w", err)
	}

	path := filepath.Join(listingsDir, reportFileName)
	data, err := yaml.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshaling run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
