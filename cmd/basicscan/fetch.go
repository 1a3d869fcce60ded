package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrolab/basicscan/internal/pages"
	"github.com/retrolab/basicscan/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultDelay     = 1 * time.Second
	defaultUserAgent = "basicscan/0.1"
	defaultBaseURL   = "https://www.atariarchives.org/basicgames/pages/page"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <first-page> <last-page>",
	Short: "Download page scans from the archive and convert them to PNG",
	Long: `Fetch downloads the GIF scan for every page in the range from the
archive, pacing requests to stay polite, then converts each download to
PNG for the vision stages. Pages already on disk are skipped, so an
interrupted run picks up where it left off.`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("base-url", "", "archive URL prefix for page images (page number and .gif are appended)")
	fetchCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")
	fetchCmd.Flags().Duration("delay", 0, "minimum spacing between downloads (default 1s)")
	fetchCmd.Flags().String("scans-dir", "scans", "base directory for page scans (contains raw/, png/)")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	first, last, err := parsePageRange(args)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}
	delay, _ := cmd.Flags().GetDuration("delay")
	if delay == 0 {
		delay = defaultDelay
	}
	baseURL, _ := cmd.Flags().GetString("base-url")
	if baseURL == "" {
		baseURL = viper.GetString("fetch.base_url")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	scansDir, _ := cmd.Flags().GetString("scans-dir")

	cfg := types.FetchConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		BaseURL:       baseURL,
		DownloadDelay: delay,
		ScansDir:      scansDir,
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	summary, err := pages.FetchRange(cmd.Context(), client, first, last, cfg, os.Stdout)
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d page(s) failed", summary.Failed)
	}
	return nil
}

// parsePageRange parses the two positional page-range arguments.
func parsePageRange(args []string) (first, last int, err error) {
	first, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid first page %q", args[0])
	}
	last, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid last page %q", args[1])
	}
	if first < 1 || last < first {
		return 0, 0, fmt.Errorf("invalid page range %d-%d", first, last)
	}
	return first, last, nil
}
