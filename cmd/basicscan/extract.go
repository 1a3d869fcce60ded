// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrolab/basicscan/internal/extract"
	"github.com/retrolab/basicscan/internal/gemini"
	"github.com/retrolab/basicscan/internal/locate"
	"github.com/retrolab/basicscan/internal/pages"
	"github.com/retrolab/basicscan/internal/uploadcache"
	"github.com/retrolab/basicscan/pkg/types"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Transcribe every located program's BASIC source",
	Long: `Extract reads listings/programs.json, uploads each referenced page scan
to the Gemini Files API exactly once (pages shared by several programs
are reused), and asks the model to transcribe each program in turn. Each
transcription is saved to listings/src/ and a run report with the
cleanup outcome is written to listings/report.yaml.

A failed program does not stop the run; its failure is recorded in the
report and the remaining programs proceed. Uploaded files are deleted on
every exit path, including cancellation.`,
	RunE: runExtract,
}

func init() {
	registerExtractFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}

func registerExtractFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "Gemini model identifier (default gemini-2.5-flash)")
	cmd.Flags().String("api-key", "", "Gemini API key (default: .secrets/gemini-api-key)")
	cmd.Flags().Int("max-retries", 3, "retry attempts for throttled API calls")
	cmd.Flags().Int("parallel", 4, "page uploads in flight at once")
	cmd.Flags().String("scans-dir", "scans", "base directory for page scans (contains png/)")
	cmd.Flags().String("listings-dir", "listings", "base directory for listings (contains programs.json, src/)")
}

// extractionConfigFromFlags builds the extraction stage config from flags
// with config-file fallbacks. An unset --parallel flag defers to
// extraction.upload_parallelism from the config file.
func extractionConfigFromFlags(cmd *cobra.Command) (types.ExtractionConfig, error) {
	aiCfg, err := aiConfigFromFlags(cmd)
	if err != nil {
		return types.ExtractionConfig{}, err
	}
	scansDir, _ := cmd.Flags().GetString("scans-dir")
	listingsDir, _ := cmd.Flags().GetString("listings-dir")

	parallel, _ := cmd.Flags().GetInt("parallel")
	if !cmd.Flags().Changed("parallel") {
		if v := viper.GetInt("extraction.upload_parallelism"); v > 0 {
			parallel = v
		}
	}

	return types.ExtractionConfig{
		AIConfig:          aiCfg,
		ScansDir:          scansDir,
		ListingsDir:       listingsDir,
		UploadParallelism: parallel,
	}, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := extractionConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	listPath := filepath.Join(cfg.ListingsDir, locate.ListFileName)
	list, err := locate.LoadProgramList(listPath)
	if err != nil {
		return fmt.Errorf("loading %s (run locate first): %w", listPath, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := gemini.NewClient(cfg.AIConfig)
	cache := uploadcache.New(client, pages.NewDir(cfg.ScansDir), cfg.UploadParallelism, os.Stdout)
	orch := extract.NewOrchestrator(cache, client, cfg.MaxRetries, os.Stdout)

	results, cleanup, runErr := orch.Run(ctx, list)

	// Save whatever was transcribed, even on a failed run.
	failed := 0
	for _, result := range results {
		if result.Failed() {
			failed++
			continue
		}
		if _, err := extract.SaveListing(cfg.ListingsDir, result); err != nil {
			fmt.Fprintf(os.Stderr, "warning: saving %q: %v\n", result.Program.Name, err)
			failed++
		}
	}

	report := types.RunReport{Results: results, Cleanup: cleanup}
	if path, err := extract.WriteRunReport(cfg.ListingsDir, report); err != nil {
		fmt.Fprintf(os.Stderr, "warning: writing run report: %v\n", err)
	} else {
		fmt.Printf("Run report written to %s\n", path)
	}

	for _, page := range cleanup.Leaked() {
		fmt.Fprintf(os.Stderr, "warning: remote file for page %d not deleted\n", page)
	}
	if n := cache.Len(); n != 0 {
		fmt.Fprintf(os.Stderr, "warning: %d handle(s) still live after cleanup\n", n)
	}

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d program(s) failed extraction", failed)
	}
	return nil
}
