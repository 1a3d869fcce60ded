package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/retrolab/basicscan/internal/pages"
)

var convertCmd = &cobra.Command{
	Use:   "convert <first-page> <last-page>",
	Short: "Convert already-downloaded GIF scans to PNG",
	Long: `Convert runs only the GIF-to-PNG step over pages already present in
scans/raw/, without touching the network. Useful after copying scans in
by hand or when a previous fetch was interrupted mid-conversion.`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("scans-dir", "scans", "base directory for page scans (contains raw/, png/)")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	first, last, err := parsePageRange(args)
	if err != nil {
		return err
	}
	scansDir, _ := cmd.Flags().GetString("scans-dir")

	summary, err := pages.ConvertRange(first, last, scansDir, os.Stdout)
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d page(s) failed conversion", summary.Failed)
	}
	return nil
}
