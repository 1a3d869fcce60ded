// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/retrolab/basicscan/internal/gemini"
	"github.com/retrolab/basicscan/internal/locate"
	"github.com/retrolab/basicscan/internal/pages"
	"github.com/retrolab/basicscan/internal/uploadcache"
	"github.com/retrolab/basicscan/pkg/types"
)

const defaultModel = "gemini-2.5-flash"

var locateCmd = &cobra.Command{
	Use:   "locate <first-page> <last-page>",
	Short: "Identify every program printed in a page range",
	Long: `Locate uploads the PNG scans for the page range to the Gemini Files
API and asks the model to list every program in the range with its name,
page span, and a short description. The result is written to
listings/programs.json for the extract stage. Uploaded files are deleted
before the command exits, whether or not it succeeds.`,
	Args: cobra.ExactArgs(2),
	RunE: runLocate,
}

func init() {
	registerLocateFlags(locateCmd)
	rootCmd.AddCommand(locateCmd)
}

func registerLocateFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "Gemini model identifier (default gemini-2.5-flash)")
	cmd.Flags().String("api-key", "", "Gemini API key (default: .secrets/gemini-api-key)")
	cmd.Flags().Int("max-retries", 3, "retry attempts for throttled API calls")
	cmd.Flags().Int("parallel", 4, "page uploads in flight at once")
	cmd.Flags().String("scans-dir", "scans", "base directory for page scans (contains png/)")
	cmd.Flags().String("listings-dir", "listings", "base directory for listings output")
}

// locateConfigFromFlags builds the location stage config from flags with
// config-file fallbacks.
func locateConfigFromFlags(cmd *cobra.Command) (types.LocateConfig, error) {
	aiCfg, err := aiConfigFromFlags(cmd)
	if err != nil {
		return types.LocateConfig{}, err
	}
	scansDir, _ := cmd.Flags().GetString("scans-dir")
	listingsDir, _ := cmd.Flags().GetString("listings-dir")
	return types.LocateConfig{
		AIConfig:    aiCfg,
		ScansDir:    scansDir,
		ListingsDir: listingsDir,
	}, nil
}

// aiConfigFromFlags resolves model, API key, and retry settings shared by
// the locate and extract commands. The key comes from the flag, then
// .secrets/gemini-api-key, then the config file.
func aiConfigFromFlags(cmd *cobra.Command) (types.AIConfig, error) {
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = viper.GetString("model")
	}
	if model == "" {
		model = defaultModel
	}

	flagKey, _ := cmd.Flags().GetString("api-key")
	apiKey := secretDefault("gemini-api-key", flagKey)
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if apiKey == "" {
		return types.AIConfig{}, fmt.Errorf("no Gemini API key: use --api-key, .secrets/gemini-api-key, or BASICSCAN_API_KEY")
	}

	maxRetries, _ := cmd.Flags().GetInt("max-retries")

	return types.AIConfig{
		Model:      model,
		APIKey:     apiKey,
		MaxRetries: maxRetries,
	}, nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	first, last, err := parsePageRange(args)
	if err != nil {
		return err
	}

	cfg, err := locateConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	parallel, _ := cmd.Flags().GetInt("parallel")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := gemini.NewClient(cfg.AIConfig)
	cache := uploadcache.New(client, pages.NewDir(cfg.ScansDir), parallel, os.Stdout)
	defer func() {
		report := cache.ReleaseAll(ctx)
		for _, page := range report.Leaked() {
			fmt.Fprintf(os.Stderr, "warning: remote file for page %d not deleted\n", page)
		}
	}()

	list, err := locate.Run(ctx, client, cache, first, last, os.Stdout)
	if err != nil {
		return err
	}

	path, err := locate.SaveProgramList(list, cfg.ListingsDir)
	if err != nil {
		return err
	}
	fmt.Printf("Located %d program(s); wrote %s\n", len(list.Programs), path)
	return nil
}
