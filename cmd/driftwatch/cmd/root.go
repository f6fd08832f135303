// Package cmd contains the CLI commands for driftwatch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
	"github.com/good-yellow-bee/driftwatch/internal/storage"
)

var (
	// Used for flags
	configPath string
	output     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "DriftWatch - operational metric drift detection and alerting",
	Long: `DriftWatch watches operational metrics such as claim denial rate and
payment delay, detects drift from a historical baseline, and raises
alert events with suppression and multi-channel delivery.

Pipeline:
  raw records -> aggregates -> signals -> alert events -> notifications

Examples:
  # Start the API, metrics endpoint, and webhook retry sweeper
  driftwatch serve --config driftwatch.yaml

  # Run the pipeline by hand for one tenant
  driftwatch aggregate --tenant acme --metric denial_rate --start 2026-08-01 --end 2026-08-29
  driftwatch detect --tenant acme --metric denial_rate
  driftwatch evaluate --tenant acme
  driftwatch dispatch --tenant acme`,
	Run: func(cmd *cobra.Command, args []string) {
		// Show help by default
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// loadConfig loads the configured or default configuration and
// initializes logging.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

// openStorage opens and migrates the configured database.
func openStorage(cfg *config.Config) (storage.Storage, error) {
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// PrintError prints an error message and exits if fatal is true.
func PrintError(msg string, fatal bool) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	if fatal {
		os.Exit(1)
	}
}
