package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"eventscout/pkg/config"
	"eventscout/pkg/logger"
)

var (
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eventscout",
	Short: "Monitor Instagram accounts for event posters",
	Long: `eventscout watches a set of Instagram accounts, pulls their newest posts
through a direct scraper or a managed scraping actor, caches poster images
locally and flags captions that look like event announcements.

Posts, accounts and runtime settings live in Postgres and are exposed over an
HTTP API alongside Prometheus metrics.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .eventscout.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration and initializes the global logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
