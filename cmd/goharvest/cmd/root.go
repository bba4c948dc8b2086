package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goharvest/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile         string
	logLevel        string
	logFormat       string
	retries         int
	maxPasses       int
	noSync          bool
	createOnMissing bool
)

var rootCmd = &cobra.Command{
	Use:   "goharvest",
	Short: "Resilient multi-pass web harvester with idempotent dataset sync",
	Long: `A CLI tool that harvests one record per entity from a dynamic web
front-end and merges the results into a shared remote dataset.

Features:
  - Entity catalog discovery with bounded retries and diagnostic snapshots
  - Per-entity retries and converging harvest passes
  - Idempotent merge (dedup on key columns) into a remote CSV dataset
  - Post-upload verification (count and SHA256)
  - Run ledger and job lock in an optional MySQL state database
  - Email summary at the end of a run`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "harvester.yaml",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	rootCmd.PersistentFlags().IntVar(&retries, "retries", 0,
		"Override attempts per entity within a pass")
	rootCmd.PersistentFlags().IntVar(&maxPasses, "max-passes", 0,
		"Override the maximum number of harvest passes")

	rootCmd.PersistentFlags().BoolVar(&noSync, "no-sync", false,
		"Keep new rows locally instead of merging into the remote dataset")
	rootCmd.PersistentFlags().BoolVar(&createOnMissing, "create-on-missing", false,
		"Create the remote dataset when it does not exist (requires sync.parent_id)")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel        string
	LogFormat       string
	Retries         int
	MaxPasses       int
	NoSync          bool
	CreateOnMissing bool
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		Retries:         retries,
		MaxPasses:       maxPasses,
		NoSync:          noSync,
		CreateOnMissing: createOnMissing,
	}
}

// loadConfig reads the config file, applies the CLI overrides and validates
// the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	o := GetCLIOverrides()
	cfg.ApplyOverrides(o.LogLevel, o.LogFormat, o.Retries, o.MaxPasses, o.NoSync, o.CreateOnMissing)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lookupJob returns a copy of the named job's config.
func lookupJob(cfg *config.Config, name string) (*config.JobConfig, error) {
	job, ok := cfg.Jobs[name]
	if !ok {
		return nil, fmt.Errorf("job '%s' not found in configuration", name)
	}
	return &job, nil
}
