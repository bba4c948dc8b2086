package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goharvest/internal/database"
	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/remote"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and check remote resources",
	Long: `Validate checks the configuration file and the resources it points to
before a scheduled run.

Checks performed:
  - Configuration syntax and required fields
  - State database connectivity (when state is enabled)
  - Remote dataset existence for every job (when sync is enabled)

Example:
  goharvest validate --config harvester.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info("Starting validation checks...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n=== Configuration Validation ===\n")
	fmt.Fprintf(out, "Config file: %s\n", configFile)
	fmt.Fprintf(out, "Jobs found: %d\n\n", len(cfg.Jobs))

	dbManager := database.NewManager(&cfg.State)
	if dbManager.Enabled() {
		if err := dbManager.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to state database: %w", err)
		}
		defer dbManager.Close()
		if err := dbManager.Ping(ctx); err != nil {
			return fmt.Errorf("state database connection failed: %w", err)
		}
		fmt.Fprintf(out, "✅ State database reachable\n\n")
	}

	var store remote.Store
	if cfg.Sync.Enabled {
		store, err = remote.New(cfg.Remote, log)
		if err != nil {
			return fmt.Errorf("failed to create remote store: %w", err)
		}
	}

	names := cfg.ListJobs()
	sort.Strings(names)

	hasErrors := false
	for _, jobName := range names {
		job, _ := cfg.GetJob(jobName)
		syncCfg := cfg.GetJobSync(jobName)

		fmt.Fprintf(out, "--- Job: %s ---\n", jobName)
		fmt.Fprintf(out, "URL: %s\n", job.URL)
		fmt.Fprintf(out, "Entity selector: %s\n", job.EntitySelector)

		if store == nil || !syncCfg.Enabled {
			fmt.Fprintf(out, "✅ Configuration valid (sync disabled)\n\n")
			continue
		}

		exists, err := store.Exists(ctx, syncCfg.ResourceID)
		switch {
		case err != nil:
			fmt.Fprintf(out, "❌ Remote lookup failed: %v\n\n", err)
			hasErrors = true
		case !exists && !syncCfg.CreateOnMissing:
			fmt.Fprintf(out, "❌ Remote resource %s not found\n\n", syncCfg.ResourceID)
			hasErrors = true
		case !exists:
			fmt.Fprintf(out, "✅ Remote resource will be created as %q\n\n", syncCfg.ResourceName)
		default:
			fmt.Fprintf(out, "✅ Remote resource %s found\n\n", syncCfg.ResourceID)
		}
	}

	if hasErrors {
		return fmt.Errorf("validation failed for one or more jobs")
	}

	fmt.Fprintln(out, "=== Validation Complete ===")
	fmt.Fprintln(out, "✅ All jobs validated successfully")
	return nil
}
