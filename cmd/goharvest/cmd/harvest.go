package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goharvest/internal/database"
	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/pipeline"
)

var (
	harvestJob     string
	harvestForce   bool
	harvestSummary string
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest every entity of a job and merge the rows into the remote dataset",
	Long: `Harvest resolves the job's entity catalog, captures one record per entity
over converging passes, then merges the new rows into the remote dataset.

The harvest process follows these steps:
  1. Resolve the entity catalog from the selection control
  2. Harvest each entity with bounded retries, repeating passes for failures
  3. Merge new rows with the remote dataset (dedup on key columns)
  4. Upload and verify (count or SHA256)

New rows are kept in the local fallback file when sync is disabled or fails.

Example:
  goharvest harvest --config harvester.yaml --job tmd_forecast`,
	RunE: runHarvest,
}

func init() {
	harvestCmd.Flags().StringVarP(&harvestJob, "job", "j", "",
		"Job name from configuration file (required)")
	harvestCmd.MarkFlagRequired("job")

	harvestCmd.Flags().BoolVar(&harvestForce, "force", false,
		"Force execution even if job lock cannot be acquired (use with caution)")
	harvestCmd.Flags().StringVar(&harvestSummary, "summary", "",
		"Write the run report as JSON to this path")

	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jobCfg, err := lookupJob(cfg, harvestJob)
	if err != nil {
		return err
	}
	o := GetCLIOverrides()
	effective := cfg.ApplyJobOverrides(harvestJob, o.Retries, o.MaxPasses)
	jobCfg.Harvest = &effective

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Infow("Starting harvest",
		"job", harvestJob,
		"config", GetConfigFile(),
	)

	ctx, cancel := database.SetupSignalHandler(context.Background(), func(sig os.Signal) {
		log.Warnw("Received shutdown signal - stopping at the next attempt boundary", "signal", sig.String())
	})
	defer cancel()

	rt, err := openRuntime(ctx, cfg, harvestJob, harvestForce, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	driver, err := newDriver(cfg.Page, log)
	if err != nil {
		return fmt.Errorf("failed to create page driver: %w", err)
	}
	rt.deps.Driver = driver

	p, err := pipeline.New(cfg, harvestJob, jobCfg, rt.deps)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	report, runErr := p.Execute(ctx)
	renderReport(cmd.OutOrStdout(), report)

	if harvestSummary != "" {
		if err := pipeline.WriteSummary(harvestSummary, report); err != nil {
			log.Errorf("Failed to write summary: %v", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("Harvest cancelled by user")
			return nil
		}
		return fmt.Errorf("harvest failed: %w", runErr)
	}
	return nil
}
