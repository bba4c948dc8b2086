package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goharvest/internal/database"
	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/pipeline"
)

var (
	syncJob   string
	syncInput string
	syncForce bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge a local CSV of new rows into the remote dataset",
	Long: `Sync merges previously harvested rows (for example the local fallback
file of a run whose upload failed) into the job's remote dataset without
harvesting again. The merge is idempotent: running it twice leaves the
remote dataset unchanged.

Example:
  goharvest sync --config harvester.yaml --job tmd_forecast --input new_rows.csv`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncJob, "job", "j", "",
		"Job name from configuration file (required)")
	syncCmd.MarkFlagRequired("job")
	syncCmd.Flags().StringVarP(&syncInput, "input", "i", "",
		"CSV file with the rows to merge (required)")
	syncCmd.MarkFlagRequired("input")
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"Force execution even if job lock cannot be acquired (use with caution)")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobCfg, err := lookupJob(cfg, syncJob)
	if err != nil {
		return err
	}
	if !cfg.GetJobSync(syncJob).Enabled {
		return fmt.Errorf("sync is disabled for job '%s' (--no-sync or sync.enabled=false)", syncJob)
	}

	data, err := os.ReadFile(syncInput)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := database.SetupSignalHandler(context.Background(), nil)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, syncJob, syncForce, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	driver, err := newDriver(cfg.Page, log)
	if err != nil {
		return fmt.Errorf("failed to create page driver: %w", err)
	}
	rt.deps.Driver = driver

	p, err := pipeline.New(cfg, syncJob, jobCfg, rt.deps)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	res, err := p.MergeFile(ctx, data)
	if res != nil {
		t := newTable(cmd.OutOrStdout())
		t.SetTitle("Sync: " + syncJob)
		appendSyncRows(t, res)
		t.Render()
	}
	if err != nil {
		return err
	}
	return nil
}
