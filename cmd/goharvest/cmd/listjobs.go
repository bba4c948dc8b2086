package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goharvest/internal/config"
	"github.com/dbsmedya/goharvest/internal/database"
	"github.com/dbsmedya/goharvest/internal/ledger"
	"github.com/dbsmedya/goharvest/internal/logger"
)

var listJobsHistory bool

var listJobsCmd = &cobra.Command{
	Use:   "list-jobs",
	Short: "List all jobs defined in configuration",
	Long: `List-jobs displays all harvest jobs defined in the configuration file
along with their basic settings. With --history the last recorded run of
each job is read from the state database.

Example:
  goharvest list-jobs --config harvester.yaml`,
	RunE: runListJobs,
}

func init() {
	listJobsCmd.Flags().BoolVar(&listJobsHistory, "history", false,
		"Show the last run of each job from the state database")
	rootCmd.AddCommand(listJobsCmd)
}

func runListJobs(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	jobNames := cfg.ListJobs()
	if len(jobNames) == 0 {
		cmd.Printf("No jobs defined in %s\n", configFile)
		return nil
	}
	sort.Strings(jobNames)

	var history *ledger.Ledger
	if listJobsHistory {
		dbManager := database.NewManager(&cfg.State)
		if !dbManager.Enabled() {
			return fmt.Errorf("--history requires state.enabled")
		}
		if err := dbManager.Connect(context.Background()); err != nil {
			return err
		}
		defer dbManager.Close()
		history, err = ledger.NewLedger(dbManager.State, cfg.State.TablePrefix, logger.NewNop())
		if err != nil {
			return err
		}
	}

	cmd.Printf("Jobs defined in %s:\n\n", configFile)

	for i, jobName := range jobNames {
		job, err := cfg.GetJob(jobName)
		if err != nil {
			return fmt.Errorf("failed to get job %q: %w", jobName, err)
		}
		syncCfg := cfg.GetJobSync(jobName)
		harvestCfg := cfg.GetJobHarvest(jobName)

		cmd.Printf("%d. %s\n", i+1, jobName)
		cmd.Printf("   URL:           %s\n", job.URL)
		cmd.Printf("   Selector:      %s\n", job.EntitySelector)
		cmd.Printf("   Dedup Keys:    %s\n", strings.Join(job.GetDedupKeys(), ", "))
		cmd.Printf("   Harvest:       retries=%d, max_passes=%d\n",
			harvestCfg.RetriesPerEntity, harvestCfg.MaxPasses)

		if syncCfg.Enabled {
			cmd.Printf("   Resource:      %s (verify=%s)\n", syncCfg.ResourceID, syncCfg.Verification.Method)
		} else {
			cmd.Printf("   Resource:      (sync disabled)\n")
		}

		if len(job.Rename) > 0 {
			renames := make([]string, 0, len(job.Rename))
			for from, to := range job.Rename {
				renames = append(renames, from+" -> "+to)
			}
			sort.Strings(renames)
			cmd.Printf("   Renames:       %s\n", strings.Join(renames, ", "))
		}

		if history != nil {
			printLastRun(cmd, history, jobName)
		}

		if i < len(jobNames)-1 {
			cmd.Println()
		}
	}

	cmd.Printf("\nTotal: %d job(s)\n", len(jobNames))
	return nil
}

func printLastRun(cmd *cobra.Command, l *ledger.Ledger, jobName string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	state, err := l.LastRun(ctx, jobName)
	switch {
	case err != nil:
		cmd.Printf("   Last Run:      unavailable (%v)\n", err)
	case state == nil:
		cmd.Printf("   Last Run:      never\n")
	default:
		cmd.Printf("   Last Run:      #%d %s at %s (ok=%d, failed=%d, passes=%d)\n",
			state.ID, state.Status, state.StartedAt.Format("2006-01-02 15:04"),
			state.Succeeded, state.Failed, state.Passes)
	}
}
