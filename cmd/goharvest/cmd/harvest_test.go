package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goharvest/internal/dataset"
)

func TestHarvestCommandStructure(t *testing.T) {
	assert.Equal(t, "harvest", harvestCmd.Use)
	assert.NotEmpty(t, harvestCmd.Short)
	assert.Contains(t, harvestCmd.Long, "Example:")
	assert.NotNil(t, harvestCmd.RunE)

	flags := harvestCmd.Flags()
	job := flags.Lookup("job")
	require.NotNil(t, job)
	assert.Equal(t, "j", job.Shorthand)
	assert.NotNil(t, flags.Lookup("force"))
	assert.NotNil(t, flags.Lookup("summary"))
}

func TestHarvestIsAddedToRoot(t *testing.T) {
	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Name() == "harvest" {
			found = true
			break
		}
	}
	assert.True(t, found, "harvest command should be added to root command")
}

// ============================================================================
// CLI Execution Tests
// ============================================================================

func TestRunHarvest_MergesIntoRemote(t *testing.T) {
	saveFlags(t)
	srv := forecastServer(t)
	remoteDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "tmd.csv"),
		[]byte("Province,Weather,RainChance,DateTime\nภูเก็ต,ฝน,0.8,2025-05-31 07:00:00\n"), 0o644))

	cfgFile = writeConfig(t, harvestConfig(srv.URL, remoteDir))
	harvestJob = "tmd"
	harvestSummary = filepath.Join(t.TempDir(), "session.json")

	var buf bytes.Buffer
	harvestCmd.SetOut(&buf)
	defer harvestCmd.SetOut(nil)

	require.NoError(t, runHarvest(harvestCmd, nil))

	data, err := os.ReadFile(filepath.Join(remoteDir, "tmd.csv"))
	require.NoError(t, err)
	merged, err := dataset.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Len())

	out := buf.String()
	assert.Contains(t, out, "Harvest: tmd")
	assert.Contains(t, out, "update")
	assert.Contains(t, out, "COMPLETED")

	raw, err := os.ReadFile(harvestSummary)
	require.NoError(t, err)
	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "tmd", summary["job"])
	assert.Equal(t, float64(2), summary["new_rows"])
}

func TestRunHarvest_NoSyncKeepsRowsLocally(t *testing.T) {
	saveFlags(t)
	srv := forecastServer(t)
	remoteDir := t.TempDir()
	fallback := filepath.Join(t.TempDir(), "new_rows.csv")

	cfgFile = writeConfig(t, harvestConfig(srv.URL, remoteDir,
		"    sync:",
		"      fallback_path: "+fallback,
	))
	harvestJob = "tmd"
	noSync = true

	var buf bytes.Buffer
	harvestCmd.SetOut(&buf)
	defer harvestCmd.SetOut(nil)

	require.NoError(t, runHarvest(harvestCmd, nil))
	assert.Contains(t, buf.String(), "COMPLETED")
	assert.NotContains(t, buf.String(), "Sync action")

	data, err := os.ReadFile(fallback)
	require.NoError(t, err)
	rows, err := dataset.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 2, rows.Len())

	_, err = os.Stat(filepath.Join(remoteDir, "tmd.csv"))
	assert.True(t, os.IsNotExist(err), "nothing uploaded")
}

func TestRunHarvest_MissingRemoteFails(t *testing.T) {
	saveFlags(t)
	srv := forecastServer(t)

	cfgFile = writeConfig(t, harvestConfig(srv.URL, t.TempDir()))
	harvestJob = "tmd"

	var buf bytes.Buffer
	harvestCmd.SetOut(&buf)
	defer harvestCmd.SetOut(nil)

	err := runHarvest(harvestCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync:")
	assert.Contains(t, buf.String(), "FAILED")
}

func TestRunHarvest_UnknownJob(t *testing.T) {
	saveFlags(t)
	cfgFile = writeConfig(t, harvestConfig("http://example.com", t.TempDir()))
	harvestJob = "nope"

	err := runHarvest(harvestCmd, nil)
	assert.ErrorContains(t, err, "job 'nope' not found")
}

func TestHarvestCmd_Execute_MissingJobFlag(t *testing.T) {
	saveFlags(t)
	rootCmd.SetArgs([]string{"harvest", "--config", "/tmp/nonexistent_harvest_config.yaml"})
	err := rootCmd.Execute()
	assert.Error(t, err)
}
