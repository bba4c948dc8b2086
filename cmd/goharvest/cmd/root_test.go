package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goharvest/internal/config"
)

func TestGetConfigFile(t *testing.T) {
	saveFlags(t)

	tests := []struct {
		name     string
		cfgValue string
		want     string
	}{
		{name: "default config file", cfgValue: "", want: ""},
		{name: "custom config file", cfgValue: "/path/to/custom.yaml", want: "/path/to/custom.yaml"},
		{name: "config file with spaces", cfgValue: "/path/to/my config.yaml", want: "/path/to/my config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile = tt.cfgValue
			assert.Equal(t, tt.want, GetConfigFile())
		})
	}
}

func TestGetCLIOverrides(t *testing.T) {
	saveFlags(t)

	logLevel = "debug"
	logFormat = "text"
	retries = 4
	maxPasses = 6
	noSync = true
	createOnMissing = true

	assert.Equal(t, CLIOverrides{
		LogLevel:        "debug",
		LogFormat:       "text",
		Retries:         4,
		MaxPasses:       6,
		NoSync:          true,
		CreateOnMissing: true,
	}, GetCLIOverrides())
}

func TestRootCommandFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	for _, name := range []string{"config", "log-level", "log-format", "retries", "max-passes", "no-sync", "create-on-missing"} {
		assert.NotNil(t, flags.Lookup(name), "missing persistent flag %s", name)
	}
	assert.Equal(t, "c", flags.Lookup("config").Shorthand)
	assert.Equal(t, "goharvest", rootCmd.Use)
}

func TestLoadConfig(t *testing.T) {
	saveFlags(t)

	t.Run("applies overrides", func(t *testing.T) {
		cfgFile = writeConfig(t, harvestConfig("http://example.com", t.TempDir()))
		logLevel = "debug"
		noSync = true

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.False(t, cfg.Sync.Enabled)
	})

	t.Run("validation errors are returned", func(t *testing.T) {
		logLevel, noSync = "", false
		cfgFile = writeConfig(t, "jobs:\n  broken:\n    url: not-a-url\n")

		_, err := loadConfig()
		require.Error(t, err)
		var verrs config.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Contains(t, err.Error(), "jobs.broken.url")
	})

	t.Run("missing file", func(t *testing.T) {
		cfgFile = "/nonexistent/harvester.yaml"
		_, err := loadConfig()
		assert.ErrorContains(t, err, "failed to load config")
	})
}

func TestLookupJob(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Jobs = map[string]config.JobConfig{"tmd": {URL: "https://example.com"}}

	job, err := lookupJob(cfg, "tmd")
	require.NoError(t, err)
	job.URL = "changed"
	assert.Equal(t, "https://example.com", cfg.Jobs["tmd"].URL, "lookupJob returns a copy")

	_, err = lookupJob(cfg, "other")
	assert.ErrorContains(t, err, "not found")
}
