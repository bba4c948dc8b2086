package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified file path.
// It supports YAML files and performs environment variable substitution.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := substituteEnvVars(cfg); err != nil {
		return nil, fmt.Errorf("failed to substitute environment variables: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(cfg *Config) error {
	cfg.Sync.ResourceID = expandEnvVar(cfg.Sync.ResourceID)
	cfg.Sync.ParentID = expandEnvVar(cfg.Sync.ParentID)
	cfg.Sync.LocalCopy = expandEnvVar(cfg.Sync.LocalCopy)
	cfg.Sync.FallbackPath = expandEnvVar(cfg.Sync.FallbackPath)

	cfg.Remote.Drive.BaseURL = expandEnvVar(cfg.Remote.Drive.BaseURL)
	cfg.Remote.Drive.AccessToken = expandEnvVar(cfg.Remote.Drive.AccessToken)
	cfg.Remote.File.Root = expandEnvVar(cfg.Remote.File.Root)

	cfg.State.Host = expandEnvVar(cfg.State.Host)
	cfg.State.User = expandEnvVar(cfg.State.User)
	cfg.State.Password = expandEnvVar(cfg.State.Password)
	cfg.State.Database = expandEnvVar(cfg.State.Database)

	cfg.Notify.Sender = expandEnvVar(cfg.Notify.Sender)
	cfg.Notify.Password = expandEnvVar(cfg.Notify.Password)
	for i, to := range cfg.Notify.To {
		cfg.Notify.To[i] = expandEnvVar(to)
	}

	cfg.Harvest.DiagnosticsDir = expandEnvVar(cfg.Harvest.DiagnosticsDir)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)

	for name, job := range cfg.Jobs {
		job.URL = expandEnvVar(job.URL)
		if job.Sync != nil {
			job.Sync.ResourceID = expandEnvVar(job.Sync.ResourceID)
			job.Sync.ParentID = expandEnvVar(job.Sync.ParentID)
			job.Sync.LocalCopy = expandEnvVar(job.Sync.LocalCopy)
			job.Sync.FallbackPath = expandEnvVar(job.Sync.FallbackPath)
		}
		cfg.Jobs[name] = job
	}

	return nil
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}

// GetJob retrieves a specific job configuration by name.
func (c *Config) GetJob(name string) (*JobConfig, error) {
	job, exists := c.Jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %q not found in configuration", name)
	}
	return &job, nil
}

// ListJobs returns all job names defined in the configuration.
func (c *Config) ListJobs() []string {
	jobs := make([]string, 0, len(c.Jobs))
	for name := range c.Jobs {
		jobs = append(jobs, name)
	}
	return jobs
}

// ApplyOverrides applies CLI flag overrides to the global configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(logLevel, logFormat string, retries, maxPasses int, noSync, createOnMissing bool) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if retries > 0 {
		c.Harvest.RetriesPerEntity = retries
	}
	if maxPasses > 0 {
		c.Harvest.MaxPasses = maxPasses
	}
	if noSync {
		c.Sync.Enabled = false
	}
	if createOnMissing {
		c.Sync.CreateOnMissing = true
	}
}

// ApplyJobOverrides returns the job's effective harvest config with CLI values on top.
func (c *Config) ApplyJobOverrides(jobName string, retries, maxPasses int) HarvestConfig {
	harvest := c.GetJobHarvest(jobName)

	if retries > 0 {
		harvest.RetriesPerEntity = retries
	}
	if maxPasses > 0 {
		harvest.MaxPasses = maxPasses
	}

	return harvest
}
