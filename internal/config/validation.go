package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	// Validate jobs
	if len(c.Jobs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "jobs",
			Message: "at least one job must be defined",
		})
	}
	for name, job := range c.Jobs {
		if err := c.validateJob(name, &job); err != nil {
			errors = append(errors, err...)
		}
	}

	if err := c.validatePage(); err != nil {
		errors = append(errors, err...)
	}

	if err := validateHarvest("harvest", &c.Harvest); err != nil {
		errors = append(errors, err...)
	}

	if err := validateSync("sync", &c.Sync); err != nil {
		errors = append(errors, err...)
	}

	if c.Sync.Enabled {
		if err := c.validateRemote(); err != nil {
			errors = append(errors, err...)
		}
	}

	if c.State.Enabled {
		if err := c.validateState(); err != nil {
			errors = append(errors, err...)
		}
	}

	if c.Notify.Enabled {
		if err := c.validateNotify(); err != nil {
			errors = append(errors, err...)
		}
	}

	// Validate logging settings
	if err := c.validateLogging(); err != nil {
		errors = append(errors, err...)
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateJob(name string, job *JobConfig) ValidationErrors {
	var errors ValidationErrors
	prefix := fmt.Sprintf("jobs.%s", name)

	if job.URL == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".url",
			Message: "url is required",
		})
	} else if u, err := url.Parse(job.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".url",
			Message: "url must be absolute (scheme and host)",
		})
	}

	if job.EntitySelector == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".entity_selector",
			Message: "entity_selector is required",
		})
	}

	for from, to := range job.Rename {
		if from == "" || to == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".rename",
				Message: "rename entries must map a non-empty column to a non-empty column",
			})
			break
		}
	}

	if job.Harvest != nil {
		merged := job.GetJobHarvest(c.Harvest)
		if err := validateHarvest(prefix+".harvest", &merged); err != nil {
			errors = append(errors, err...)
		}
	}

	if job.Sync != nil {
		merged := job.GetJobSync(c.Sync)
		if err := validateSync(prefix+".sync", &merged); err != nil {
			errors = append(errors, err...)
		}
	}

	if c.Sync.Enabled && c.GetJobSync(name).ResourceID == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".sync.resource_id",
			Message: "resource_id is required when sync is enabled",
		})
	}

	return errors
}

func (c *Config) validatePage() ValidationErrors {
	var errors ValidationErrors

	if c.Page.TimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "page.timeout_seconds",
			Message: "timeout_seconds must be positive",
		})
	}

	if c.Page.PollSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "page.poll_seconds",
			Message: "poll_seconds must be positive",
		})
	}

	if c.Page.RequestsPerSecond < 0 {
		errors = append(errors, ValidationError{
			Field:   "page.requests_per_second",
			Message: "requests_per_second cannot be negative",
		})
	}

	if c.Page.FrameDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "page.frame_depth",
			Message: "frame_depth cannot be negative",
		})
	}

	return errors
}

func validateHarvest(prefix string, h *HarvestConfig) ValidationErrors {
	var errors ValidationErrors

	if h.RetriesPerEntity < 1 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".retries_per_entity",
			Message: "retries_per_entity must be at least 1",
		})
	}

	if h.MaxPasses < 1 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_passes",
			Message: "max_passes must be at least 1",
		})
	}

	if h.MaxDiscoveryTries < 1 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_discovery_tries",
			Message: "max_discovery_tries must be at least 1",
		})
	}

	if h.MinCatalogSize < 1 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".min_catalog_size",
			Message: "min_catalog_size must be at least 1",
		})
	}

	if h.ReadyTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".ready_timeout_seconds",
			Message: "ready_timeout_seconds must be positive",
		})
	}

	if h.RetryPauseSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".retry_pause_seconds",
			Message: "retry_pause_seconds cannot be negative",
		})
	}

	if h.SleepMinSeconds < 0 || h.SleepMaxSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".sleep_min_seconds",
			Message: "sleep bounds cannot be negative",
		})
	} else if h.SleepMinSeconds > h.SleepMaxSeconds {
		errors = append(errors, ValidationError{
			Field:   prefix + ".sleep_max_seconds",
			Message: "sleep_max_seconds must not be less than sleep_min_seconds",
		})
	}

	return errors
}

func validateSync(prefix string, s *SyncConfig) ValidationErrors {
	var errors ValidationErrors

	validKeep := map[string]bool{"last": true, "first": true, "": true}
	if !validKeep[s.Keep] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".keep",
			Message: "keep must be 'last' or 'first'",
		})
	}

	if s.CreateOnMissing && s.ParentID == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".parent_id",
			Message: "parent_id is required when create_on_missing is set",
		})
	}

	validMethods := map[string]bool{"count": true, "sha256": true, "skip": true, "": true}
	if !validMethods[s.Verification.Method] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".verification.method",
			Message: "method must be 'count', 'sha256', or 'skip'",
		})
	}

	return errors
}

func (c *Config) validateRemote() ValidationErrors {
	var errors ValidationErrors

	switch c.Remote.Backend {
	case "drive", "":
		if c.Remote.Drive.AccessToken == "" {
			errors = append(errors, ValidationError{
				Field:   "remote.drive.access_token",
				Message: "access_token is required for the drive backend",
			})
		}
		if c.Remote.Drive.Retries < 0 {
			errors = append(errors, ValidationError{
				Field:   "remote.drive.retries",
				Message: "retries cannot be negative",
			})
		}
	case "file":
		if c.Remote.File.Root == "" {
			errors = append(errors, ValidationError{
				Field:   "remote.file.root",
				Message: "root is required for the file backend",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "remote.backend",
			Message: "backend must be 'drive' or 'file'",
		})
	}

	return errors
}

func (c *Config) validateState() ValidationErrors {
	var errors ValidationErrors
	db := &c.State

	if db.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "state.host",
			Message: "host is required when state is enabled",
		})
	}

	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "state.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if db.User == "" {
		errors = append(errors, ValidationError{
			Field:   "state.user",
			Message: "user is required when state is enabled",
		})
	}

	if db.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "state.database",
			Message: "database name is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   "state.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 || db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   "state.max_connections",
			Message: "connection limits cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateNotify() ValidationErrors {
	var errors ValidationErrors

	if c.Notify.Server == "" {
		errors = append(errors, ValidationError{
			Field:   "notify.server",
			Message: "server is required when notify is enabled",
		})
	}

	if c.Notify.Port <= 0 || c.Notify.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "notify.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if c.Notify.Sender == "" {
		errors = append(errors, ValidationError{
			Field:   "notify.sender",
			Message: "sender is required when notify is enabled",
		})
	}

	if len(c.Notify.To) == 0 {
		errors = append(errors, ValidationError{
			Field:   "notify.to",
			Message: "at least one recipient is required",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
