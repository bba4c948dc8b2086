// Package config provides configuration structures and loading for GoHarvest.
package config

// Config represents the complete application configuration.
type Config struct {
	Page    PageConfig           `yaml:"page" mapstructure:"page"`
	Harvest HarvestConfig        `yaml:"harvest" mapstructure:"harvest"`
	Sync    SyncConfig           `yaml:"sync" mapstructure:"sync"`
	Remote  RemoteConfig         `yaml:"remote" mapstructure:"remote"`
	State   StateConfig          `yaml:"state" mapstructure:"state"`
	Notify  NotifyConfig         `yaml:"notify" mapstructure:"notify"`
	Jobs    map[string]JobConfig `yaml:"jobs" mapstructure:"jobs"`
	Logging LoggingConfig        `yaml:"logging" mapstructure:"logging"`
}

// PageConfig controls how the rendered front-end is fetched.
type PageConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	PollSeconds       float64 `yaml:"poll_seconds" mapstructure:"poll_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	FrameDepth        int     `yaml:"frame_depth" mapstructure:"frame_depth"`
}

// HarvestConfig represents the retry and convergence settings of a run.
type HarvestConfig struct {
	RetriesPerEntity    int     `yaml:"retries_per_entity" mapstructure:"retries_per_entity"`
	MaxPasses           int     `yaml:"max_passes" mapstructure:"max_passes"`
	MaxDiscoveryTries   int     `yaml:"max_discovery_tries" mapstructure:"max_discovery_tries"`
	MinCatalogSize      int     `yaml:"min_catalog_size" mapstructure:"min_catalog_size"`
	ReadyTimeoutSeconds float64 `yaml:"ready_timeout_seconds" mapstructure:"ready_timeout_seconds"`
	RetryPauseSeconds   float64 `yaml:"retry_pause_seconds" mapstructure:"retry_pause_seconds"`
	SleepMinSeconds     float64 `yaml:"sleep_min_seconds" mapstructure:"sleep_min_seconds"`
	SleepMaxSeconds     float64 `yaml:"sleep_max_seconds" mapstructure:"sleep_max_seconds"`
	DiagnosticsDir      string  `yaml:"diagnostics_dir" mapstructure:"diagnostics_dir"`
}

// SyncConfig represents the merge-and-update settings for the remote dataset.
type SyncConfig struct {
	Enabled         bool               `yaml:"enabled" mapstructure:"enabled"`
	ResourceID      string             `yaml:"resource_id" mapstructure:"resource_id"`
	CreateOnMissing bool               `yaml:"create_on_missing" mapstructure:"create_on_missing"`
	ParentID        string             `yaml:"parent_id" mapstructure:"parent_id"`
	ResourceName    string             `yaml:"resource_name" mapstructure:"resource_name"`
	Keep            string             `yaml:"keep" mapstructure:"keep"` // last or first
	SortBy          string             `yaml:"sort_by" mapstructure:"sort_by"`
	LocalCopy       string             `yaml:"local_copy" mapstructure:"local_copy"`
	FallbackPath    string             `yaml:"fallback_path" mapstructure:"fallback_path"`
	SkipUnchanged   bool               `yaml:"skip_unchanged" mapstructure:"skip_unchanged"`
	Verification    VerificationConfig `yaml:"verification" mapstructure:"verification"`
}

// VerificationConfig represents post-upload verification settings.
type VerificationConfig struct {
	Method string `yaml:"method" mapstructure:"method"` // "count", "sha256" or "skip"
}

// RemoteConfig selects and configures the remote tabular store.
type RemoteConfig struct {
	Backend string            `yaml:"backend" mapstructure:"backend"` // drive or file
	Drive   DriveRemoteConfig `yaml:"drive" mapstructure:"drive"`
	File    FileRemoteConfig  `yaml:"file" mapstructure:"file"`
}

// DriveRemoteConfig configures the Google Drive v3 REST backend.
type DriveRemoteConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	AccessToken    string  `yaml:"access_token" mapstructure:"access_token"`
	MimeType       string  `yaml:"mime_type" mapstructure:"mime_type"`
	Retries        int     `yaml:"retries" mapstructure:"retries"`
	TimeoutSeconds float64 `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// FileRemoteConfig configures the local directory backend.
type FileRemoteConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// StateConfig represents the optional MySQL database holding the run ledger
// and the job lock.
type StateConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
	TablePrefix        string `yaml:"table_prefix" mapstructure:"table_prefix"`
}

// NotifyConfig represents the end-of-run email notification.
type NotifyConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Server   string   `yaml:"server" mapstructure:"server"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Sender   string   `yaml:"sender" mapstructure:"sender"`
	Password string   `yaml:"password" mapstructure:"password"`
	To       []string `yaml:"to" mapstructure:"to"`
}

// JobConfig describes one harvest target.
type JobConfig struct {
	URL                 string            `yaml:"url" mapstructure:"url"`
	EntitySelector      string            `yaml:"entity_selector" mapstructure:"entity_selector"`
	PlaceholderPrefixes []string          `yaml:"placeholder_prefixes" mapstructure:"placeholder_prefixes"`
	ReadySelector       string            `yaml:"ready_selector" mapstructure:"ready_selector"`
	Extractor           ExtractorConfig   `yaml:"extractor" mapstructure:"extractor"`
	Columns             ColumnsConfig     `yaml:"columns" mapstructure:"columns"`
	DedupKeys           []string          `yaml:"dedup_keys" mapstructure:"dedup_keys"`
	Rename              map[string]string `yaml:"rename" mapstructure:"rename"`
	Harvest             *HarvestConfig    `yaml:"harvest,omitempty" mapstructure:"harvest"`
	Sync                *SyncConfig       `yaml:"sync,omitempty" mapstructure:"sync"`
}

// ExtractorConfig holds the selectors used to find today's card.
type ExtractorConfig struct {
	CardSelector   string `yaml:"card_selector" mapstructure:"card_selector"`
	PeriodSelector string `yaml:"period_selector" mapstructure:"period_selector"`
	PeriodLabel    string `yaml:"period_label" mapstructure:"period_label"`
	FieldSelector  string `yaml:"field_selector" mapstructure:"field_selector"`
}

// ColumnsConfig names the dataset columns produced for a record.
type ColumnsConfig struct {
	Entity     string `yaml:"entity" mapstructure:"entity"`
	CapturedAt string `yaml:"captured_at" mapstructure:"captured_at"`
	Condition  string `yaml:"condition" mapstructure:"condition"`
	Percent    string `yaml:"percent" mapstructure:"percent"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Page: PageConfig{
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			TimeoutSeconds:    50,
			PollSeconds:       0.5,
			RequestsPerSecond: 2,
			FrameDepth:        3,
		},
		Harvest: HarvestConfig{
			RetriesPerEntity:    2,
			MaxPasses:           5,
			MaxDiscoveryTries:   5,
			MinCatalogSize:      10,
			ReadyTimeoutSeconds: 20,
			RetryPauseSeconds:   0.8,
			SleepMinSeconds:     0.7,
			SleepMaxSeconds:     1.2,
		},
		Sync: SyncConfig{
			Enabled:         true,
			CreateOnMissing: false,
			Keep:            "last",
			Verification: VerificationConfig{
				Method: "count",
			},
		},
		Remote: RemoteConfig{
			Backend: "drive",
			Drive: DriveRemoteConfig{
				BaseURL:        "https://www.googleapis.com",
				MimeType:       "text/csv",
				Retries:        3,
				TimeoutSeconds: 60,
			},
		},
		State: StateConfig{
			Enabled:            false,
			Port:               3306,
			TLS:                "preferred",
			MaxConnections:     4,
			MaxIdleConnections: 2,
			TablePrefix:        "harvest",
		},
		Notify: NotifyConfig{
			Enabled: false,
			Server:  "smtp.gmail.com",
			Port:    587,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// DefaultColumns returns the column names used when a job leaves them unset.
func DefaultColumns() ColumnsConfig {
	return ColumnsConfig{
		Entity:     "Province",
		CapturedAt: "DateTime",
		Condition:  "Weather",
		Percent:    "RainChance",
	}
}

// DefaultExtractor returns the selectors used when a job leaves them unset.
func DefaultExtractor() ExtractorConfig {
	return ExtractorConfig{
		CardSelector:   "div.card.card-shadow.text-center",
		PeriodSelector: "div.font-small",
		PeriodLabel:    "วันนี้",
		FieldSelector:  "div.font-tiny.text-center",
	}
}

// GetJobHarvest returns the harvest config for a job by name, falling back to global if not set.
func (c *Config) GetJobHarvest(jobName string) HarvestConfig {
	job, err := c.GetJob(jobName)
	if err != nil {
		return c.Harvest
	}
	return job.GetJobHarvest(c.Harvest)
}

// GetJobSync returns the sync config for a job by name, falling back to global if not set.
func (c *Config) GetJobSync(jobName string) SyncConfig {
	job, err := c.GetJob(jobName)
	if err != nil {
		return c.Sync
	}
	return job.GetJobSync(c.Sync)
}

// GetJobHarvest returns the harvest config for a job, falling back to global if not set.
func (jc *JobConfig) GetJobHarvest(global HarvestConfig) HarvestConfig {
	if jc.Harvest == nil {
		return global
	}

	result := global
	if jc.Harvest.RetriesPerEntity > 0 {
		result.RetriesPerEntity = jc.Harvest.RetriesPerEntity
	}
	if jc.Harvest.MaxPasses > 0 {
		result.MaxPasses = jc.Harvest.MaxPasses
	}
	if jc.Harvest.MaxDiscoveryTries > 0 {
		result.MaxDiscoveryTries = jc.Harvest.MaxDiscoveryTries
	}
	if jc.Harvest.MinCatalogSize > 0 {
		result.MinCatalogSize = jc.Harvest.MinCatalogSize
	}
	if jc.Harvest.ReadyTimeoutSeconds > 0 {
		result.ReadyTimeoutSeconds = jc.Harvest.ReadyTimeoutSeconds
	}
	if jc.Harvest.RetryPauseSeconds > 0 {
		result.RetryPauseSeconds = jc.Harvest.RetryPauseSeconds
	}
	if jc.Harvest.SleepMinSeconds > 0 {
		result.SleepMinSeconds = jc.Harvest.SleepMinSeconds
	}
	if jc.Harvest.SleepMaxSeconds > 0 {
		result.SleepMaxSeconds = jc.Harvest.SleepMaxSeconds
	}
	if jc.Harvest.DiagnosticsDir != "" {
		result.DiagnosticsDir = jc.Harvest.DiagnosticsDir
	}
	return result
}

// GetJobSync returns the sync config for a job, falling back to global if not set.
// Booleans can only be switched on by a job, never off.
func (jc *JobConfig) GetJobSync(global SyncConfig) SyncConfig {
	if jc.Sync == nil {
		return global
	}

	result := global
	if jc.Sync.ResourceID != "" {
		result.ResourceID = jc.Sync.ResourceID
	}
	if jc.Sync.ParentID != "" {
		result.ParentID = jc.Sync.ParentID
	}
	if jc.Sync.ResourceName != "" {
		result.ResourceName = jc.Sync.ResourceName
	}
	if jc.Sync.Keep != "" {
		result.Keep = jc.Sync.Keep
	}
	if jc.Sync.SortBy != "" {
		result.SortBy = jc.Sync.SortBy
	}
	if jc.Sync.LocalCopy != "" {
		result.LocalCopy = jc.Sync.LocalCopy
	}
	if jc.Sync.FallbackPath != "" {
		result.FallbackPath = jc.Sync.FallbackPath
	}
	if jc.Sync.Verification.Method != "" {
		result.Verification.Method = jc.Sync.Verification.Method
	}
	result.CreateOnMissing = jc.Sync.CreateOnMissing || global.CreateOnMissing
	result.SkipUnchanged = jc.Sync.SkipUnchanged || global.SkipUnchanged
	return result
}

// GetColumns returns the job's column names with defaults filled in.
func (jc *JobConfig) GetColumns() ColumnsConfig {
	cols := DefaultColumns()
	if jc.Columns.Entity != "" {
		cols.Entity = jc.Columns.Entity
	}
	if jc.Columns.CapturedAt != "" {
		cols.CapturedAt = jc.Columns.CapturedAt
	}
	if jc.Columns.Condition != "" {
		cols.Condition = jc.Columns.Condition
	}
	if jc.Columns.Percent != "" {
		cols.Percent = jc.Columns.Percent
	}
	return cols
}

// GetExtractor returns the job's extractor selectors with defaults filled in.
func (jc *JobConfig) GetExtractor() ExtractorConfig {
	ex := DefaultExtractor()
	if jc.Extractor.CardSelector != "" {
		ex.CardSelector = jc.Extractor.CardSelector
	}
	if jc.Extractor.PeriodSelector != "" {
		ex.PeriodSelector = jc.Extractor.PeriodSelector
	}
	if jc.Extractor.PeriodLabel != "" {
		ex.PeriodLabel = jc.Extractor.PeriodLabel
	}
	if jc.Extractor.FieldSelector != "" {
		ex.FieldSelector = jc.Extractor.FieldSelector
	}
	return ex
}

// GetDedupKeys returns the dedup key columns, defaulting to entity and capture time.
func (jc *JobConfig) GetDedupKeys() []string {
	if len(jc.DedupKeys) > 0 {
		return jc.DedupKeys
	}
	cols := jc.GetColumns()
	return []string{cols.Entity, cols.CapturedAt}
}

// GetPlaceholderPrefixes returns the prompt prefixes filtered out of the catalog.
func (jc *JobConfig) GetPlaceholderPrefixes() []string {
	if len(jc.PlaceholderPrefixes) > 0 {
		return jc.PlaceholderPrefixes
	}
	return []string{"เลือก", "choose", "select", "--"}
}
