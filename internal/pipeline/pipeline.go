// Package pipeline runs a harvest job end to end: resolve the catalog,
// harvest it over converging passes, merge the records into the remote
// dataset and report the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/goharvest/internal/config"
	"github.com/dbsmedya/goharvest/internal/dataset"
	"github.com/dbsmedya/goharvest/internal/harvest"
	"github.com/dbsmedya/goharvest/internal/ledger"
	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/notify"
	"github.com/dbsmedya/goharvest/internal/page"
	"github.com/dbsmedya/goharvest/internal/remote"
	"github.com/dbsmedya/goharvest/internal/syncer"
	"github.com/dbsmedya/goharvest/internal/types"
	"github.com/dbsmedya/goharvest/internal/verifier"
)

// Opener is implemented by drivers that must load the job's entry page
// before use.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Dependencies are the collaborators a Pipeline drives. Ledger and Notifier
// are optional.
type Dependencies struct {
	Driver   page.Driver
	Store    remote.Store
	Ledger   *ledger.Ledger
	Notifier notify.Notifier
	Logger   *logger.Logger
}

// Report is the outcome of one run.
type Report struct {
	JobName      string         `json:"job"`
	RunID        int64          `json:"run_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Duration     time.Duration  `json:"duration_ns"`
	CatalogSize  int            `json:"catalog_size"`
	Passes       int            `json:"passes"`
	Succeeded    []string       `json:"succeeded"`
	Failed       []string       `json:"failed"`
	NewRows      int            `json:"new_rows"`
	Sync         *syncer.Result `json:"sync,omitempty"`
	FallbackPath string         `json:"fallback_path,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Pipeline runs one configured job.
type Pipeline struct {
	jobName    string
	job        *config.JobConfig
	harvestCfg config.HarvestConfig
	syncCfg    config.SyncConfig

	deps   Dependencies
	logger *logger.Logger
	now    func() time.Time
}

// New creates a Pipeline for jobName. Per-job harvest and sync settings are
// merged over the global ones.
func New(cfg *config.Config, jobName string, jobCfg *config.JobConfig, deps Dependencies) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if jobCfg == nil {
		return nil, fmt.Errorf("job config is nil")
	}
	if deps.Driver == nil {
		return nil, fmt.Errorf("page driver is nil")
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewDefault()
	}

	return &Pipeline{
		jobName:    jobName,
		job:        jobCfg,
		harvestCfg: jobCfg.GetJobHarvest(cfg.Harvest),
		syncCfg:    jobCfg.GetJobSync(cfg.Sync),
		deps:       deps,
		logger:     log.WithJob(jobName),
		now:        time.Now,
	}, nil
}

// Execute runs the job. The returned report is never nil. The error is
// non-nil when discovery fails, when a required sync fails, or when the run
// is interrupted; it is prefixed with the failing phase.
func (p *Pipeline) Execute(ctx context.Context) (*Report, error) {
	report := &Report{JobName: p.jobName, StartedAt: p.now()}
	runID := p.startRun(ctx)
	report.RunID = runID

	result, err := p.harvest(ctx, report)
	if err != nil {
		return p.fail(ctx, report, runID, err)
	}

	rows := dataset.FromRecords(result.Records, p.schema())
	report.NewRows = rows.Len()

	if !p.syncCfg.Enabled {
		p.logger.Info("Sync disabled, keeping new rows locally")
		p.writeFallback(report, rows)
		return p.finish(ctx, report, runID), nil
	}

	res, err := p.syncRows(ctx, rows)
	report.Sync = res
	if err != nil {
		p.writeFallback(report, rows)
		return p.fail(ctx, report, runID, fmt.Errorf("sync: %w", err))
	}

	return p.finish(ctx, report, runID), nil
}

// harvest resolves the catalog and runs the scheduler. An interrupted run
// keeps its partial rows in the local fallback.
func (p *Pipeline) harvest(ctx context.Context, report *Report) (*types.RunResult, error) {
	if opener, ok := p.deps.Driver.(Opener); ok {
		if err := opener.Open(ctx, p.job.URL); err != nil {
			return nil, fmt.Errorf("discovery: failed to open %s: %w", p.job.URL, err)
		}
	}

	resolver := harvest.NewResolver(p.deps.Driver, harvest.ResolverConfig{
		Selector:            p.job.EntitySelector,
		PlaceholderPrefixes: p.job.GetPlaceholderPrefixes(),
		MaxTries:            p.harvestCfg.MaxDiscoveryTries,
		MinCatalogSize:      p.harvestCfg.MinCatalogSize,
		DiagnosticsDir:      p.harvestCfg.DiagnosticsDir,
	}, p.logger)

	catalog, err := resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	report.CatalogSize = catalog.Len()
	p.logger.Infof("Resolved %d entities", catalog.Len())

	extractor := harvest.NewCardExtractor(p.job.GetExtractor(), p.job.GetColumns(), p.now)
	ready := extractor.Ready()
	if p.job.ReadySelector != "" {
		ready = harvest.SelectorReady(p.job.ReadySelector)
	}

	scheduler := harvest.NewScheduler(p.deps.Driver, extractor, harvest.SchedulerConfig{
		ControlSelector: p.job.EntitySelector,
		Ready:           ready,
		ReadyTimeout:    seconds(p.harvestCfg.ReadyTimeoutSeconds),
		RetryPause:      seconds(p.harvestCfg.RetryPauseSeconds),
		SleepMin:        seconds(p.harvestCfg.SleepMinSeconds),
		SleepMax:        seconds(p.harvestCfg.SleepMaxSeconds),
	}, p.logger)
	if p.deps.Ledger != nil && report.RunID > 0 {
		scheduler.OnAttempt(p.recordAttempt(ctx, report.RunID))
	}

	result, err := scheduler.Run(ctx, catalog, p.harvestCfg.RetriesPerEntity, p.harvestCfg.MaxPasses)
	report.Passes = result.Passes
	report.Succeeded = result.SucceededEntities()
	report.Failed = result.Failed
	if err != nil {
		partial := dataset.FromRecords(result.Records, p.schema())
		report.NewRows = partial.Len()
		p.writeFallback(report, partial)
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) syncRows(ctx context.Context, rows *dataset.Dataset) (*syncer.Result, error) {
	if p.deps.Store == nil {
		return nil, &syncer.ConfigError{Field: "remote", Message: "no store configured"}
	}
	keep, err := dataset.ParseKeep(p.syncCfg.Keep)
	if err != nil {
		return nil, &syncer.ConfigError{Field: "keep", Message: err.Error()}
	}

	v, err := verifier.NewVerifier(p.deps.Store, verifier.VerificationMethod(p.syncCfg.Verification.Method), p.logger)
	if err != nil {
		return nil, &syncer.ConfigError{Field: "verification.method", Message: err.Error()}
	}

	engine := syncer.NewEngine(p.deps.Store, v, p.logger)
	return engine.Sync(ctx, rows, p.SyncOptions(keep))
}

// SyncOptions maps the effective sync config of the job onto engine options.
func (p *Pipeline) SyncOptions(keep dataset.Keep) syncer.Options {
	return syncer.Options{
		ResourceID:      p.syncCfg.ResourceID,
		DedupKeys:       p.job.GetDedupKeys(),
		Keep:            keep,
		SortBy:          p.syncCfg.SortBy,
		Rename:          p.job.Rename,
		LocalCopy:       p.syncCfg.LocalCopy,
		CreateOnMissing: p.syncCfg.CreateOnMissing,
		ParentID:        p.syncCfg.ParentID,
		ResourceName:    p.syncCfg.ResourceName,
		SkipUnchanged:   p.syncCfg.SkipUnchanged,
	}
}

// MergeFile merges a previously written CSV of new rows into the remote
// dataset without harvesting.
func (p *Pipeline) MergeFile(ctx context.Context, data []byte) (*syncer.Result, error) {
	rows, err := dataset.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read new rows: %w", err)
	}
	if rows.Empty() {
		p.logger.Warn("Input has no rows, merge will only rewrite the remote dataset")
	}
	res, err := p.syncRows(ctx, rows)
	if err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}
	return res, nil
}

func (p *Pipeline) schema() dataset.Schema {
	cols := p.job.GetColumns()
	return dataset.Schema{
		EntityColumn:     cols.Entity,
		TimeColumn:       cols.CapturedAt,
		AttributeColumns: []string{cols.Condition, cols.Percent},
	}
}

// writeFallback keeps new rows on local disk when they could not be merged
// remotely.
func (p *Pipeline) writeFallback(report *Report, rows *dataset.Dataset) {
	path := p.syncCfg.FallbackPath
	if path == "" {
		path = p.syncCfg.LocalCopy
	}
	if path == "" || rows.Empty() {
		return
	}

	data, err := dataset.Encode(rows)
	if err == nil {
		err = syncer.WriteLocal(path, data)
	}
	if err != nil {
		p.logger.Errorf("Failed to write fallback rows to %s: %v", path, err)
		return
	}
	report.FallbackPath = path
	p.logger.Infof("Wrote %d new rows to %s", rows.Len(), path)
}

func (p *Pipeline) fail(ctx context.Context, report *Report, runID int64, err error) (*Report, error) {
	report.CompletedAt = p.now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Error = err.Error()
	p.logger.Errorf("Run failed: %v", err)

	summary := ledger.RunSummary{
		Status:       ledger.RunStatusFailed,
		Passes:       report.Passes,
		Succeeded:    len(report.Succeeded),
		Failed:       len(report.Failed),
		ErrorMessage: err.Error(),
	}
	if report.Sync != nil {
		summary.SyncAction = report.Sync.Action
		summary.TotalRows = report.Sync.TotalRows
	}
	p.finishRun(runID, summary)

	p.notify(ctx, notify.Summary{Job: p.jobName, Err: err, When: report.CompletedAt})
	return report, err
}

func (p *Pipeline) finish(ctx context.Context, report *Report, runID int64) *Report {
	report.CompletedAt = p.now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	summary := notify.Summary{
		Job:            p.jobName,
		SucceededCount: report.NewRows,
		FailedEntities: report.Failed,
		When:           report.CompletedAt,
	}
	run := ledger.RunSummary{
		Status:    ledger.RunStatusCompleted,
		Passes:    report.Passes,
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failed),
	}
	if report.Sync != nil {
		summary.Action = report.Sync.Action
		summary.ResourceID = report.Sync.ResourceID
		summary.MergedRows = report.Sync.TotalRows
		run.SyncAction = report.Sync.Action
		run.TotalRows = report.Sync.TotalRows
	}

	p.finishRun(runID, run)
	p.notify(ctx, summary)

	p.logger.Infow("Run complete",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"passes", report.Passes,
		"duration", report.Duration,
	)
	return report
}

func (p *Pipeline) startRun(ctx context.Context) int64 {
	if p.deps.Ledger == nil {
		return 0
	}
	id, err := p.deps.Ledger.StartRun(ctx, p.jobName)
	if err != nil {
		p.logger.Warnf("Run ledger unavailable: %v", err)
		return 0
	}
	return id
}

func (p *Pipeline) recordAttempt(ctx context.Context, runID int64) harvest.AttemptCallback {
	return func(a harvest.Attempt) {
		outcome := "ok"
		if a.Kind != harvest.FailureNone {
			outcome = a.Kind.String()
		}
		entry := ledger.Attempt{
			Pass:    a.Pass,
			Number:  a.Number,
			Entity:  a.Entity,
			Outcome: outcome,
			Elapsed: a.Elapsed,
		}
		if a.Err != nil {
			entry.Error = a.Err.Error()
		}
		if err := p.deps.Ledger.RecordAttempt(ctx, runID, entry); err != nil {
			p.logger.Warnf("Failed to record attempt: %v", err)
		}
	}
}

func (p *Pipeline) finishRun(runID int64, s ledger.RunSummary) {
	if p.deps.Ledger == nil || runID == 0 {
		return
	}
	// the run context may be cancelled by now
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.deps.Ledger.FinishRun(ctx, runID, s); err != nil {
		p.logger.Warnf("Failed to finish run %d in ledger: %v", runID, err)
	}
}

func (p *Pipeline) notify(ctx context.Context, s notify.Summary) {
	if p.deps.Notifier == nil {
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		ctx = context.Background()
	}
	if err := p.deps.Notifier.Notify(ctx, s); err != nil {
		p.logger.Warnf("Notification failed: %v", err)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
