// Package ledger records harvest runs and per-entity attempts in the MySQL
// state database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/sqlutil"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

const createRunTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	job_name VARCHAR(255) NOT NULL,
	run_status VARCHAR(20) NOT NULL DEFAULT 'running',
	passes INT NOT NULL DEFAULT 0,
	succeeded INT NOT NULL DEFAULT 0,
	failed INT NOT NULL DEFAULT 0,
	sync_action VARCHAR(20),
	total_rows INT,
	error_message TEXT,
	started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at TIMESTAMP NULL,
	INDEX idx_job_started (job_name, started_at)
) ENGINE=InnoDB;
`

const createEntityTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	run_id BIGINT NOT NULL,
	pass INT NOT NULL,
	attempt INT NOT NULL,
	entity VARCHAR(255) NOT NULL,
	outcome VARCHAR(20) NOT NULL,
	error_message TEXT,
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	INDEX idx_run_outcome (run_id, outcome),
	FOREIGN KEY (run_id) REFERENCES %s(id) ON DELETE CASCADE
) ENGINE=InnoDB;
`

// Attempt is one logged extraction attempt.
type Attempt struct {
	Pass    int
	Number  int
	Entity  string
	Outcome string // "ok" or a failure kind
	Error   string
	Elapsed time.Duration
}

// RunSummary is written when a run ends.
type RunSummary struct {
	Status       RunStatus
	Passes       int
	Succeeded    int
	Failed       int
	SyncAction   string
	TotalRows    int
	ErrorMessage string
}

// RunState is a stored run.
type RunState struct {
	ID           int64
	JobName      string
	Status       RunStatus
	Passes       int
	Succeeded    int
	Failed       int
	SyncAction   string
	TotalRows    int
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Ledger writes run history.
type Ledger struct {
	db          *sql.DB
	runTable    string
	entityTable string
	logger      *logger.Logger
}

// NewLedger creates a ledger whose tables are named <prefix>_run and
// <prefix>_run_entity.
func NewLedger(db *sql.DB, tablePrefix string, log *logger.Logger) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	runTable, err := sqlutil.PrefixedTable(tablePrefix, "run")
	if err != nil {
		return nil, err
	}
	entityTable, err := sqlutil.PrefixedTable(tablePrefix, "run_entity")
	if err != nil {
		return nil, err
	}

	return &Ledger{db: db, runTable: runTable, entityTable: entityTable, logger: log}, nil
}

// InitializeTables creates the ledger tables if they don't exist.
func (l *Ledger) InitializeTables(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(createRunTableSQL, l.runTable)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", l.runTable, err)
	}
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(createEntityTableSQL, l.entityTable, l.runTable)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", l.entityTable, err)
	}
	l.logger.Debug("Ledger tables initialized")
	return nil
}

// StartRun inserts a running row and returns its id.
func (l *Ledger) StartRun(ctx context.Context, jobName string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (job_name, run_status) VALUES (?, ?)", l.runTable),
		jobName, RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	l.logger.Debugf("Started run %d for job %q", id, jobName)
	return id, nil
}

// RecordAttempt logs one attempt of a run.
func (l *Ledger) RecordAttempt(ctx context.Context, runID int64, a Attempt) error {
	var errMsg sql.NullString
	if a.Error != "" {
		errMsg = sql.NullString{String: a.Error, Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (run_id, pass, attempt, entity, outcome, error_message, elapsed_ms) VALUES (?, ?, ?, ?, ?, ?, ?)", l.entityTable),
		runID, a.Pass, a.Number, a.Entity, a.Outcome, errMsg, a.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %q: %w", a.Entity, err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID int64, s RunSummary) error {
	var errMsg, action sql.NullString
	if s.ErrorMessage != "" {
		errMsg = sql.NullString{String: s.ErrorMessage, Valid: true}
	}
	if s.SyncAction != "" {
		action = sql.NullString{String: s.SyncAction, Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET run_status = ?, passes = ?, succeeded = ?, failed = ?, sync_action = ?, total_rows = ?, error_message = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?", l.runTable),
		s.Status, s.Passes, s.Succeeded, s.Failed, action, s.TotalRows, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %d: %w", runID, err)
	}

	l.logger.Debugf("Run %d finished with status %s", runID, s.Status)
	return nil
}

// LastRun returns the most recent run of a job, or nil if it never ran.
func (l *Ledger) LastRun(ctx context.Context, jobName string) (*RunState, error) {
	var (
		state    RunState
		action   sql.NullString
		total    sql.NullInt64
		errMsg   sql.NullString
		finished sql.NullTime
	)
	err := l.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, job_name, run_status, passes, succeeded, failed, sync_action, total_rows, error_message, started_at, finished_at FROM %s WHERE job_name = ? ORDER BY id DESC LIMIT 1", l.runTable),
		jobName,
	).Scan(&state.ID, &state.JobName, &state.Status, &state.Passes, &state.Succeeded, &state.Failed,
		&action, &total, &errMsg, &state.StartedAt, &finished)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}

	state.SyncAction = action.String
	state.TotalRows = int(total.Int64)
	state.ErrorMessage = errMsg.String
	if finished.Valid {
		state.FinishedAt = &finished.Time
	}
	return &state, nil
}

// AttemptStats counts the attempts of a run by outcome.
func (l *Ledger) AttemptStats(ctx context.Context, runID int64) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT outcome, COUNT(*) FROM %s WHERE run_id = ? GROUP BY outcome", l.entityTable),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt stats: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			l.logger.Warnf("Failed to close rows: %v", err)
		}
	}()

	stats := make(map[string]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[outcome] = count
	}
	return stats, rows.Err()
}
