package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goharvest/internal/logger"
)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := NewLedger(db, "harvest", logger.NewNop())
	require.NoError(t, err)
	return l, mock
}

func TestNewLedger_Validation(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	tests := []struct {
		name   string
		useDB  bool
		prefix string
		errMsg string
	}{
		{name: "Valid inputs", useDB: true, prefix: "harvest"},
		{name: "Empty prefix", useDB: true, prefix: ""},
		{name: "Nil database", useDB: false, prefix: "harvest", errMsg: "database connection is nil"},
		{name: "Invalid prefix", useDB: true, prefix: "har-vest", errMsg: "invalid identifier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l *Ledger
			var err error
			if tt.useDB {
				l, err = NewLedger(db, tt.prefix, nil)
			} else {
				l, err = NewLedger(nil, tt.prefix, nil)
			}

			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Nil(t, l)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestInitializeTables(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `harvest_run`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `harvest_run_entity`").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, l.InitializeTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializeTables_Failure(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS `harvest_run`").WillReturnError(errors.New("access denied"))

	err := l.InitializeTables(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestStartRun(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `harvest_run` (job_name, run_status) VALUES (?, ?)")).
		WithArgs("tmd", RunStatusRunning).
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := l.StartRun(context.Background(), "tmd")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttempt(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec("INSERT INTO `harvest_run_entity`").
		WithArgs(int64(42), 1, 2, "เชียงใหม่", "not_ready", "wait timed out", int64(1500)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `harvest_run_entity`").
		WithArgs(int64(42), 1, 1, "ภูเก็ต", "ok", nil, int64(0)).
		WillReturnResult(sqlmock.NewResult(2, 1))

	ctx := context.Background()
	require.NoError(t, l.RecordAttempt(ctx, 42, Attempt{
		Pass: 1, Number: 2, Entity: "เชียงใหม่", Outcome: "not_ready", Error: "wait timed out", Elapsed: 1500 * time.Millisecond,
	}))
	require.NoError(t, l.RecordAttempt(ctx, 42, Attempt{Pass: 1, Number: 1, Entity: "ภูเก็ต", Outcome: "ok"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectExec("UPDATE `harvest_run` SET run_status").
		WithArgs(RunStatusCompleted, 2, 76, 1, "update", 1200, nil, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.FinishRun(context.Background(), 42, RunSummary{
		Status: RunStatusCompleted, Passes: 2, Succeeded: 76, Failed: 1, SyncAction: "update", TotalRows: 1200,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastRun(t *testing.T) {
	l, mock := newTestLedger(t)
	started := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	finished := started.Add(5 * time.Minute)

	cols := []string{"id", "job_name", "run_status", "passes", "succeeded", "failed", "sync_action", "total_rows", "error_message", "started_at", "finished_at"}
	mock.ExpectQuery("SELECT id, job_name, run_status").
		WithArgs("tmd").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(7, "tmd", "completed", 2, 77, 0, "update", 1200, nil, started, finished))

	state, err := l.LastRun(context.Background(), "tmd")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(7), state.ID)
	assert.Equal(t, RunStatusCompleted, state.Status)
	assert.Equal(t, "update", state.SyncAction)
	assert.Equal(t, 1200, state.TotalRows)
	assert.Empty(t, state.ErrorMessage)
	require.NotNil(t, state.FinishedAt)
	assert.True(t, finished.Equal(*state.FinishedAt))
}

func TestLastRun_None(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectQuery("SELECT id, job_name, run_status").WithArgs("new_job").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	state, err := l.LastRun(context.Background(), "new_job")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestAttemptStats(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectQuery("SELECT outcome, COUNT").WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"outcome", "count"}).
			AddRow("ok", 76).
			AddRow("not_ready", 3).
			AddRow("stale_handle", 1))

	stats, err := l.AttemptStats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ok": 76, "not_ready": 3, "stale_handle": 1}, stats)
}
