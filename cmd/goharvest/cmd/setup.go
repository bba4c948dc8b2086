package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/goharvest/internal/config"
	"github.com/dbsmedya/goharvest/internal/database"
	"github.com/dbsmedya/goharvest/internal/ledger"
	"github.com/dbsmedya/goharvest/internal/lock"
	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/notify"
	"github.com/dbsmedya/goharvest/internal/page"
	"github.com/dbsmedya/goharvest/internal/pipeline"
	"github.com/dbsmedya/goharvest/internal/remote"
)

// runtimeDeps holds what a job run needs besides the page driver, plus the
// resources to release when the command ends.
type runtimeDeps struct {
	deps    pipeline.Dependencies
	db      *database.Manager
	jobLock *lock.AdvisoryLock
}

// openRuntime connects the optional state database, takes the job lock,
// prepares the run ledger and builds the remote store and notifier.
func openRuntime(ctx context.Context, cfg *config.Config, jobName string, force bool, log *logger.Logger) (*runtimeDeps, error) {
	rt := &runtimeDeps{db: database.NewManager(&cfg.State)}
	rt.deps.Logger = log

	if err := rt.db.Connect(ctx); err != nil {
		return nil, err
	}

	if rt.db.Enabled() {
		if !force {
			jobLock := lock.NewJobLock(rt.db.State, jobName)
			if err := jobLock.AcquireOrFail(ctx); err != nil {
				rt.close(log)
				if errors.Is(err, lock.ErrLockTimeout) {
					return nil, fmt.Errorf("job '%s' is already running on another instance (use --force to override)", jobName)
				}
				return nil, fmt.Errorf("failed to acquire job lock: %w", err)
			}
			rt.jobLock = jobLock
			log.Infow("Acquired advisory lock for job", "job", jobName)
		} else {
			log.Warnw("Skipping advisory lock acquisition (--force flag used)", "job", jobName)
		}

		l, err := ledger.NewLedger(rt.db.State, cfg.State.TablePrefix, log)
		if err != nil {
			rt.close(log)
			return nil, err
		}
		if err := l.InitializeTables(ctx); err != nil {
			rt.close(log)
			return nil, err
		}
		rt.deps.Ledger = l
	}

	if cfg.GetJobSync(jobName).Enabled {
		store, err := remote.New(cfg.Remote, log)
		if err != nil {
			rt.close(log)
			return nil, err
		}
		rt.deps.Store = store
	}

	if cfg.Notify.Enabled {
		rt.deps.Notifier = notify.NewSMTPNotifier(cfg.Notify, log)
	}
	return rt, nil
}

func (rt *runtimeDeps) close(log *logger.Logger) {
	if rt.jobLock != nil {
		if _, err := rt.jobLock.ReleaseLock(context.Background()); err != nil {
			log.Warnf("Failed to release job lock: %v", err)
		}
	}
	if err := rt.db.Close(); err != nil {
		log.Warnf("Failed to close state database: %v", err)
	}
}

// newDriver builds the HTTP page driver from the page config section.
func newDriver(cfg config.PageConfig, log *logger.Logger) (*page.HTTPDriver, error) {
	return page.NewHTTPDriver(page.Options{
		UserAgent:         cfg.UserAgent,
		Timeout:           seconds(cfg.TimeoutSeconds),
		Poll:              seconds(cfg.PollSeconds),
		RequestsPerSecond: cfg.RequestsPerSecond,
		FrameDepth:        cfg.FrameDepth,
	}, log)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
