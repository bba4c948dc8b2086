package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/page"
	"github.com/dbsmedya/goharvest/internal/types"
)

// SchedulerConfig configures a harvest run.
type SchedulerConfig struct {
	ControlSelector string
	Ready           page.Predicate
	ReadyTimeout    time.Duration
	RetryPause      time.Duration
	SleepMin        time.Duration
	SleepMax        time.Duration
}

// Attempt describes the outcome of one extraction attempt.
type Attempt struct {
	Pass    int
	Number  int
	Entity  string
	Kind    FailureKind
	Err     error
	Elapsed time.Duration
}

// AttemptCallback is invoked after every attempt, successful or not.
type AttemptCallback func(Attempt)

// Scheduler drives the extractor over the catalog across converging passes.
// Entities are harvested strictly one after another.
type Scheduler struct {
	driver    page.Driver
	extractor Extractor
	cfg       SchedulerConfig
	logger    *logger.Logger
	onAttempt AttemptCallback

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewScheduler creates a Scheduler. A nil Ready predicate treats every view as ready.
func NewScheduler(driver page.Driver, extractor Extractor, cfg SchedulerConfig, log *logger.Logger) *Scheduler {
	if cfg.Ready == nil {
		cfg.Ready = func(*goquery.Document) bool { return true }
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		driver:    driver,
		extractor: extractor,
		cfg:       cfg,
		logger:    log,
		sleep:     sleepContext,
		jitter:    rand.Float64,
	}
}

// OnAttempt registers a callback invoked after each attempt.
func (s *Scheduler) OnAttempt(cb AttemptCallback) {
	s.onAttempt = cb
}

// Run harvests every entity in catalog.
//
// Each pass tries the pending entities in catalog order, up to
// retriesPerEntity attempts each. After a pass:
//   - no failures: the run is complete
//   - failures not fewer than the previous pass: the run stops, those are residual
//   - otherwise the failures become the next pass's pending set, while pass < maxPasses
//
// Entities that succeed are never retried. Records are ordered by pass, then
// by catalog order within the pass.
//
// Cancellation is honoured between attempts; the partial result is returned
// together with the context error.
func (s *Scheduler) Run(ctx context.Context, catalog *types.EntityCatalog, retriesPerEntity, maxPasses int) (*types.RunResult, error) {
	if retriesPerEntity < 1 {
		retriesPerEntity = 1
	}
	if maxPasses < 1 {
		maxPasses = 1
	}

	result := &types.RunResult{}
	pending := catalog.Names()
	previousFailed := -1

	s.logger.Infow("Starting harvest", "entities", len(pending),
		"retries_per_entity", retriesPerEntity, "max_passes", maxPasses)

	for len(pending) > 0 {
		result.Passes++
		pass, err := s.runPass(ctx, result.Passes, catalog, pending, retriesPerEntity)
		result.Records = append(result.Records, pass.Succeeded...)
		if err != nil {
			result.Failed = pass.Failed
			return result, fmt.Errorf("harvest interrupted in pass %d: %w", result.Passes, err)
		}

		passLog := s.logger.WithPass(result.Passes)
		passLog.Infow("Pass complete", "succeeded", len(pass.Succeeded), "failed", len(pass.Failed))

		if len(pass.Failed) == 0 {
			result.Failed = nil
			break
		}
		if previousFailed >= 0 && len(pass.Failed) >= previousFailed {
			passLog.Warnw("No progress since previous pass, stopping", "failed", len(pass.Failed))
			result.Failed = pass.Failed
			break
		}

		pending = pass.Failed
		previousFailed = len(pending)
		if result.Passes >= maxPasses {
			passLog.Warnw("Pass limit reached", "max_passes", maxPasses, "failed", len(pending))
			result.Failed = pending
			break
		}
	}

	s.logger.Infow("Harvest complete", "records", len(result.Records),
		"failed", len(result.Failed), "passes", result.Passes)
	return result, nil
}

// runPass attempts every pending entity once through its retry budget. On
// cancellation the unattempted entities are reported as failed.
func (s *Scheduler) runPass(ctx context.Context, pass int, catalog *types.EntityCatalog, pending []string, retries int) (types.PassResult, error) {
	result := types.PassResult{Pass: pass}

	for i, name := range pending {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, pending[i:]...)
			return result, err
		}

		handle, ok := catalog.Get(name)
		if !ok {
			result.Failed = append(result.Failed, name)
			continue
		}

		record, err := s.harvestEntity(ctx, pass, handle, retries)
		if err != nil {
			result.Failed = append(result.Failed, pending[i:]...)
			return result, err
		}
		if record == nil {
			result.Failed = append(result.Failed, name)
			continue
		}
		result.Succeeded = append(result.Succeeded, *record)
	}
	return result, nil
}

// harvestEntity runs up to retries attempts for one entity. Every failed
// attempt except the last reloads the view and pauses. It returns a nil
// record when the budget is exhausted, and an error only on cancellation.
func (s *Scheduler) harvestEntity(ctx context.Context, pass int, handle types.EntityHandle, retries int) (*types.HarvestRecord, error) {
	log := s.logger.WithPass(pass).WithEntity(handle.Name)

	for n := 1; n <= retries; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		record, kind, err := s.attempt(ctx, handle)
		s.report(Attempt{Pass: pass, Number: n, Entity: handle.Name, Kind: kind, Err: err, Elapsed: time.Since(start)})

		if kind == FailureNone {
			log.Debugw("Entity harvested", "attempt", n)
			if err := s.sleep(ctx, s.politeness()); err != nil {
				log.Debugw("Politeness pause interrupted", "error", err)
			}
			return record, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Warnw("Attempt failed", "attempt", n, "of", retries,
			"kind", kind.String(), "transient", kind.Transient(), "error", err)

		if n == retries {
			break
		}
		if rerr := s.driver.Reload(ctx); rerr != nil {
			log.Warnw("Reload after failed attempt failed", "error", rerr)
		}
		if err := s.sleep(ctx, s.cfg.RetryPause); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// attempt performs select, wait and extract once.
func (s *Scheduler) attempt(ctx context.Context, handle types.EntityHandle) (*types.HarvestRecord, FailureKind, error) {
	control, err := s.driver.Locate(ctx, s.cfg.ControlSelector)
	if err != nil {
		return nil, classify(err, FailureSelection), err
	}
	if control == nil {
		return nil, FailureSelection, fmt.Errorf("control %q not found", s.cfg.ControlSelector)
	}

	applied, err := s.driver.ApplySelection(ctx, control, handle.SelectionValue)
	if err != nil {
		return nil, classify(err, FailureSelection), err
	}
	if !applied {
		return nil, FailureSelection, fmt.Errorf("value %q could not be selected", handle.SelectionValue)
	}

	ready, err := s.driver.WaitFor(ctx, s.cfg.Ready, s.cfg.ReadyTimeout)
	if err != nil {
		return nil, classify(err, FailureNotReady), err
	}
	if !ready {
		return nil, FailureNotReady, fmt.Errorf("view not ready after %s", s.cfg.ReadyTimeout)
	}

	record, err := s.extractor.Extract(s.driver.CurrentView(), handle.Name)
	if err != nil {
		return nil, classify(err, FailureExtraction), err
	}
	if record == nil {
		return nil, FailureNoRecord, nil
	}
	return record, FailureNone, nil
}

func (s *Scheduler) report(a Attempt) {
	if s.onAttempt != nil {
		s.onAttempt(a)
	}
}

func (s *Scheduler) politeness() time.Duration {
	if s.cfg.SleepMax <= s.cfg.SleepMin {
		return s.cfg.SleepMin
	}
	span := float64(s.cfg.SleepMax - s.cfg.SleepMin)
	return s.cfg.SleepMin + time.Duration(s.jitter()*span)
}

func classify(err error, fallback FailureKind) FailureKind {
	if errors.Is(err, page.ErrStaleHandle) {
		return FailureStaleHandle
	}
	return fallback
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
