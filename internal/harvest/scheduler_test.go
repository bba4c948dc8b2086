package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(d *fakeDriver) (*Scheduler, *[]time.Duration) {
	s := NewScheduler(d, viewExtractor{at: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}, SchedulerConfig{
		ControlSelector: "#entities",
		ReadyTimeout:    time.Second,
		RetryPause:      800 * time.Millisecond,
		SleepMin:        700 * time.Millisecond,
		SleepMax:        1200 * time.Millisecond,
	}, nil)
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	s.jitter = func() float64 { return 0.5 }
	return s, &slept
}

func TestRunRecoversFailedEntityInSecondPass(t *testing.T) {
	d := newFakeDriver()
	d.script["3"] = []string{outcomeError, outcomeError, outcomeOK}
	s, _ := newTestScheduler(d)

	result, err := s.Run(context.Background(), catalogOf("A", "1", "B", "2", "C", "3"), 2, 5)
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	assert.Equal(t, []string{"A", "B", "C"}, result.SucceededEntities())
	assert.Empty(t, result.Failed)
	assert.Equal(t, 2, result.Passes)

	// One reload between C's two attempts in pass 1, none after the final attempt.
	assert.Equal(t, 1, d.reloads)
	assert.Equal(t, 1, d.attempts["1"], "succeeded entities are never retried")
	assert.Equal(t, 1, d.attempts["2"])
	assert.Equal(t, 3, d.attempts["3"])
}

func TestRunStopsWhenNoProgress(t *testing.T) {
	d := newFakeDriver()
	d.script["2"] = []string{outcomeSelect}
	s, _ := newTestScheduler(d)

	result, err := s.Run(context.Background(), catalogOf("Good", "1", "Broken", "2"), 2, 5)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Passes, "stops once the failure count stops shrinking")
	assert.Equal(t, []string{"Broken"}, result.Failed)
	assert.Equal(t, []string{"Good"}, result.SucceededEntities())
	assert.Equal(t, 4, d.attempts["2"])
}

func TestRunBoundedByMaxPasses(t *testing.T) {
	d := newFakeDriver()
	// Entity n fails in its first n passes.
	d.script["1"] = []string{outcomeError, outcomeOK}
	d.script["2"] = []string{outcomeError, outcomeError, outcomeOK}
	d.script["3"] = []string{outcomeError, outcomeError, outcomeError, outcomeOK}
	s, _ := newTestScheduler(d)

	result, err := s.Run(context.Background(), catalogOf("E0", "0", "E1", "1", "E2", "2", "E3", "3"), 1, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Passes)
	assert.Equal(t, []string{"E2", "E3"}, result.Failed)
	assert.Equal(t, []string{"E0", "E1"}, result.SucceededEntities())
}

func TestRunConvergesWithinMaxPasses(t *testing.T) {
	d := newFakeDriver()
	d.script["1"] = []string{outcomeError, outcomeOK}
	d.script["2"] = []string{outcomeError, outcomeError, outcomeOK}
	s, _ := newTestScheduler(d)

	result, err := s.Run(context.Background(), catalogOf("E0", "0", "E1", "1", "E2", "2"), 1, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Passes)
	assert.Empty(t, result.Failed)
	// Pass order, then catalog order.
	assert.Equal(t, []string{"E0", "E1", "E2"}, result.SucceededEntities())
}

func TestRunRecordOrderFollowsPasses(t *testing.T) {
	d := newFakeDriver()
	d.script["1"] = []string{outcomeError, outcomeOK}
	s, _ := newTestScheduler(d)

	result, err := s.Run(context.Background(), catalogOf("First", "1", "Second", "2"), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Second", "First"}, result.SucceededEntities())
}

func TestAttemptFailureKinds(t *testing.T) {
	tests := []struct {
		outcome   string
		kind      FailureKind
		transient bool
	}{
		{outcomeSelect, FailureSelection, true},
		{outcomeStale, FailureStaleHandle, true},
		{outcomeNotReady, FailureNotReady, true},
		{outcomeNoRecord, FailureNoRecord, false},
		{outcomeError, FailureExtraction, false},
		{outcomeOK, FailureNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			d := newFakeDriver()
			d.script["1"] = []string{tt.outcome}
			s, _ := newTestScheduler(d)

			var seen []Attempt
			s.OnAttempt(func(a Attempt) { seen = append(seen, a) })

			_, err := s.Run(context.Background(), catalogOf("X", "1"), 1, 1)
			require.NoError(t, err)
			require.Len(t, seen, 1)
			assert.Equal(t, tt.kind, seen[0].Kind)
			assert.Equal(t, tt.transient, seen[0].Kind.Transient())
			assert.Equal(t, "X", seen[0].Entity)
			assert.Equal(t, 1, seen[0].Pass)
		})
	}
}

func TestMissingControlIsSelectionFailure(t *testing.T) {
	d := newFakeDriver()
	d.pages = []string{`<p>no control</p>`}
	s, _ := newTestScheduler(d)

	var kinds []FailureKind
	s.OnAttempt(func(a Attempt) { kinds = append(kinds, a.Kind) })

	result, err := s.Run(context.Background(), catalogOf("X", "1"), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, result.Failed)
	assert.Equal(t, []FailureKind{FailureSelection, FailureSelection}, kinds)
}

func TestPausesBetweenAttempts(t *testing.T) {
	d := newFakeDriver()
	d.script["2"] = []string{outcomeNotReady, outcomeOK}
	s, slept := newTestScheduler(d)

	_, err := s.Run(context.Background(), catalogOf("A", "1", "B", "2"), 2, 1)
	require.NoError(t, err)

	// A success, B retry pause, B success.
	assert.Equal(t, []time.Duration{950 * time.Millisecond, 800 * time.Millisecond, 950 * time.Millisecond}, *slept)
}

func TestRunCancelledBetweenAttempts(t *testing.T) {
	d := newFakeDriver()
	s, _ := newTestScheduler(d)

	ctx, cancel := context.WithCancel(context.Background())
	s.OnAttempt(func(a Attempt) {
		if a.Entity == "A" {
			cancel()
		}
	})

	result, err := s.Run(ctx, catalogOf("A", "1", "B", "2", "C", "3"), 2, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"A"}, result.SucceededEntities(), "record completed before cancellation is kept")
	assert.Equal(t, []string{"B", "C"}, result.Failed)
	assert.Equal(t, 0, d.attempts["2"])
}

func TestPolitenessBounds(t *testing.T) {
	s := NewScheduler(newFakeDriver(), viewExtractor{}, SchedulerConfig{SleepMin: time.Second, SleepMax: time.Second}, nil)
	assert.Equal(t, time.Second, s.politeness())

	s.cfg.SleepMax = 3 * time.Second
	s.jitter = func() float64 { return 0.25 }
	assert.Equal(t, 1500*time.Millisecond, s.politeness())
}
