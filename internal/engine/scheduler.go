package engine

import (
	"context"
	"log/slog"
	"time"
)

// Clock abstracts wall time so waits are deterministic in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler blocks until session clock times are reached.
type Scheduler struct {
	clock     Clock
	heartbeat time.Duration
	testMode  bool
	log       *slog.Logger
}

// NewScheduler creates a Scheduler. In test mode every wait returns at once.
func NewScheduler(clock Clock, heartbeat time.Duration, testMode bool) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}
	return &Scheduler{
		clock:     clock,
		heartbeat: heartbeat,
		testMode:  testMode,
		log:       slog.Default().With("component", "scheduler"),
	}
}

// Now returns the clock's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// TestMode reports whether waits are bypassed.
func (s *Scheduler) TestMode() bool { return s.testMode }

// WaitUntil blocks until target, logging a heartbeat periodically. It
// returns ctx.Err() if the context ends first.
func (s *Scheduler) WaitUntil(ctx context.Context, target time.Time) error {
	if s.testMode {
		s.log.Debug("test mode, skipping wait", "target", target.Format(time.TimeOnly))
		return nil
	}
	for {
		remaining := target.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}
		step := min(remaining, s.heartbeat)
		s.log.Info("waiting", "target", target.Format(time.TimeOnly), "remaining", remaining.Round(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(step):
		}
	}
}
