/*
scheduler.go - Automated date-driven evaluation

PURPOSE:
  Periodically evaluates every event scheduled on the target day so
  sanctions appear without an operator pressing "evaluate".

DESIGN:
  - Runs a background goroutine with configurable interval
  - Targets the engine's "today" shifted by DayOffset (default -1, the
    previous day, whose windows have all elapsed)
  - Evaluation is idempotent, so repeated ticks over the same day only
    create what is missing
  - Each event run is recorded by the engine's run log (trigger "scheduler")

CONFIGURATION:
  - Interval:  How often to run (default: 1 hour)
  - Enabled:   Whether scheduler is active (default: true)
  - DayOffset: Day evaluated relative to today (default: -1)

USAGE:
  scheduler := NewEvaluationScheduler(engine, loc, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: EvaluateDate endpoint (manual date evaluation)
  - sanction/engine.go: EvaluateForDate
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/sanction-engine/sanction"
)

// EvaluationScheduler runs date-driven evaluation on a ticker.
type EvaluationScheduler struct {
	Engine    *sanction.Engine
	Location  *time.Location
	Interval  time.Duration
	Enabled   bool
	DayOffset int

	logger *zap.Logger
	ticker *time.Ticker
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewEvaluationScheduler creates a new scheduler.
func NewEvaluationScheduler(engine *sanction.Engine, loc *time.Location, logger *zap.Logger) *EvaluationScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &EvaluationScheduler{
		Engine:    engine,
		Location:  loc,
		Interval:  time.Hour,
		Enabled:   true,
		DayOffset: -1,
		logger:    logger.Named("scheduler"),
	}
}

// Start begins the scheduler. It runs once immediately.
func (s *EvaluationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx)

	s.logger.Info("Started", zap.Duration("interval", s.Interval), zap.Int("day_offset", s.DayOffset))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *EvaluationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("Stopped")
}

func (s *EvaluationScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// TargetDate returns the day the next run will evaluate.
func (s *EvaluationScheduler) TargetDate() time.Time {
	today := sanction.DayOf(s.Engine.Now().In(s.Location))
	return today.AddDate(0, 0, s.DayOffset)
}

// RunNow evaluates the target date immediately.
func (s *EvaluationScheduler) RunNow(ctx context.Context) ([]sanction.EvaluationResult, error) {
	date := s.TargetDate()
	logger := s.logger.With(zap.String("date", date.Format(time.DateOnly)))

	results, err := s.Engine.EvaluateForDate(ctx, date, sanction.TriggerScheduler)
	if err != nil {
		logger.Error("Date evaluation failed", zap.Error(err))
		return nil, err
	}

	created, failed := 0, 0
	for _, res := range results {
		created += res.SanctionsCreated
		if res.Err != nil {
			failed++
			logger.Warn("Event evaluation failed",
				zap.String("event_id", string(res.EventID)),
				zap.Error(res.Err))
		}
	}

	logger.Info("Completed",
		zap.Int("events", len(results)),
		zap.Int("sanctions_created", created),
		zap.Int("failed_events", failed))
	return results, nil
}

// NextRunTime returns when the next scheduled run will occur.
func (s *EvaluationScheduler) NextRunTime() time.Time {
	return s.Engine.Now().Add(s.Interval)
}
