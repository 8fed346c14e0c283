/*
engine.go - The sanction-calculation engine

PURPOSE:
  Evaluates one event's attendance against the Active roster and writes the
  sanctions needed to represent delinquency. Also reverses an event's
  sanctions, marks sanctions paid and totals what a member owes.

EVALUATION PASS:
  1. Take the per-event lock (Evaluate and Reverse never overlap per event)
  2. Load the event (ErrEventNotFound aborts with no side effects)
  3. Gate: not force-closed and time-in window not yet open -> 0 created
  4. Load Active members (failure aborts)
  5. Classify each member (rules.go) and dedup-insert non-compliant outcomes
  6. Return counts and the IDs of newly created sanctions

FAILURE POLICY:
  Event/member loading failures abort the pass. A failure for one member
  (record lookup or insert) is retried when transient, then logged and
  skipped so the rest of the roster is still processed.

IDEMPOTENCE:
  An outcome already in the ledger is a silent no-op, whether detected by
  Ledger.Exists or by the storage uniqueness constraint (ErrDuplicateSanction).
  Running Evaluate twice with unchanged inputs creates nothing the second time.

SEE ALSO:
  - rules.go: Classify
  - store.go: Collaborator interfaces
  - lock/: Per-event lockers
*/
package sanction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/warp/sanction-engine/lock"
)

// MsgNotStarted is the message of a gated (skipped) evaluation.
const MsgNotStarted = "event has not started"

// =============================================================================
// RESULTS
// =============================================================================

type EvaluationResult struct {
	EventID          EventID
	Success          bool
	Message          string
	SanctionsCreated int
	SanctionIDs      []SanctionID
	Skipped          int // outcomes already present in the ledger
	Compliant        int
	Failures         []MemberFailure
	Err              error // set only by EvaluateForDate
}

type ReversalResult struct {
	EventID      EventID
	Success      bool
	Message      string
	DeletedCount int
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store       Store
	clock       Clock
	locker      lock.Locker
	logger      *zap.Logger
	runs        RunLog
	parallelism int
	retries     uint64
	retryDelay  time.Duration
}

type Option func(*Engine)

func WithClock(c Clock) Option            { return func(e *Engine) { e.clock = c } }
func WithLocker(l lock.Locker) Option     { return func(e *Engine) { e.locker = l } }
func WithLogger(l *zap.Logger) Option     { return func(e *Engine) { e.logger = l.Named("sanction_engine") } }
func WithRunLog(r RunLog) Option          { return func(e *Engine) { e.runs = r } }
func WithParallelism(n int) Option        { return func(e *Engine) { e.parallelism = max(n, 1) } }
func WithRetry(n uint64, d time.Duration) Option {
	return func(e *Engine) { e.retries, e.retryDelay = n, d }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		clock:       SystemClock(),
		locker:      lock.NewKeyedMutex(),
		logger:      zap.NewNop(),
		parallelism: 4,
		retries:     3,
		retryDelay:  20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now reports the engine's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

func lockKey(id EventID) string { return "event:" + string(id) }

// Evaluate runs one evaluation pass for eventID.
func (e *Engine) Evaluate(ctx context.Context, eventID EventID, trigger Trigger) (EvaluationResult, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(eventID))
	if err != nil {
		return EvaluationResult{EventID: eventID, Message: err.Error()}, err
	}
	defer unlock()

	return e.evaluateHeld(ctx, eventID, trigger)
}

// evaluateHeld runs one recorded pass. The caller holds the event lock.
func (e *Engine) evaluateHeld(ctx context.Context, eventID EventID, trigger Trigger) (EvaluationResult, error) {
	run := e.startRun(ctx, eventID, trigger)
	result, err := e.evaluateLocked(ctx, eventID)
	e.finishRun(ctx, run, result, err)
	return result, err
}

func (e *Engine) evaluateLocked(ctx context.Context, eventID EventID) (EvaluationResult, error) {
	result := EvaluationResult{EventID: eventID}
	logger := e.logger.With(zap.String("event_id", string(eventID)))

	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		if !errors.Is(err, ErrEventNotFound) {
			err = &PersistenceError{Op: "load event", EventID: eventID, Err: err}
		}
		logger.Error("Evaluation aborted", zap.Error(err))
		result.Message = err.Error()
		return result, err
	}

	now := e.clock.Now()
	if !event.Started(now) {
		logger.Info("Evaluation skipped", zap.Time("time_in_opens", event.TimeInOpens()))
		result.Success = true
		result.Message = MsgNotStarted
		return result, nil
	}

	members, err := e.store.ListActiveMembers(ctx)
	if err != nil {
		err = &PersistenceError{Op: "list active members", EventID: eventID, Err: err}
		logger.Error("Evaluation aborted", zap.Error(err))
		result.Message = err.Error()
		return result, err
	}

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			result.Message = err.Error()
			return result, err
		}

		var rec *AttendanceRecord
		err := e.retry(ctx, func() error {
			var err error
			rec, err = e.store.GetRecord(ctx, eventID, m.ID)
			return err
		})
		if err != nil {
			logger.Warn("Skipping member: attendance lookup failed",
				zap.String("member_id", string(m.ID)),
				zap.Error(err))
			result.Failures = append(result.Failures, MemberFailure{MemberID: m.ID, Err: err})
			continue
		}

		outcome := Classify(rec)
		if outcome.Compliant {
			result.Compliant++
			continue
		}

		id, created, err := e.createIfAbsent(ctx, Sanction{
			MemberID: m.ID,
			EventID:  eventID,
			Amount:   outcome.Amount,
			Reason:   outcome.Reason,
			Status:   Unpaid,
		})
		switch {
		case err != nil:
			logger.Warn("Skipping member: sanction insert failed",
				zap.String("member_id", string(m.ID)),
				zap.String("reason", string(outcome.Reason)),
				zap.Error(err))
			result.Failures = append(result.Failures, MemberFailure{MemberID: m.ID, Reason: outcome.Reason, Err: err})
		case created:
			result.SanctionsCreated++
			result.SanctionIDs = append(result.SanctionIDs, id)
		default:
			result.Skipped++
		}
	}

	result.Success = true
	result.Message = fmt.Sprintf("%d sanctions created", result.SanctionsCreated)
	if len(result.Failures) > 0 {
		result.Message += fmt.Sprintf(", %d members failed", len(result.Failures))
	}

	logger.Info("Evaluation completed",
		zap.Int("members", len(members)),
		zap.Int("created", result.SanctionsCreated),
		zap.Int("skipped", result.Skipped),
		zap.Int("compliant", result.Compliant),
		zap.Int("failed", len(result.Failures)))

	return result, nil
}

// createIfAbsent inserts s unless its Key is already present. created is
// false (with a nil error) when the outcome was already recorded.
func (e *Engine) createIfAbsent(ctx context.Context, s Sanction) (SanctionID, bool, error) {
	var created bool
	err := e.retry(ctx, func() error {
		exists, err := e.store.Exists(ctx, s.Key())
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		s.ID = SanctionID(uuid.NewString())
		s.CreatedAt = e.clock.Now()
		err = e.store.Insert(ctx, s)
		if errors.Is(err, ErrDuplicateSanction) {
			return nil
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return "", false, &PersistenceError{Op: "insert sanction", EventID: s.EventID, MemberID: s.MemberID, Err: err}
	}
	return s.ID, created, nil
}

// retry re-runs op on transient store errors with exponential backoff.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryDelay
	b.MaxInterval = 20 * e.retryDelay

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, e.retries), ctx))
}

// EvaluateForDate evaluates every event scheduled on date's calendar day.
// Events are independent: one failure is reported in its own result.
// Results are ordered by event ID.
func (e *Engine) EvaluateForDate(ctx context.Context, date time.Time, trigger Trigger) ([]EvaluationResult, error) {
	events, err := e.store.ListEventsOnDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list events on %s: %w", date.Format(time.DateOnly), err)
	}

	p := pool.NewWithResults[EvaluationResult]().WithMaxGoroutines(e.parallelism)
	for _, ev := range events {
		p.Go(func() EvaluationResult {
			res, err := e.Evaluate(ctx, ev.ID, trigger)
			if err != nil {
				res.Success = false
				res.Err = err
			}
			return res
		})
	}
	results := p.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].EventID < results[j].EventID })

	e.logger.Info("Date evaluation completed",
		zap.String("date", date.Format(time.DateOnly)),
		zap.Int("events", len(events)))

	return results, nil
}

// Reverse deletes every sanction of eventID, paid or unpaid.
func (e *Engine) Reverse(ctx context.Context, eventID EventID) (ReversalResult, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(eventID))
	if err != nil {
		return ReversalResult{EventID: eventID, Message: err.Error()}, err
	}
	defer unlock()

	return e.reverseLocked(ctx, eventID)
}

func (e *Engine) reverseLocked(ctx context.Context, eventID EventID) (ReversalResult, error) {
	result := ReversalResult{EventID: eventID}

	if _, err := e.store.GetEvent(ctx, eventID); err != nil {
		if !errors.Is(err, ErrEventNotFound) {
			err = &PersistenceError{Op: "load event", EventID: eventID, Err: err}
		}
		result.Message = err.Error()
		return result, err
	}

	n, err := e.store.DeleteAllForEvent(ctx, eventID)
	if err != nil {
		err = &PersistenceError{Op: "delete sanctions", EventID: eventID, Err: err}
		e.logger.Error("Reversal failed", zap.String("event_id", string(eventID)), zap.Error(err))
		result.Message = err.Error()
		return result, err
	}

	e.logger.Info("Reversal completed",
		zap.String("event_id", string(eventID)),
		zap.Int("deleted", n))

	result.Success = true
	result.DeletedCount = n
	result.Message = fmt.Sprintf("%d sanctions deleted", n)
	return result, nil
}

// TotalUnpaid sums the member's unpaid sanctions.
func (e *Engine) TotalUnpaid(ctx context.Context, memberID MemberID) (Amount, error) {
	return e.store.SumUnpaidForMember(ctx, memberID)
}

// MarkPaid moves a sanction to paid, stamping the payment time.
// Paying an already-paid sanction overwrites the timestamp.
func (e *Engine) MarkPaid(ctx context.Context, id SanctionID) (Sanction, error) {
	if err := e.store.SetPaid(ctx, id, e.clock.Now()); err != nil {
		return Sanction{}, err
	}
	return e.store.GetSanction(ctx, id)
}

func (e *Engine) SanctionsForEvent(ctx context.Context, id EventID) ([]Sanction, error) {
	return e.store.ListByEvent(ctx, id)
}

func (e *Engine) SanctionsForMember(ctx context.Context, id MemberID) ([]Sanction, error) {
	return e.store.ListByMember(ctx, id)
}

// =============================================================================
// RUN LOG
// =============================================================================

func (e *Engine) startRun(ctx context.Context, eventID EventID, trigger Trigger) *EvaluationRun {
	if e.runs == nil {
		return nil
	}
	// The audit row is written even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	run := &EvaluationRun{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: e.clock.Now(),
	}
	if err := e.runs.SaveRun(ctx, *run); err != nil {
		e.logger.Warn("Failed to save evaluation run", zap.String("event_id", string(eventID)), zap.Error(err))
	}
	return run
}

func (e *Engine) finishRun(ctx context.Context, run *EvaluationRun, result EvaluationResult, err error) {
	if run == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	completed := e.clock.Now()
	run.CompletedAt = &completed
	run.Created = result.SanctionsCreated
	run.Failed = len(result.Failures)
	run.Message = result.Message

	switch {
	case err != nil:
		run.Status = RunFailed
	case result.Message == MsgNotStarted:
		run.Status = RunSkipped
	default:
		run.Status = RunCompleted
	}

	if err := e.runs.SaveRun(ctx, *run); err != nil {
		e.logger.Warn("Failed to update evaluation run", zap.String("event_id", string(run.EventID)), zap.Error(err))
	}
}

// Runs returns the audit trail for eventID (all events when empty).
func (e *Engine) Runs(ctx context.Context, eventID EventID) ([]EvaluationRun, error) {
	if e.runs == nil {
		return nil, nil
	}
	return e.runs.ListRuns(ctx, eventID)
}
