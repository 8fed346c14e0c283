package sanction

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/sanction-engine/lock"
)

// =============================================================================
// EVENT LIFECYCLE - Operator actions that drive evaluation
// =============================================================================
//
// Each action holds the event lock across the status change and the pass
// that follows, so a reopen never interleaves with a close in flight.

// CloseEvent marks the event closed and evaluates it. The gate still
// applies: a closed event whose time-in window has not opened creates nothing.
func (e *Engine) CloseEvent(ctx context.Context, id EventID) (EvaluationResult, error) {
	unlock, err := e.transition(ctx, id, EventClosed)
	if err != nil {
		return EvaluationResult{EventID: id, Message: err.Error()}, err
	}
	defer unlock()
	return e.evaluateHeld(ctx, id, TriggerClose)
}

// ForceCloseEvent closes the event regardless of its windows and evaluates it.
func (e *Engine) ForceCloseEvent(ctx context.Context, id EventID) (EvaluationResult, error) {
	unlock, err := e.transition(ctx, id, EventForceClosed)
	if err != nil {
		return EvaluationResult{EventID: id, Message: err.Error()}, err
	}
	defer unlock()
	return e.evaluateHeld(ctx, id, TriggerForceClose)
}

// ReopenEvent reopens the event and removes the sanctions computed while it
// was closed. Evaluate is expected to be run again afterwards.
func (e *Engine) ReopenEvent(ctx context.Context, id EventID) (ReversalResult, error) {
	unlock, err := e.transition(ctx, id, EventOpen)
	if err != nil {
		return ReversalResult{EventID: id, Message: err.Error()}, err
	}
	defer unlock()
	return e.reverseLocked(ctx, id)
}

// transition takes the event lock and sets the status. On success the
// caller owns the returned unlock.
func (e *Engine) transition(ctx context.Context, id EventID, status EventStatus) (lock.Unlock, error) {
	unlock, err := e.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return nil, err
	}
	if err := e.store.SetEventStatus(ctx, id, status); err != nil {
		unlock()
		return nil, err
	}
	e.logger.Info("Event status changed",
		zap.String("event_id", string(id)),
		zap.String("status", string(status)))
	return unlock, nil
}
