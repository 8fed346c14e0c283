/*
Package sanction provides the sanction-calculation engine.

PURPOSE:
  For one attendance event, decide which Active members are delinquent and
  materialize monetary penalty records (sanctions) for them. Evaluation is
  idempotent (re-running never duplicates a sanction), resumable (a partial
  run can simply be run again) and auditable (every run can be logged).

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: Fixed-point money with two fractional digits
  - Event / Member / AttendanceRecord: Read-only inputs to the engine
  - Sanction: The engine's output, one row per (member, event, reason)
  - Status enums: Closed sets of values, parsed at the edges

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Type Safety: Strong typing for IDs and statuses
  3. Dedup: (MemberID, EventID, Reason) identifies a sanction outcome

USAGE:
  fine := sanction.MustAmount("25.00")
  s := sanction.Sanction{
      MemberID: "m-1",
      EventID:  "ev-1",
      Amount:   fine,
      Reason:   sanction.ReasonAbsent,
      Status:   sanction.Unpaid,
  }

SEE ALSO:
  - rules.go: Classification of attendance into outcomes
  - engine.go: Evaluate / Reverse / MarkPaid
  - store.go: Collaborator interfaces
*/
package sanction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Fixed-point money, two fractional digits
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

// NewAmount parses a decimal string such as "12.50".
func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d.Round(2)}, nil
}

// MustAmount is NewAmount for package-level constants.
func MustAmount(s string) Amount {
	a, err := NewAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }

// String always renders two fractional digits: "25.00".
func (a Amount) String() string { return a.Value.StringFixed(2) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare numbers as well as strings.
		s = string(data)
	}
	parsed, err := NewAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EventID string
type MemberID string
type SanctionID string

// =============================================================================
// EVENT
// =============================================================================

type EventStatus string

const (
	EventOpen        EventStatus = "open"
	EventClosed      EventStatus = "closed"
	EventForceClosed EventStatus = "force_closed"
)

func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(s); st {
	case EventOpen, EventClosed, EventForceClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: event status %q", ErrInvalidStatus, s)
}

// DefaultGrace is applied to windows created without an explicit grace period.
const DefaultGrace = 30 * time.Minute

// Window is a check-in (or check-out) window: it opens Start after the
// event date's midnight and is missed once Grace has also elapsed.
type Window struct {
	Start time.Duration
	Grace time.Duration
}

// NewWindow builds a window; a nil grace falls back to DefaultGrace.
func NewWindow(start time.Duration, grace *time.Duration) Window {
	w := Window{Start: start, Grace: DefaultGrace}
	if grace != nil {
		w.Grace = *grace
	}
	return w
}

func (w Window) Opens(date time.Time) time.Time    { return date.Add(w.Start) }
func (w Window) Deadline(date time.Time) time.Time { return date.Add(w.Start + w.Grace) }

type Event struct {
	ID      EventID
	Name    string
	Date    time.Time // midnight of the scheduled day
	TimeIn  Window
	TimeOut Window
	Status  EventStatus
}

func (e Event) TimeInOpens() time.Time     { return e.TimeIn.Opens(e.Date) }
func (e Event) TimeInDeadline() time.Time  { return e.TimeIn.Deadline(e.Date) }
func (e Event) TimeOutDeadline() time.Time { return e.TimeOut.Deadline(e.Date) }

// Started reports whether evaluation may proceed at now. Force-closed events
// always may; otherwise the time-in window must have opened.
func (e Event) Started(now time.Time) bool {
	if e.Status == EventForceClosed {
		return true
	}
	return !now.Before(e.TimeInOpens())
}

// =============================================================================
// MEMBER
// =============================================================================

type MemberStatus string

const (
	MemberActive   MemberStatus = "Active"
	MemberInactive MemberStatus = "Inactive"
	MemberAlumni   MemberStatus = "Alumni"
)

func ParseMemberStatus(s string) (MemberStatus, error) {
	switch st := MemberStatus(s); st {
	case MemberActive, MemberInactive, MemberAlumni:
		return st, nil
	}
	return "", fmt.Errorf("%w: member status %q", ErrInvalidStatus, s)
}

type Member struct {
	ID     MemberID
	Name   string
	Status MemberStatus
}

// =============================================================================
// ATTENDANCE RECORD
// =============================================================================

type AttendanceStatus string

const (
	AttendancePresent    AttendanceStatus = "present"
	AttendanceLate       AttendanceStatus = "late"
	AttendanceIncomplete AttendanceStatus = "incomplete"
	AttendanceAbsent     AttendanceStatus = "absent"
)

func ParseAttendanceStatus(s string) (AttendanceStatus, error) {
	switch st := AttendanceStatus(s); st {
	case AttendancePresent, AttendanceLate, AttendanceIncomplete, AttendanceAbsent:
		return st, nil
	}
	return "", fmt.Errorf("%w: attendance status %q", ErrInvalidStatus, s)
}

// AttendanceRecord is unique per (EventID, MemberID). The engine never writes it.
type AttendanceRecord struct {
	EventID  EventID
	MemberID MemberID
	TimeIn   *time.Time
	TimeOut  *time.Time
	Status   AttendanceStatus
}

// =============================================================================
// SANCTION
// =============================================================================

type Reason string

const (
	ReasonAbsent    Reason = "Absent"
	ReasonNoTimeIn  Reason = "No time in"
	ReasonNoTimeOut Reason = "No time out"
)

func ParseReason(s string) (Reason, error) {
	switch r := Reason(s); r {
	case ReasonAbsent, ReasonNoTimeIn, ReasonNoTimeOut:
		return r, nil
	}
	return "", fmt.Errorf("%w: reason %q", ErrInvalidStatus, s)
}

type PaymentStatus string

const (
	Unpaid PaymentStatus = "unpaid"
	Paid   PaymentStatus = "paid"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case Unpaid, Paid:
		return st, nil
	}
	return "", fmt.Errorf("%w: payment status %q", ErrInvalidStatus, s)
}

type Sanction struct {
	ID        SanctionID
	MemberID  MemberID
	EventID   EventID
	Amount    Amount
	Reason    Reason
	Status    PaymentStatus
	PaidAt    *time.Time // set only when Status == Paid
	CreatedAt time.Time
}

// Key is the dedup key: at most one sanction exists per Key.
type Key struct {
	MemberID MemberID
	EventID  EventID
	Reason   Reason
}

func (s Sanction) Key() Key {
	return Key{MemberID: s.MemberID, EventID: s.EventID, Reason: s.Reason}
}

// =============================================================================
// EVALUATION RUNS - Audit trail of engine invocations
// =============================================================================

type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerScheduler  Trigger = "scheduler"
	TriggerClose      Trigger = "close"
	TriggerForceClose Trigger = "force_close"
	TriggerCLI        Trigger = "cli"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
)

type EvaluationRun struct {
	ID          string
	EventID     EventID
	Trigger     Trigger
	Status      RunStatus
	Created     int
	Failed      int
	Message     string
	StartedAt   time.Time
	CompletedAt *time.Time
}
