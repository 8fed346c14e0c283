/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements sanction.Store (event, member and attendance registries plus
  the sanction ledger) and sanction.RunLog using SQLite.

KEY TABLES:
  events:          Event identity, date, time-in/time-out windows, status
  members:         Membership roster
  attendance:      One row per (event_id, member_id)
  sanctions:       Penalty ledger
  evaluation_runs: Audit trail of engine invocations

INDEXES:
  - idx_sanctions_dedup (UNIQUE member_id, event_id, reason): storage-level
    safety net for the engine's dedup key. Insert uses ON CONFLICT DO NOTHING
    and reports sanction.ErrDuplicateSanction when nothing was written.
  - idx_sanctions_event: Reverse (delete all for event)
  - idx_sanctions_member_status: Unpaid totals
  - idx_events_date: Date-driven evaluation

REFERENTIAL INTEGRITY:
  sanctions.event_id references events(id) without cascade, so an event
  with sanctions cannot be deleted (sanction.ErrEventInUse). DeleteEvent
  removes the event's attendance records in the same transaction.

TIME STORAGE:
  Event dates are stored as YYYY-MM-DD and interpreted in the store's
  location (UTC unless WithLocation is given). Window offsets are stored
  in seconds. Timestamps are RFC3339Nano.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within a process. SQLITE_BUSY and
  SQLITE_LOCKED surface as sanction.ErrStoreBusy so callers can retry.

USAGE:
  store, err := sqlite.New("./data/sanctions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := sanction.NewEngine(store, sanction.WithRunLog(store))

SEE ALSO:
  - sanction/store.go: Interfaces implemented here
  - sanction/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/sanction-engine/sanction"
)

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	loc    *time.Location
	logger *zap.Logger
}

var (
	_ sanction.Store  = (*Store)(nil)
	_ sanction.RunLog = (*Store)(nil)
)

// ErrBadTimestamp marks a stored timestamp that is not RFC 3339. Rows are
// never read as if the timestamp were missing.
var ErrBadTimestamp = errors.New("unparsable stored timestamp")

type Option func(*Store)

// WithLocation sets the timezone event dates are interpreted in.
func WithLocation(loc *time.Location) Option { return func(s *Store) { s.loc = loc } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l.Named("sqlite") } }

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, loc: time.UTC, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		event_date TEXT NOT NULL,
		time_in_start_sec INTEGER NOT NULL,
		time_in_grace_sec INTEGER NOT NULL DEFAULT 1800,
		time_out_start_sec INTEGER NOT NULL,
		time_out_grace_sec INTEGER NOT NULL DEFAULT 1800,
		status TEXT NOT NULL DEFAULT 'open'
			CHECK (status IN ('open', 'closed', 'force_closed')),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_date
		ON events(event_date);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'Active',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_status
		ON members(status);

	-- At most one attendance record per (event, member)
	CREATE TABLE IF NOT EXISTS attendance (
		event_id TEXT NOT NULL REFERENCES events(id),
		member_id TEXT NOT NULL REFERENCES members(id),
		time_in TEXT,
		time_out TEXT,
		status TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (event_id, member_id)
	);

	CREATE TABLE IF NOT EXISTS sanctions (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id),
		event_id TEXT NOT NULL REFERENCES events(id),
		amount TEXT NOT NULL,
		reason TEXT NOT NULL
			CHECK (reason IN ('Absent', 'No time in', 'No time out')),
		status TEXT NOT NULL DEFAULT 'unpaid'
			CHECK (status IN ('unpaid', 'paid')),
		paid_at TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one sanction per (member, event, reason)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sanctions_dedup
		ON sanctions(member_id, event_id, reason);

	CREATE INDEX IF NOT EXISTS idx_sanctions_event
		ON sanctions(event_id);

	CREATE INDEX IF NOT EXISTS idx_sanctions_member_status
		ON sanctions(member_id, status);

	CREATE TABLE IF NOT EXISTS evaluation_runs (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		created INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_evaluation_runs_event
		ON evaluation_runs(event_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT REGISTRY
// =============================================================================

const eventColumns = `id, name, event_date, time_in_start_sec, time_in_grace_sec,
	time_out_start_sec, time_out_grace_sec, status`

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, id sanction.EventID) (sanction.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := s.scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sanction.Event{}, sanction.ErrEventNotFound
	}
	if err != nil {
		return sanction.Event{}, mapError(fmt.Errorf("failed to get event: %w", err))
	}
	return ev, nil
}

// ListEventsOnDate returns events scheduled on date's calendar day.
func (s *Store) ListEventsOnDate(ctx context.Context, date time.Time) ([]sanction.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE event_date = ? ORDER BY id`,
		date.In(s.loc).Format(dateLayout))
}

// ListEvents returns all events, most recent first.
func (s *Store) ListEvents(ctx context.Context) ([]sanction.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY event_date DESC, id`)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]sanction.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query events: %w", err))
	}
	defer rows.Close()

	var events []sanction.Event
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEvent(row scanner) (sanction.Event, error) {
	var (
		ev                                   sanction.Event
		date, status                         string
		inStart, inGrace, outStart, outGrace int64
	)
	if err := row.Scan(&ev.ID, &ev.Name, &date, &inStart, &inGrace, &outStart, &outGrace, &status); err != nil {
		return sanction.Event{}, err
	}

	d, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		return sanction.Event{}, fmt.Errorf("event %s: invalid date %q: %w", ev.ID, date, err)
	}
	st, err := sanction.ParseEventStatus(status)
	if err != nil {
		return sanction.Event{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	ev.Date = d
	ev.Status = st
	ev.TimeIn = sanction.Window{Start: seconds(inStart), Grace: seconds(inGrace)}
	ev.TimeOut = sanction.Window{Start: seconds(outStart), Grace: seconds(outGrace)}
	return ev, nil
}

// SaveEvent inserts or updates an event.
func (s *Store) SaveEvent(ctx context.Context, ev sanction.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO events (id, name, event_date, time_in_start_sec, time_in_grace_sec,
			time_out_start_sec, time_out_grace_sec, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			event_date = excluded.event_date,
			time_in_start_sec = excluded.time_in_start_sec,
			time_in_grace_sec = excluded.time_in_grace_sec,
			time_out_start_sec = excluded.time_out_start_sec,
			time_out_grace_sec = excluded.time_out_grace_sec,
			status = excluded.status
	`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Name, ev.Date.In(s.loc).Format(dateLayout),
		int64(ev.TimeIn.Start.Seconds()), int64(ev.TimeIn.Grace.Seconds()),
		int64(ev.TimeOut.Start.Seconds()), int64(ev.TimeOut.Grace.Seconds()),
		ev.Status, formatTime(time.Now()),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save event: %w", err))
	}
	return nil
}

// SetEventStatus updates an event's lifecycle status.
func (s *Store) SetEventStatus(ctx context.Context, id sanction.EventID, status sanction.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to set event status: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sanction.ErrEventNotFound
	}
	return nil
}

// DeleteEvent deletes an event that no sanction references, together with
// its attendance records.
func (s *Store) DeleteEvent(ctx context.Context, id sanction.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var sanctions int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sanctions WHERE event_id = ?`, id,
	).Scan(&sanctions); err != nil {
		return mapError(fmt.Errorf("failed to count sanctions: %w", err))
	}
	if sanctions > 0 {
		return sanction.ErrEventInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE event_id = ?`, id); err != nil {
		return mapError(fmt.Errorf("failed to delete attendance: %w", err))
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return sanction.ErrEventInUse
		}
		return mapError(fmt.Errorf("failed to delete event: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sanction.ErrEventNotFound
	}
	return mapError(tx.Commit())
}

// =============================================================================
// MEMBER REGISTRY
// =============================================================================

func (s *Store) ListActiveMembers(ctx context.Context) ([]sanction.Member, error) {
	return s.queryMembers(ctx, `SELECT id, name, status FROM members WHERE status = ? ORDER BY id`, sanction.MemberActive)
}

func (s *Store) ListMembers(ctx context.Context) ([]sanction.Member, error) {
	return s.queryMembers(ctx, `SELECT id, name, status FROM members ORDER BY id`)
}

func (s *Store) GetMember(ctx context.Context, id sanction.MemberID) (sanction.Member, error) {
	members, err := s.queryMembers(ctx, `SELECT id, name, status FROM members WHERE id = ?`, id)
	if err != nil {
		return sanction.Member{}, err
	}
	if len(members) == 0 {
		return sanction.Member{}, sanction.ErrMemberNotFound
	}
	return members[0], nil
}

func (s *Store) queryMembers(ctx context.Context, query string, args ...any) ([]sanction.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query members: %w", err))
	}
	defer rows.Close()

	var members []sanction.Member
	for rows.Next() {
		var m sanction.Member
		var status string
		if err := rows.Scan(&m.ID, &m.Name, &status); err != nil {
			return nil, err
		}
		if m.Status, err = sanction.ParseMemberStatus(status); err != nil {
			return nil, fmt.Errorf("member %s: %w", m.ID, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) SaveMember(ctx context.Context, m sanction.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO members (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status
	`
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.Name, m.Status, formatTime(time.Now())); err != nil {
		return mapError(fmt.Errorf("failed to save member: %w", err))
	}
	return nil
}

// =============================================================================
// ATTENDANCE STORE
// =============================================================================

// GetRecord returns (nil, nil) when the member has no record for the event.
func (s *Store) GetRecord(ctx context.Context, eventID sanction.EventID, memberID sanction.MemberID) (*sanction.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var timeIn, timeOut sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT time_in, time_out, status FROM attendance WHERE event_id = ? AND member_id = ?`,
		eventID, memberID,
	).Scan(&timeIn, &timeOut, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to get attendance: %w", err))
	}

	rec := &sanction.AttendanceRecord{
		EventID:  eventID,
		MemberID: memberID,
		Status:   sanction.AttendanceStatus(status),
	}
	if rec.TimeIn, err = parseNullTime(timeIn); err != nil {
		return nil, fmt.Errorf("attendance %s/%s time_in: %w", eventID, memberID, err)
	}
	if rec.TimeOut, err = parseNullTime(timeOut); err != nil {
		return nil, fmt.Errorf("attendance %s/%s time_out: %w", eventID, memberID, err)
	}
	return rec, nil
}

// SaveRecord upserts the (event, member) attendance record.
func (s *Store) SaveRecord(ctx context.Context, rec sanction.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO attendance (event_id, member_id, time_in, time_out, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, member_id) DO UPDATE SET
			time_in = excluded.time_in,
			time_out = excluded.time_out,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.EventID, rec.MemberID, nullTime(rec.TimeIn), nullTime(rec.TimeOut),
		rec.Status, formatTime(time.Now()),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return fmt.Errorf("attendance for unknown event or member: %w", sanction.ErrEventNotFound)
		}
		return mapError(fmt.Errorf("failed to save attendance: %w", err))
	}
	return nil
}

// =============================================================================
// SANCTION LEDGER
// =============================================================================

const sanctionColumns = `id, member_id, event_id, amount, reason, status, paid_at, created_at`

func (s *Store) Exists(ctx context.Context, key sanction.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sanctions WHERE member_id = ? AND event_id = ? AND reason = ?`,
		key.MemberID, key.EventID, key.Reason,
	).Scan(&count)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to check sanction: %w", err))
	}
	return count > 0, nil
}

// Insert writes a sanction unless its dedup key already exists.
func (s *Store) Insert(ctx context.Context, sn sanction.Sanction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO sanctions (` + sanctionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(member_id, event_id, reason) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		sn.ID, sn.MemberID, sn.EventID, sn.Amount.String(), sn.Reason, sn.Status,
		nullTime(sn.PaidAt), formatTime(sn.CreatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return fmt.Errorf("sanction for unknown event or member: %w", sanction.ErrEventNotFound)
		}
		return mapError(fmt.Errorf("failed to insert sanction: %w", err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert sanction: %w", err)
	}
	if n == 0 {
		return sanction.ErrDuplicateSanction
	}
	return nil
}

func (s *Store) DeleteAllForEvent(ctx context.Context, eventID sanction.EventID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sanctions WHERE event_id = ?`, eventID)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to delete sanctions: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete sanctions: %w", err)
	}

	s.logger.Info("Deleted sanctions for event",
		zap.String("event_id", string(eventID)),
		zap.Int64("count", n))
	return int(n), nil
}

// SumUnpaidForMember adds amounts in decimal; SQLite SUM would go through float.
func (s *Store) SumUnpaidForMember(ctx context.Context, memberID sanction.MemberID) (sanction.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT amount FROM sanctions WHERE member_id = ? AND status = ?`,
		memberID, sanction.Unpaid,
	)
	if err != nil {
		return sanction.Amount{}, mapError(fmt.Errorf("failed to sum unpaid: %w", err))
	}
	defer rows.Close()

	total := sanction.ZeroAmount()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return sanction.Amount{}, err
		}
		a, err := sanction.NewAmount(raw)
		if err != nil {
			return sanction.Amount{}, err
		}
		total = total.Add(a)
	}
	return total, rows.Err()
}

func (s *Store) SetPaid(ctx context.Context, id sanction.SanctionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sanctions SET status = ?, paid_at = ? WHERE id = ?`,
		sanction.Paid, formatTime(at), id,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to mark sanction paid: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sanction.ErrSanctionNotFound
	}
	return nil
}

func (s *Store) GetSanction(ctx context.Context, id sanction.SanctionID) (sanction.Sanction, error) {
	list, err := s.querySanctions(ctx, `SELECT `+sanctionColumns+` FROM sanctions WHERE id = ?`, id)
	if err != nil {
		return sanction.Sanction{}, err
	}
	if len(list) == 0 {
		return sanction.Sanction{}, sanction.ErrSanctionNotFound
	}
	return list[0], nil
}

func (s *Store) ListByEvent(ctx context.Context, eventID sanction.EventID) ([]sanction.Sanction, error) {
	return s.querySanctions(ctx,
		`SELECT `+sanctionColumns+` FROM sanctions WHERE event_id = ? ORDER BY member_id, reason`, eventID)
}

func (s *Store) ListByMember(ctx context.Context, memberID sanction.MemberID) ([]sanction.Sanction, error) {
	return s.querySanctions(ctx,
		`SELECT `+sanctionColumns+` FROM sanctions WHERE member_id = ? ORDER BY created_at, reason`, memberID)
}

func (s *Store) querySanctions(ctx context.Context, query string, args ...any) ([]sanction.Sanction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query sanctions: %w", err))
	}
	defer rows.Close()

	var result []sanction.Sanction
	for rows.Next() {
		sn, err := scanSanction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sn)
	}
	return result, rows.Err()
}

func scanSanction(rows *sql.Rows) (sanction.Sanction, error) {
	var (
		sn                     sanction.Sanction
		amount, reason, status string
		paidAt                 sql.NullString
		createdAt              string
	)
	if err := rows.Scan(&sn.ID, &sn.MemberID, &sn.EventID, &amount, &reason, &status, &paidAt, &createdAt); err != nil {
		return sanction.Sanction{}, err
	}

	var err error
	if sn.Amount, err = sanction.NewAmount(amount); err != nil {
		return sanction.Sanction{}, err
	}
	if sn.Reason, err = sanction.ParseReason(reason); err != nil {
		return sanction.Sanction{}, err
	}
	if sn.Status, err = sanction.ParsePaymentStatus(status); err != nil {
		return sanction.Sanction{}, err
	}
	if sn.PaidAt, err = parseNullTime(paidAt); err != nil {
		return sanction.Sanction{}, fmt.Errorf("sanction %s paid_at: %w", sn.ID, err)
	}
	if sn.CreatedAt, err = parseTime(createdAt); err != nil {
		return sanction.Sanction{}, fmt.Errorf("sanction %s created_at: %w", sn.ID, err)
	}
	return sn, nil
}

// =============================================================================
// EVALUATION RUNS
// =============================================================================

// SaveRun inserts or updates an evaluation run.
func (s *Store) SaveRun(ctx context.Context, r sanction.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO evaluation_runs (id, event_id, trigger, status, created, failed,
			message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created = excluded.created,
			failed = excluded.failed,
			message = excluded.message,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.EventID, r.Trigger, r.Status, r.Created, r.Failed, r.Message,
		formatTime(r.StartedAt), nullTime(r.CompletedAt),
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save evaluation run: %w", err))
	}
	return nil
}

// ListRuns returns runs for eventID (all runs when empty), oldest first.
func (s *Store) ListRuns(ctx context.Context, eventID sanction.EventID) ([]sanction.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, event_id, trigger, status, created, failed, message, started_at, completed_at
		FROM evaluation_runs
	`
	var args []any
	if eventID != "" {
		query += ` WHERE event_id = ?`
		args = append(args, eventID)
	}
	query += ` ORDER BY started_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query evaluation runs: %w", err))
	}
	defer rows.Close()

	var runs []sanction.EvaluationRun
	for rows.Next() {
		var r sanction.EvaluationRun
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.EventID, &r.Trigger, &r.Status, &r.Created, &r.Failed,
			&r.Message, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		var err error
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.ID, err)
		}
		if r.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, fmt.Errorf("run %s completed_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM evaluation_runs;
		DELETE FROM sanctions;
		DELETE FROM attendance;
		DELETE FROM members;
		DELETE FROM events;
	`)
	return err
}

// Helper functions

func seconds(n int64) time.Duration { return time.Duration(n) * time.Second }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime reads a timestamp written by formatTime.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrBadTimestamp, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// mapError marks lock contention as retryable.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", sanction.ErrStoreBusy, err)
	}
	return err
}
