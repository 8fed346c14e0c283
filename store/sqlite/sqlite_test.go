package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/sanction-engine/sanction"
	"github.com/warp/sanction-engine/store/sqlite"
)

var eventDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	return setupStoreAt(t, ":memory:")
}

func setupStoreAt(t *testing.T, dbPath string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.SaveEvent(ctx, sanction.Event{
		ID:      "ev-1",
		Name:    "General Assembly",
		Date:    eventDay,
		TimeIn:  sanction.NewWindow(9*time.Hour, nil),
		TimeOut: sanction.NewWindow(11*time.Hour, nil),
		Status:  sanction.EventOpen,
	}))
	for _, m := range []sanction.Member{
		{ID: "m1", Name: "Ana", Status: sanction.MemberActive},
		{ID: "m2", Name: "Ben", Status: sanction.MemberActive},
		{ID: "m3", Name: "Cy", Status: sanction.MemberAlumni},
	} {
		require.NoError(t, s.SaveMember(ctx, m))
	}
	return s
}

func newSanction(id, member string, reason sanction.Reason, amount string) sanction.Sanction {
	return sanction.Sanction{
		ID:        sanction.SanctionID(id),
		MemberID:  sanction.MemberID(member),
		EventID:   "ev-1",
		Amount:    sanction.MustAmount(amount),
		Reason:    reason,
		Status:    sanction.Unpaid,
		CreatedAt: eventDay.Add(12 * time.Hour),
	}
}

func TestEvents_RoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	ev, err := s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "General Assembly", ev.Name)
	assert.True(t, ev.Date.Equal(eventDay))
	assert.Equal(t, eventDay.Add(9*time.Hour+30*time.Minute), ev.TimeInDeadline())
	assert.Equal(t, sanction.EventOpen, ev.Status)

	require.NoError(t, s.SetEventStatus(ctx, "ev-1", sanction.EventForceClosed))
	ev, err = s.GetEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, sanction.EventForceClosed, ev.Status)

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, sanction.ErrEventNotFound)
	assert.ErrorIs(t, s.SetEventStatus(ctx, "missing", sanction.EventClosed), sanction.ErrEventNotFound)
}

func TestListEventsOnDate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEvent(ctx, sanction.Event{
		ID: "ev-2", Date: eventDay.AddDate(0, 0, 1),
		TimeIn: sanction.NewWindow(9*time.Hour, nil), TimeOut: sanction.NewWindow(10*time.Hour, nil),
		Status: sanction.EventOpen,
	}))

	events, err := s.ListEventsOnDate(ctx, eventDay.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, sanction.EventID("ev-1"), events[0].ID)

	all, err := s.ListEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMembers_ActiveOnly(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	active, err := s.ListActiveMembers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, sanction.MemberID("m1"), active[0].ID)

	_, err = s.GetMember(ctx, "nobody")
	assert.ErrorIs(t, err, sanction.ErrMemberNotFound)
}

func TestAttendance_Upsert(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	rec, err := s.GetRecord(ctx, "ev-1", "m1")
	require.NoError(t, err)
	assert.Nil(t, rec, "absent record is not an error")

	in := eventDay.Add(9*time.Hour + 5*time.Minute)
	require.NoError(t, s.SaveRecord(ctx, sanction.AttendanceRecord{
		EventID: "ev-1", MemberID: "m1", TimeIn: &in, Status: sanction.AttendanceIncomplete,
	}))

	out := eventDay.Add(11 * time.Hour)
	require.NoError(t, s.SaveRecord(ctx, sanction.AttendanceRecord{
		EventID: "ev-1", MemberID: "m1", TimeIn: &in, TimeOut: &out, Status: sanction.AttendancePresent,
	}))

	rec, err = s.GetRecord(ctx, "ev-1", "m1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.TimeIn)
	require.NotNil(t, rec.TimeOut)
	assert.True(t, rec.TimeOut.Equal(out))
	assert.Equal(t, sanction.AttendancePresent, rec.Status)
}

func TestInsert_DedupKeyEnforcedByStorage(t *testing.T) {
	// GIVEN: A sanction for (m1, ev-1, Absent)
	// WHEN: A second row with the same key but a new ID is inserted
	// THEN: Nothing is written and ErrDuplicateSanction is reported

	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSanction("s1", "m1", sanction.ReasonAbsent, "25.00")))
	err := s.Insert(ctx, newSanction("s2", "m1", sanction.ReasonAbsent, "25.00"))
	assert.ErrorIs(t, err, sanction.ErrDuplicateSanction)

	exists, err := s.Exists(ctx, sanction.Key{MemberID: "m1", EventID: "ev-1", Reason: sanction.ReasonAbsent})
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := s.ListByEvent(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sanction.SanctionID("s1"), list[0].ID)

	// Different reason for the same member and event is a distinct key.
	require.NoError(t, s.Insert(ctx, newSanction("s3", "m1", sanction.ReasonNoTimeOut, "12.50")))
}

func TestInsert_UnknownEvent(t *testing.T) {
	s := setupStore(t)
	sn := newSanction("s1", "m1", sanction.ReasonAbsent, "25.00")
	sn.EventID = "ghost"

	err := s.Insert(context.Background(), sn)
	assert.ErrorIs(t, err, sanction.ErrEventNotFound)
}

func TestLedger_PayAndSum(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSanction("s1", "m1", sanction.ReasonAbsent, "25.00")))
	require.NoError(t, s.Insert(ctx, newSanction("s2", "m1", sanction.ReasonNoTimeOut, "12.50")))

	total, err := s.SumUnpaidForMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "37.50", total.String())

	paidAt := eventDay.Add(20 * time.Hour)
	require.NoError(t, s.SetPaid(ctx, "s1", paidAt))

	total, err = s.SumUnpaidForMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "12.50", total.String())

	sn, err := s.GetSanction(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sanction.Paid, sn.Status)
	require.NotNil(t, sn.PaidAt)
	assert.True(t, sn.PaidAt.Equal(paidAt))

	assert.ErrorIs(t, s.SetPaid(ctx, "nope", paidAt), sanction.ErrSanctionNotFound)

	zero, err := s.SumUnpaidForMember(ctx, "m2")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestDeleteAllForEvent_AndEventInUse(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newSanction("s1", "m1", sanction.ReasonAbsent, "25.00")))
	require.NoError(t, s.Insert(ctx, newSanction("s2", "m2", sanction.ReasonAbsent, "25.00")))
	require.NoError(t, s.SetPaid(ctx, "s2", eventDay))

	assert.ErrorIs(t, s.DeleteEvent(ctx, "ev-1"), sanction.ErrEventInUse)

	n, err := s.DeleteAllForEvent(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "paid sanctions are removed too")

	require.NoError(t, s.DeleteEvent(ctx, "ev-1"))
	assert.ErrorIs(t, s.DeleteEvent(ctx, "ev-1"), sanction.ErrEventNotFound)
}

func TestDeleteEvent_WithAttendanceOnly(t *testing.T) {
	// GIVEN: An event with attendance records but no sanctions
	// WHEN: It is deleted
	// THEN: The event and its attendance are removed

	s := setupStore(t)
	ctx := context.Background()

	in := eventDay.Add(9 * time.Hour)
	require.NoError(t, s.SaveRecord(ctx, sanction.AttendanceRecord{
		EventID: "ev-1", MemberID: "m1", TimeIn: &in, Status: sanction.AttendanceIncomplete,
	}))

	require.NoError(t, s.DeleteEvent(ctx, "ev-1"))

	_, err := s.GetEvent(ctx, "ev-1")
	assert.ErrorIs(t, err, sanction.ErrEventNotFound)
	rec, err := s.GetRecord(ctx, "ev-1", "m1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetRecord_UnparsableTimestamp(t *testing.T) {
	// GIVEN: An attendance row whose time_in is not RFC 3339
	// WHEN: The record is read and the event evaluated
	// THEN: The read fails and the member is reported as a failure, not billed

	dbPath := filepath.Join(t.TempDir(), "sanctions.db")
	s := setupStoreAt(t, dbPath)
	ctx := context.Background()

	in, out := eventDay.Add(9*time.Hour), eventDay.Add(11*time.Hour)
	require.NoError(t, s.SaveRecord(ctx, sanction.AttendanceRecord{
		EventID: "ev-1", MemberID: "m1", TimeIn: &in, TimeOut: &out, Status: sanction.AttendancePresent,
	}))

	raw, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx,
		`UPDATE attendance SET time_in = '2025-03-10 09:05:00' WHERE event_id = 'ev-1' AND member_id = 'm1'`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = s.GetRecord(ctx, "ev-1", "m1")
	assert.ErrorIs(t, err, sqlite.ErrBadTimestamp)

	engine := sanction.NewEngine(s, sanction.WithClock(sanction.FixedClock{T: eventDay.Add(12 * time.Hour)}))
	res, err := engine.Evaluate(ctx, "ev-1", sanction.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SanctionsCreated, "only m2, who has no record")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, sanction.MemberID("m1"), res.Failures[0].MemberID)

	list, err := s.ListByMember(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRuns_SaveAndList(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	run := sanction.EvaluationRun{
		ID: "r1", EventID: "ev-1", Trigger: sanction.TriggerManual,
		Status: sanction.RunRunning, StartedAt: eventDay.Add(12 * time.Hour),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	done := run.StartedAt.Add(time.Second)
	run.Status = sanction.RunCompleted
	run.Created = 2
	run.CompletedAt = &done
	require.NoError(t, s.SaveRun(ctx, run))

	require.NoError(t, s.SaveRun(ctx, sanction.EvaluationRun{
		ID: "r2", EventID: "ev-2", Trigger: sanction.TriggerScheduler,
		Status: sanction.RunSkipped, StartedAt: eventDay.Add(13 * time.Hour),
	}))

	runs, err := s.ListRuns(ctx, "ev-1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sanction.RunCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Created)
	require.NotNil(t, runs[0].CompletedAt)

	all, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEngine_OnSQLite(t *testing.T) {
	// GIVEN: m1 attended fully, m2 has no record
	// WHEN: The event is evaluated twice
	// THEN: One Absent sanction exists for m2 and the second run creates nothing

	s := setupStore(t)
	ctx := context.Background()

	in, out := eventDay.Add(9*time.Hour), eventDay.Add(11*time.Hour)
	require.NoError(t, s.SaveRecord(ctx, sanction.AttendanceRecord{
		EventID: "ev-1", MemberID: "m1", TimeIn: &in, TimeOut: &out, Status: sanction.AttendancePresent,
	}))

	engine := sanction.NewEngine(s,
		sanction.WithClock(sanction.FixedClock{T: eventDay.Add(12 * time.Hour)}),
		sanction.WithRunLog(s),
	)

	res, err := engine.Evaluate(ctx, "ev-1", sanction.TriggerManual)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SanctionsCreated)

	res, err = engine.Evaluate(ctx, "ev-1", sanction.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SanctionsCreated)

	total, err := engine.TotalUnpaid(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, "25.00", total.String())

	runs, err := s.ListRuns(ctx, "ev-1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
