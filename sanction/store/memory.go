// Package store provides in-memory sanction.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/sanction-engine/sanction"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	events     map[sanction.EventID]sanction.Event
	members    map[sanction.MemberID]sanction.Member
	attendance map[attendanceKey]sanction.AttendanceRecord
	sanctions  map[sanction.SanctionID]sanction.Sanction
	keys       map[sanction.Key]sanction.SanctionID
	runs       []sanction.EvaluationRun
}

type attendanceKey struct {
	EventID  sanction.EventID
	MemberID sanction.MemberID
}

func NewMemory() *Memory {
	return &Memory{
		events:     make(map[sanction.EventID]sanction.Event),
		members:    make(map[sanction.MemberID]sanction.Member),
		attendance: make(map[attendanceKey]sanction.AttendanceRecord),
		sanctions:  make(map[sanction.SanctionID]sanction.Sanction),
		keys:       make(map[sanction.Key]sanction.SanctionID),
	}
}

var (
	_ sanction.Store  = (*Memory)(nil)
	_ sanction.RunLog = (*Memory)(nil)
)

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) GetEvent(_ context.Context, id sanction.EventID) (sanction.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return sanction.Event{}, sanction.ErrEventNotFound
	}
	return e, nil
}

func (m *Memory) ListEventsOnDate(_ context.Context, date time.Time) ([]sanction.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []sanction.Event
	for _, e := range m.events {
		if sanction.SameDay(e.Date, date) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveEvent(_ context.Context, e sanction.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *Memory) SetEventStatus(_ context.Context, id sanction.EventID, status sanction.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return sanction.ErrEventNotFound
	}
	e.Status = status
	m.events[id] = e
	return nil
}

// DeleteEvent refuses to delete an event that sanctions still reference.
func (m *Memory) DeleteEvent(_ context.Context, id sanction.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return sanction.ErrEventNotFound
	}
	for k := range m.keys {
		if k.EventID == id {
			return sanction.ErrEventInUse
		}
	}
	delete(m.events, id)
	return nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (m *Memory) ListActiveMembers(_ context.Context) ([]sanction.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []sanction.Member
	for _, mem := range m.members {
		if mem.Status == sanction.MemberActive {
			result = append(result, mem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetMember(_ context.Context, id sanction.MemberID) (sanction.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[id]
	if !ok {
		return sanction.Member{}, sanction.ErrMemberNotFound
	}
	return mem, nil
}

func (m *Memory) SaveMember(_ context.Context, mem sanction.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = mem
	return nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) GetRecord(_ context.Context, eventID sanction.EventID, memberID sanction.MemberID) (*sanction.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.attendance[attendanceKey{EventID: eventID, MemberID: memberID}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) SaveRecord(_ context.Context, rec sanction.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendance[attendanceKey{EventID: rec.EventID, MemberID: rec.MemberID}] = rec
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) Exists(_ context.Context, key sanction.Key) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

// Insert checks the dedup key and writes under one lock.
func (m *Memory) Insert(_ context.Context, s sanction.Sanction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[s.EventID]; !ok {
		return sanction.ErrEventNotFound
	}
	if _, ok := m.keys[s.Key()]; ok {
		return sanction.ErrDuplicateSanction
	}
	m.sanctions[s.ID] = s
	m.keys[s.Key()] = s.ID
	return nil
}

func (m *Memory) DeleteAllForEvent(_ context.Context, eventID sanction.EventID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sanctions {
		if s.EventID == eventID {
			delete(m.sanctions, id)
			delete(m.keys, s.Key())
			n++
		}
	}
	return n, nil
}

func (m *Memory) SumUnpaidForMember(_ context.Context, memberID sanction.MemberID) (sanction.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := sanction.ZeroAmount()
	for _, s := range m.sanctions {
		if s.MemberID == memberID && s.Status == sanction.Unpaid {
			total = total.Add(s.Amount)
		}
	}
	return total, nil
}

func (m *Memory) SetPaid(_ context.Context, id sanction.SanctionID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sanctions[id]
	if !ok {
		return sanction.ErrSanctionNotFound
	}
	s.Status = sanction.Paid
	s.PaidAt = &at
	m.sanctions[id] = s
	return nil
}

func (m *Memory) GetSanction(_ context.Context, id sanction.SanctionID) (sanction.Sanction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sanctions[id]
	if !ok {
		return sanction.Sanction{}, sanction.ErrSanctionNotFound
	}
	return s, nil
}

func (m *Memory) ListByEvent(_ context.Context, eventID sanction.EventID) ([]sanction.Sanction, error) {
	return m.filter(func(s sanction.Sanction) bool { return s.EventID == eventID }), nil
}

func (m *Memory) ListByMember(_ context.Context, memberID sanction.MemberID) ([]sanction.Sanction, error) {
	return m.filter(func(s sanction.Sanction) bool { return s.MemberID == memberID }), nil
}

func (m *Memory) filter(keep func(sanction.Sanction) bool) []sanction.Sanction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []sanction.Sanction
	for _, s := range m.sanctions {
		if keep(s) {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MemberID != result[j].MemberID {
			return result[i].MemberID < result[j].MemberID
		}
		return result[i].Reason < result[j].Reason
	})
	return result
}

// Count returns the total number of sanctions held.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sanctions)
}

// =============================================================================
// RUN LOG
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run sanction.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, eventID sanction.EventID) ([]sanction.EvaluationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []sanction.EvaluationRun
	for _, r := range m.runs {
		if eventID == "" || r.EventID == eventID {
			result = append(result, r)
		}
	}
	return result, nil
}
