/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with members,
	events and attendance relative to "today", so the evaluation lifecycle
	can be exercised from the API without manual setup.

AVAILABLE SCENARIOS:

	general-assembly: Yesterday's event; one compliant member, one with no
	                  record, one who never timed out, one inactive member
	upcoming-meeting: Tomorrow's event; evaluation is gated until force-close
	unpaid-backlog:   Three past events already evaluated, one fine paid

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create members
 3. Create events relative to the engine's clock
 4. Record attendance
 5. Optionally evaluate and mark sanctions paid

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "general-assembly"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/sanction-engine/sanction"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "general-assembly",
		Name:        "General Assembly",
		Description: "Yesterday's event with compliant, absent and incomplete members",
	},
	{
		ID:          "upcoming-meeting",
		Name:        "Upcoming Meeting",
		Description: "Tomorrow's event: evaluation is gated until it is force-closed",
	},
	{
		ID:          "unpaid-backlog",
		Name:        "Unpaid Backlog",
		Description: "Three evaluated past events with one fine already paid",
	},
}

var demoMembers = []sanction.Member{
	{ID: "m-ana", Name: "Ana Reyes", Status: sanction.MemberActive},
	{ID: "m-ben", Name: "Ben Cruz", Status: sanction.MemberActive},
	{ID: "m-cy", Name: "Cy Santos", Status: sanction.MemberActive},
	{ID: "m-dee", Name: "Dee Lim", Status: sanction.MemberInactive},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.Seed(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = errors.New("unknown scenario")

// Seed resets the store and loads the named scenario.
func (h *Handler) Seed(ctx context.Context, scenarioID string) error {
	var load func(context.Context) error
	switch scenarioID {
	case "general-assembly":
		load = h.loadGeneralAssemblyScenario
	case "upcoming-meeting":
		load = h.loadUpcomingMeetingScenario
	case "unpaid-backlog":
		load = h.loadUnpaidBacklogScenario
	default:
		return errUnknownScenario
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", scenarioID, err)
	}

	h.mu.Lock()
	h.currentScenario = scenarioID
	h.mu.Unlock()

	h.logger.Info("Scenario loaded", zap.String("scenario", scenarioID))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) today() time.Time {
	return sanction.DayOf(h.Engine.Now().In(h.Location))
}

func (h *Handler) seedMembers(ctx context.Context) error {
	for _, m := range demoMembers {
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// seedEvent creates a 09:00 to 17:00 event on date with default grace periods.
func (h *Handler) seedEvent(ctx context.Context, id sanction.EventID, name string, date time.Time) (sanction.Event, error) {
	ev := sanction.Event{
		ID:      id,
		Name:    name,
		Date:    date,
		TimeIn:  sanction.NewWindow(9*time.Hour, nil),
		TimeOut: sanction.NewWindow(17*time.Hour, nil),
		Status:  sanction.EventOpen,
	}
	return ev, h.Store.SaveEvent(ctx, ev)
}

func (h *Handler) attend(ctx context.Context, ev sanction.Event, member sanction.MemberID, in, out *time.Duration) error {
	rec := sanction.AttendanceRecord{EventID: ev.ID, MemberID: member}
	if in != nil {
		t := ev.Date.Add(*in)
		rec.TimeIn = &t
	}
	if out != nil {
		t := ev.Date.Add(*out)
		rec.TimeOut = &t
	}
	rec.Status = inferAttendanceStatus(rec)
	return h.Store.SaveRecord(ctx, rec)
}

func at(d time.Duration) *time.Duration { return &d }

func (h *Handler) loadGeneralAssemblyScenario(ctx context.Context) error {
	if err := h.seedMembers(ctx); err != nil {
		return err
	}
	ev, err := h.seedEvent(ctx, "ev-assembly", "General Assembly", h.today().AddDate(0, 0, -1))
	if err != nil {
		return err
	}

	if err := h.attend(ctx, ev, "m-ana", at(9*time.Hour+10*time.Minute), at(17*time.Hour+5*time.Minute)); err != nil {
		return err
	}
	// m-ben has no record; m-cy never timed out.
	return h.attend(ctx, ev, "m-cy", at(9*time.Hour+20*time.Minute), nil)
}

func (h *Handler) loadUpcomingMeetingScenario(ctx context.Context) error {
	if err := h.seedMembers(ctx); err != nil {
		return err
	}
	_, err := h.seedEvent(ctx, "ev-meeting", "Officers Meeting", h.today().AddDate(0, 0, 1))
	return err
}

func (h *Handler) loadUnpaidBacklogScenario(ctx context.Context) error {
	if err := h.seedMembers(ctx); err != nil {
		return err
	}

	for i, offset := range []int{-7, -5, -3} {
		id := sanction.EventID(fmt.Sprintf("ev-week-%d", i+1))
		ev, err := h.seedEvent(ctx, id, fmt.Sprintf("Weekly Session %d", i+1), h.today().AddDate(0, 0, offset))
		if err != nil {
			return err
		}
		if err := h.attend(ctx, ev, "m-ana", at(9*time.Hour), at(17*time.Hour)); err != nil {
			return err
		}
		if i%2 == 0 {
			if err := h.attend(ctx, ev, "m-cy", nil, at(17*time.Hour)); err != nil {
				return err
			}
		}
		if _, err := h.Engine.CloseEvent(ctx, id); err != nil {
			return err
		}
	}

	paid, err := h.Engine.SanctionsForEvent(ctx, "ev-week-1")
	if err != nil {
		return err
	}
	for _, s := range paid {
		if s.MemberID == "m-ben" {
			_, err := h.Engine.MarkPaid(ctx, s.ID)
			return err
		}
	}
	return nil
}
