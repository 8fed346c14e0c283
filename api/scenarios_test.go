/*
scenarios_test.go - Tests for demo scenarios and the evaluation scheduler

PURPOSE:
	Tests that each scenario sets up the expected members, events and
	attendance, and that evaluating them yields the documented sanctions.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/sanction-engine/sanction"
)

func TestScenario_GeneralAssembly(t *testing.T) {
	// GIVEN: The general-assembly scenario
	// WHEN: Its event is evaluated
	// THEN: m-ben is Absent, m-cy has No time out, m-ana and inactive m-dee are untouched

	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Seed(ctx, "general-assembly"))

	members, err := h.Store.ListMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 4)

	res, err := h.Engine.Evaluate(ctx, "ev-assembly", sanction.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SanctionsCreated)
	assert.Equal(t, 1, res.Compliant)

	list, err := h.Engine.SanctionsForEvent(ctx, "ev-assembly")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, sanction.MemberID("m-ben"), list[0].MemberID)
	assert.Equal(t, sanction.ReasonAbsent, list[0].Reason)
	assert.Equal(t, sanction.MemberID("m-cy"), list[1].MemberID)
	assert.Equal(t, sanction.ReasonNoTimeOut, list[1].Reason)
}

func TestScenario_UpcomingMeeting(t *testing.T) {
	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Seed(ctx, "upcoming-meeting"))

	res, err := h.Engine.Evaluate(ctx, "ev-meeting", sanction.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, sanction.MsgNotStarted, res.Message)
	assert.Equal(t, 0, res.SanctionsCreated)

	res, err = h.Engine.ForceCloseEvent(ctx, "ev-meeting")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SanctionsCreated, "every active member is absent")
}

func TestScenario_UnpaidBacklog(t *testing.T) {
	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Seed(ctx, "unpaid-backlog"))

	ben, err := h.Engine.TotalUnpaid(ctx, "m-ben")
	require.NoError(t, err)
	assert.Equal(t, "50.00", ben.String(), "three absences, one paid")

	cy, err := h.Engine.TotalUnpaid(ctx, "m-cy")
	require.NoError(t, err)
	assert.Equal(t, "50.00", cy.String(), "two missing time-ins and one absence")

	ana, err := h.Engine.TotalUnpaid(ctx, "m-ana")
	require.NoError(t, err)
	assert.True(t, ana.IsZero())

	runs, err := h.Engine.Runs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, sanction.TriggerClose, r.Trigger)
	}
}

func TestScenario_LoadOverHTTP(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 3)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "general-assembly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "general-assembly", decode[ScenarioDTO](t, rec).ID)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/members", nil)
	assert.Empty(t, decode[[]MemberDTO](t, rec))
}

func TestScheduler_EvaluatesPreviousDay(t *testing.T) {
	// GIVEN: The general-assembly event dated yesterday
	// WHEN: The scheduler runs
	// THEN: It evaluates yesterday and records scheduler-triggered runs

	h, _ := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Seed(ctx, "general-assembly"))

	s := NewEvaluationScheduler(h.Engine, time.UTC, zap.NewNop())
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), s.TargetDate())

	results, err := s.RunNow(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].SanctionsCreated)

	results, err = s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, results[0].SanctionsCreated, "repeated ticks create nothing new")

	runs, err := h.Engine.Runs(ctx, "ev-assembly")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, sanction.TriggerScheduler, runs[0].Trigger)
}

func TestScheduler_StartStop(t *testing.T) {
	h, _ := setupTestHandler(t)

	disabled := NewEvaluationScheduler(h.Engine, nil, zap.NewNop())
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()

	s := NewEvaluationScheduler(h.Engine, nil, zap.NewNop())
	s.Interval = 10 * time.Millisecond
	s.Start()
	s.Start() // second start is a no-op
	time.Sleep(25 * time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, testNow.Add(10*time.Millisecond), s.NextRunTime())
}
