/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  sanction domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results and wrappers

VALIDATION:
  Request types carry go-playground/validator struct tags. Handlers call
  decodeAndValidate before touching the domain.

FORMATS:
  - Dates: YYYY-MM-DD in the configured location
  - Window starts: HH:MM (24h)
  - Timestamps: RFC3339
  - Amounts: two-decimal strings ("25.00")

SEE ALSO:
  - handlers.go: Uses these types
  - sanction/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/sanction-engine/sanction"
	"github.com/warp/sanction-engine/weights"
)

// =============================================================================
// MEMBERS
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CreateMemberRequest creates or updates a member. Status defaults to Active.
type CreateMemberRequest struct {
	ID     string `json:"id" validate:"required,max=64"`
	Name   string `json:"name" validate:"required,max=200"`
	Status string `json:"status" validate:"omitempty,oneof=Active Inactive Alumni"`
}

// MemberSanctionsResponse lists a member's sanctions with the unpaid total.
type MemberSanctionsResponse struct {
	MemberID    string          `json:"member_id"`
	TotalUnpaid sanction.Amount `json:"total_unpaid"`
	Sanctions   []SanctionDTO   `json:"sanctions"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO represents an event in API responses.
type EventDTO struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Date                string `json:"date"`
	TimeInStart         string `json:"time_in_start"`
	TimeInGraceMinutes  int    `json:"time_in_grace_minutes"`
	TimeInDeadline      string `json:"time_in_deadline"`
	TimeOutStart        string `json:"time_out_start"`
	TimeOutGraceMinutes int    `json:"time_out_grace_minutes"`
	TimeOutDeadline     string `json:"time_out_deadline"`
	Status              string `json:"status"`
}

// CreateEventRequest creates or replaces an event. Omitted grace periods
// default to 30 minutes.
type CreateEventRequest struct {
	ID                  string `json:"id" validate:"required,max=64"`
	Name                string `json:"name" validate:"max=200"`
	Date                string `json:"date" validate:"required,datetime=2006-01-02"`
	TimeInStart         string `json:"time_in_start" validate:"required,datetime=15:04"`
	TimeInGraceMinutes  *int   `json:"time_in_grace_minutes" validate:"omitempty,min=0,max=1440"`
	TimeOutStart        string `json:"time_out_start" validate:"required,datetime=15:04"`
	TimeOutGraceMinutes *int   `json:"time_out_grace_minutes" validate:"omitempty,min=0,max=1440"`
}

// RecordAttendanceRequest upserts one member's attendance for an event.
type RecordAttendanceRequest struct {
	MemberID string  `json:"member_id" validate:"required"`
	TimeIn   *string `json:"time_in" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	TimeOut  *string `json:"time_out" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Status   string  `json:"status" validate:"omitempty,oneof=present late incomplete absent"`
}

// =============================================================================
// SANCTIONS
// =============================================================================

// SanctionDTO represents a sanction in API responses.
type SanctionDTO struct {
	ID        string          `json:"id"`
	MemberID  string          `json:"member_id"`
	EventID   string          `json:"event_id"`
	Amount    sanction.Amount `json:"amount"`
	Reason    string          `json:"reason"`
	Status    string          `json:"status"`
	PaidAt    string          `json:"paid_at,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// =============================================================================
// EVALUATION
// =============================================================================

// EvaluationResponse is the outcome of evaluating one event.
type EvaluationResponse struct {
	EventID          string   `json:"event_id,omitempty"`
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	SanctionsCreated int      `json:"sanctions_created"`
	SanctionIDs      []string `json:"sanction_ids"`
	FailedMembers    []string `json:"failed_members,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// ReversalResponse is the outcome of reversing one event.
type ReversalResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int    `json:"deleted_count"`
}

// EvaluateDateRequest evaluates every event on a date.
type EvaluateDateRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// DateEvaluationResponse wraps per-event results of a date evaluation.
type DateEvaluationResponse struct {
	Date    string               `json:"date"`
	Results []EvaluationResponse `json:"results"`
}

// RunDTO represents an evaluation run in API responses.
type RunDTO struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	Trigger     string `json:"trigger"`
	Status      string `json:"status"`
	Created     int    `json:"created"`
	Failed      int    `json:"failed"`
	Message     string `json:"message,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// =============================================================================
// PERFORMANCE WEIGHTS
// =============================================================================

type RedistributeWeightsRequest struct {
	Categories []weights.Category `json:"categories" validate:"required,dive"`
}

type RedistributeWeightsResponse struct {
	Categories []weights.Category `json:"categories"`
	Total      string             `json:"total"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toMemberDTO(m sanction.Member) MemberDTO {
	return MemberDTO{ID: string(m.ID), Name: m.Name, Status: string(m.Status)}
}

func toEventDTO(e sanction.Event) EventDTO {
	return EventDTO{
		ID:                  string(e.ID),
		Name:                e.Name,
		Date:                e.Date.Format(time.DateOnly),
		TimeInStart:         e.TimeInOpens().Format("15:04"),
		TimeInGraceMinutes:  int(e.TimeIn.Grace.Minutes()),
		TimeInDeadline:      e.TimeInDeadline().Format(time.RFC3339),
		TimeOutStart:        e.TimeOut.Opens(e.Date).Format("15:04"),
		TimeOutGraceMinutes: int(e.TimeOut.Grace.Minutes()),
		TimeOutDeadline:     e.TimeOutDeadline().Format(time.RFC3339),
		Status:              string(e.Status),
	}
}

func toSanctionDTO(s sanction.Sanction) SanctionDTO {
	dto := SanctionDTO{
		ID:        string(s.ID),
		MemberID:  string(s.MemberID),
		EventID:   string(s.EventID),
		Amount:    s.Amount,
		Reason:    string(s.Reason),
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
	if s.PaidAt != nil {
		dto.PaidAt = s.PaidAt.Format(time.RFC3339)
	}
	return dto
}

func toSanctionDTOs(list []sanction.Sanction) []SanctionDTO {
	dtos := make([]SanctionDTO, len(list))
	for i, s := range list {
		dtos[i] = toSanctionDTO(s)
	}
	return dtos
}

func toEvaluationResponse(r sanction.EvaluationResult) EvaluationResponse {
	resp := EvaluationResponse{
		EventID:          string(r.EventID),
		Success:          r.Success,
		Message:          r.Message,
		SanctionsCreated: r.SanctionsCreated,
		SanctionIDs:      make([]string, len(r.SanctionIDs)),
	}
	for i, id := range r.SanctionIDs {
		resp.SanctionIDs[i] = string(id)
	}
	for _, f := range r.Failures {
		resp.FailedMembers = append(resp.FailedMembers, string(f.MemberID))
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func toReversalResponse(r sanction.ReversalResult) ReversalResponse {
	return ReversalResponse{Success: r.Success, Message: r.Message, DeletedCount: r.DeletedCount}
}

func toRunDTO(r sanction.EvaluationRun) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		EventID:   string(r.EventID),
		Trigger:   string(r.Trigger),
		Status:    string(r.Status),
		Created:   r.Created,
		Failed:    r.Failed,
		Message:   r.Message,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
