/*
handlers.go - HTTP API handlers for the sanction engine

PURPOSE:
  Exposes the sanction engine and its registries via REST API. Handles HTTP
  request/response, JSON serialization, validation, and delegates to
  sanction.Engine for everything that touches the ledger.

ENDPOINTS:
  Members:
    GET    /api/members                    List all members
    POST   /api/members                    Create or update a member
    GET    /api/members/{id}/sanctions     Sanctions and unpaid total

  Events:
    GET    /api/events                     List events (?date=YYYY-MM-DD)
    POST   /api/events                     Create or replace an event
    GET    /api/events/{id}                Event details
    DELETE /api/events/{id}                Delete (refused while sanctioned)
    POST   /api/events/{id}/attendance     Record time-in/time-out
    POST   /api/events/{id}/evaluate       Run the engine for the event
    POST   /api/events/{id}/reverse        Delete all the event's sanctions
    POST   /api/events/{id}/close          Close, then evaluate
    POST   /api/events/{id}/force-close    Force-close, then evaluate
    POST   /api/events/{id}/reopen         Reopen, then reverse
    GET    /api/events/{id}/sanctions      Sanctions for the event

  Evaluations:
    POST   /api/evaluations                Evaluate every event on a date
    GET    /api/evaluations/runs           Run audit trail (?event_id=)

  Sanctions:
    POST   /api/sanctions/{id}/pay         Mark paid

  Performance:
    POST   /api/performance/weights        Redistribute category weights

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"} with:
  - 400: Validation errors, invalid input
  - 404: Event, member or sanction not found
  - 409: Event still referenced by sanctions, duplicate sanction
  - 503: Per-event lock not acquired in time, store still busy after retries
  - 500: Persistence failures

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/sanction-engine/sanction"
	"github.com/warp/sanction-engine/weights"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API reads and writes directly.
type Store interface {
	sanction.Store
	sanction.RunLog
	ListEvents(ctx context.Context) ([]sanction.Event, error)
	ListMembers(ctx context.Context) ([]sanction.Member, error)
	DeleteEvent(ctx context.Context, id sanction.EventID) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Engine   *sanction.Engine
	Location *time.Location

	logger   *zap.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler. Dates in requests are interpreted in loc.
func NewHandler(store Store, engine *sanction.Engine, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		Store:    store,
		Engine:   engine,
		Location: loc,
		logger:   logger.Named("api"),
		validate: validator.New(),
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns all members.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember creates or updates a member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	status := sanction.MemberActive
	if req.Status != "" {
		status = sanction.MemberStatus(req.Status)
	}
	m := sanction.Member{ID: sanction.MemberID(req.ID), Name: req.Name, Status: status}

	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

// GetMemberSanctions returns a member's sanctions and unpaid total.
func (h *Handler) GetMemberSanctions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sanction.MemberID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetMember(ctx, id); err != nil {
		writeDomainError(w, "Failed to get member", err)
		return
	}

	list, err := h.Engine.SanctionsForMember(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to list sanctions", err)
		return
	}
	total, err := h.Engine.TotalUnpaid(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to total unpaid sanctions", err)
		return
	}

	writeJSON(w, http.StatusOK, MemberSanctionsResponse{
		MemberID:    string(id),
		TotalUnpaid: total,
		Sanctions:   toSanctionDTOs(list),
	})
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns all events, or those on ?date=YYYY-MM-DD.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		events []sanction.Event
		err    error
	)
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, perr := time.ParseInLocation(time.DateOnly, raw, h.Location)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", perr)
			return
		}
		events, err = h.Store.ListEventsOnDate(ctx, date)
	} else {
		events, err = h.Store.ListEvents(ctx)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEvent creates or replaces an event. New events start open.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	ev, err := h.eventFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event", err)
		return
	}

	ctx := r.Context()
	if existing, err := h.Store.GetEvent(ctx, ev.ID); err == nil {
		ev.Status = existing.Status
	}

	if err := h.Store.SaveEvent(ctx, ev); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save event", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

func (h *Handler) eventFromRequest(req CreateEventRequest) (sanction.Event, error) {
	date, err := time.ParseInLocation(time.DateOnly, req.Date, h.Location)
	if err != nil {
		return sanction.Event{}, err
	}
	in, err := clockOffset(req.TimeInStart)
	if err != nil {
		return sanction.Event{}, err
	}
	out, err := clockOffset(req.TimeOutStart)
	if err != nil {
		return sanction.Event{}, err
	}
	if out < in {
		return sanction.Event{}, fmt.Errorf("time_out_start %s is before time_in_start %s", req.TimeOutStart, req.TimeInStart)
	}

	return sanction.Event{
		ID:      sanction.EventID(req.ID),
		Name:    req.Name,
		Date:    date,
		TimeIn:  sanction.NewWindow(in, minutes(req.TimeInGraceMinutes)),
		TimeOut: sanction.NewWindow(out, minutes(req.TimeOutGraceMinutes)),
		Status:  sanction.EventOpen,
	}, nil
}

// GetEvent returns one event.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Store.GetEvent(r.Context(), eventIDParam(r))
	if err != nil {
		writeDomainError(w, "Failed to get event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

// DeleteEvent deletes an event that has no sanctions.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := eventIDParam(r)
	if err := h.Store.DeleteEvent(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordAttendance upserts a member's attendance for the event.
func (h *Handler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := eventIDParam(r)

	var req RecordAttendanceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.Store.GetEvent(ctx, eventID); err != nil {
		writeDomainError(w, "Failed to get event", err)
		return
	}
	if _, err := h.Store.GetMember(ctx, sanction.MemberID(req.MemberID)); err != nil {
		writeDomainError(w, "Failed to get member", err)
		return
	}

	rec := sanction.AttendanceRecord{
		EventID:  eventID,
		MemberID: sanction.MemberID(req.MemberID),
		TimeIn:   parseTimestamp(req.TimeIn),
		TimeOut:  parseTimestamp(req.TimeOut),
		Status:   sanction.AttendanceStatus(req.Status),
	}
	if rec.Status == "" {
		rec.Status = inferAttendanceStatus(rec)
	}

	if err := h.Store.SaveRecord(ctx, rec); err != nil {
		writeDomainError(w, "Failed to save attendance", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  rec.EventID,
		"member_id": rec.MemberID,
		"status":    rec.Status,
	})
}

// inferAttendanceStatus derives the informational tag when none is given.
func inferAttendanceStatus(rec sanction.AttendanceRecord) sanction.AttendanceStatus {
	switch {
	case rec.TimeIn != nil && rec.TimeOut != nil:
		return sanction.AttendancePresent
	case rec.TimeIn != nil || rec.TimeOut != nil:
		return sanction.AttendanceIncomplete
	default:
		return sanction.AttendanceAbsent
	}
}

// EvaluateEvent runs the engine for one event.
func (h *Handler) EvaluateEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Evaluate(r.Context(), eventIDParam(r), sanction.TriggerManual)
	if err != nil {
		writeDomainError(w, "Evaluation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(res))
}

// ReverseEvent deletes every sanction of the event.
func (h *Handler) ReverseEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Reverse(r.Context(), eventIDParam(r))
	if err != nil {
		writeDomainError(w, "Reversal failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReversalResponse(res))
}

// CloseEvent closes the event and evaluates it.
func (h *Handler) CloseEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.CloseEvent(r.Context(), eventIDParam(r))
	if err != nil {
		writeDomainError(w, "Close failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(res))
}

// ForceCloseEvent force-closes the event and evaluates it.
func (h *Handler) ForceCloseEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ForceCloseEvent(r.Context(), eventIDParam(r))
	if err != nil {
		writeDomainError(w, "Force-close failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toEvaluationResponse(res))
}

// ReopenEvent reopens the event and reverses its sanctions.
func (h *Handler) ReopenEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.ReopenEvent(r.Context(), eventIDParam(r))
	if err != nil {
		writeDomainError(w, "Reopen failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReversalResponse(res))
}

// GetEventSanctions lists the event's sanctions.
func (h *Handler) GetEventSanctions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := eventIDParam(r)

	if _, err := h.Store.GetEvent(ctx, id); err != nil {
		writeDomainError(w, "Failed to get event", err)
		return
	}
	list, err := h.Engine.SanctionsForEvent(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to list sanctions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSanctionDTOs(list))
}

// =============================================================================
// EVALUATION HANDLERS
// =============================================================================

// EvaluateDate evaluates every event on the requested date.
func (h *Handler) EvaluateDate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateDateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	date, err := time.ParseInLocation(time.DateOnly, req.Date, h.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	results, err := h.Engine.EvaluateForDate(r.Context(), date, sanction.TriggerManual)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Date evaluation failed", err)
		return
	}

	resp := DateEvaluationResponse{Date: req.Date, Results: make([]EvaluationResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = toEvaluationResponse(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns the evaluation audit trail.
// GET /api/evaluations/runs?event_id=
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Engine.Runs(r.Context(), sanction.EventID(r.URL.Query().Get("event_id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get evaluation runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// SANCTION HANDLERS
// =============================================================================

// PaySanction marks a sanction paid.
func (h *Handler) PaySanction(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.MarkPaid(r.Context(), sanction.SanctionID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to mark sanction paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toSanctionDTO(s))
}

// =============================================================================
// PERFORMANCE HANDLERS
// =============================================================================

// RedistributeWeights spreads 100% evenly across active categories.
func (h *Handler) RedistributeWeights(w http.ResponseWriter, r *http.Request) {
	var req RedistributeWeightsRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	out := weights.Redistribute(req.Categories)
	writeJSON(w, http.StatusOK, RedistributeWeightsResponse{
		Categories: out,
		Total:      weights.Total(out).StringFixed(2),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine and store errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case sanction.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, sanction.ErrEventInUse), errors.Is(err, sanction.ErrDuplicateSanction):
		status = http.StatusConflict
	case sanction.IsClientError(err):
		status = http.StatusBadRequest
	case sanction.IsRetryable(err):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, message, err)
}

func eventIDParam(r *http.Request) sanction.EventID {
	return sanction.EventID(chi.URLParam(r, "id"))
}

// clockOffset parses "HH:MM" as an offset from midnight.
func clockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func minutes(m *int) *time.Duration {
	if m == nil {
		return nil
	}
	d := time.Duration(*m) * time.Minute
	return &d
}

// parseTimestamp parses an RFC3339 value already checked by the validator.
func parseTimestamp(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
