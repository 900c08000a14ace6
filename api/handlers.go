/*
handlers.go - HTTP API handlers for the leave and overtime ledger

PURPOSE:
  Exposes the balance ledger and the request lifecycle via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  generic.Ledger and timeoff.RequestService.

ENDPOINTS:
  Employees:
    GET    /api/employees                     List employees with balances
    POST   /api/employees                     Create employee (hr/admin)
    GET    /api/employees/{id}                Get employee
    GET    /api/employees/{id}/balance        Balance summary
    GET    /api/employees/{id}/ledger         Ledger entries, newest first
    POST   /api/employees/{id}/adjustments    Manual balance adjustment
    GET    /api/employees/{id}/requests       Employee's requests
    POST   /api/employees/{id}/requests       Submit a request
    GET    /api/employees/{id}/presence       Presence at an instant

  Requests:
    GET    /api/requests/pending              Pending requests (hr/admin)
    GET    /api/requests/{id}                 Get request
    POST   /api/requests/{id}/decision        Accept or reject

  Calendar:
    GET    /api/holidays?year=                Public holidays of a year
    GET    /api/leave-days?start=&end=&kind=  Cost of a period

  Admin:
    GET    /api/admin/audit                   Last audit report
    POST   /api/admin/audit                   Run the ledger auditor now

ACTORS:
  The acting employee comes from the JWT subject (see auth.go). Balance and
  request operations check the actor against the stored employee record;
  list-wide and admin operations check the role carried by the token.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient balance, invalid transition
  - 401: Missing or invalid token
  - 403: Actor not allowed
  - 404: Employee or request not found
  - 409: Concurrent modification still conflicting after retries
  - 500: Storage failures

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
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/logging"
	"github.com/warp/leave-ledger/timeoff"
)

// localLayout is the wall-clock format accepted next to RFC 3339.
const localLayout = "2006-01-02T15:04"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence: the request store plus a
// reset for demo scenarios.
type Store interface {
	timeoff.Store
	Reset(ctx context.Context) error
}

// Options configures a Handler and its router.
type Options struct {
	Policy      timeoff.Policy
	Location    *time.Location
	JWTSecret   string
	DevTokens   bool
	CORSOrigins []string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Ledger    *generic.Ledger
	Requests  *timeoff.RequestService
	Calendar  generic.HolidayCalendar
	Audit     *AuditScheduler
	Location  *time.Location
	JWTSecret string
	Now       func() time.Time

	devTokens   bool
	corsOrigins []string

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the ledger, request service and auditor over store.
func NewHandler(store Store, opts Options) *Handler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	calendar := timeoff.NewFrenchCalendar()
	ledger := generic.NewLedger(store, timeoff.NewOvertimeCalculator(opts.Policy.Overtime))
	days := timeoff.NewDayCounter(calendar, opts.Policy.Leave)

	return &Handler{
		Store:       store,
		Ledger:      ledger,
		Requests:    timeoff.NewRequestService(store, ledger, days),
		Calendar:    calendar,
		Audit:       NewAuditScheduler(generic.NewAuditor(store)),
		Location:    loc,
		JWTSecret:   opts.JWTSecret,
		Now:         time.Now,
		devTokens:   opts.DevTokens,
		corsOrigins: opts.CORSOrigins,
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now().In(h.Location)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees with their balances.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), employeeParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee opens an account, recording non-zero starting balances as
// opening entries.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w, r) {
		return
	}

	var req CreateEmployeeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	emp := generic.Employee{
		ID:            generic.EmployeeID(req.ID),
		Name:          req.Name,
		Email:         req.Email,
		Role:          generic.Role(req.Role),
		LeaveDays:     req.LeaveDays,
		OvertimeHours: req.OvertimeHours,
	}
	if req.HireDate != "" {
		hireDate, err := time.ParseInLocation(time.DateOnly, req.HireDate, h.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid hire_date format (use YYYY-MM-DD)", err)
			return
		}
		emp.HireDate = hireDate
	}

	created, err := h.Ledger.OpenAccount(r.Context(), emp, actorOf(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*created))
}

// =============================================================================
// BALANCE AND LEDGER HANDLERS
// =============================================================================

// GetBalance returns raw and formatted balances.
// GET /api/employees/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)

	if err := h.Ledger.Authorize(ctx, actorOf(r), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*emp))
}

// GetLedger returns the employee's ledger, newest first.
// GET /api/employees/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)

	if err := h.Ledger.Authorize(ctx, actorOf(r), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	entries, err := h.Ledger.Entries(ctx, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// CreateAdjustment applies a manual balance change. Overtime credits are
// majorated; everything else is applied as given.
// POST /api/employees/{id}/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	adj := generic.Adjustment{
		Target:    employeeParam(r),
		Actor:     actorOf(r),
		Kind:      generic.BalanceKind(req.Kind),
		Source:    generic.SourceManual,
		Variation: req.Variation,
		Reason:    req.Reason,
	}
	if req.ActivityAt != "" {
		at, err := h.parseTimestamp("activity_at", req.ActivityAt)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		adj.ActivityAt = &at
	}

	res, err := h.Ledger.ApplyAdjustment(r.Context(), adj)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AdjustmentResponse{
		NewBalance:   res.NewBalance,
		AppliedDelta: res.AppliedDelta,
		Entry:        toLedgerEntryDTO(res.Entry),
	})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a request for the employee. Sick leave is accepted
// immediately; other kinds wait for a decision.
// POST /api/employees/{id}/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)

	var req SubmitRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Ledger.Authorize(ctx, actorOf(r), id); err != nil {
		writeDomainError(w, r, err)
		return
	}

	start, err := h.parseTimestamp("start", req.Start)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	end, err := h.parseTimestamp("end", req.End)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	created, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: id,
		Kind:       timeoff.Kind(req.Kind),
		Start:      start,
		End:        end,
		Reason:     req.Reason,
		Nature:     req.Nature,
		Attachment: req.Attachment,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

// ListEmployeeRequests returns the employee's requests, newest first,
// optionally filtered by ?status=.
// GET /api/employees/{id}/requests
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := employeeParam(r)

	if err := h.Ledger.Authorize(ctx, actorOf(r), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	status, err := statusParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	requests, err := h.Requests.ListRequests(ctx, timeoff.RequestFilter{EmployeeID: id, Status: status})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// ListPendingRequests returns every request awaiting a decision.
// GET /api/requests/pending
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w, r) {
		return
	}
	requests, err := h.Requests.ListRequests(r.Context(), timeoff.RequestFilter{Status: timeoff.StatusPending})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(requests))
}

// GetRequest returns one request to its owner or to hr/admin.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := h.Requests.GetRequest(ctx, timeoff.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.Ledger.Authorize(ctx, actorOf(r), req.EmployeeID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// DecideRequest accepts or rejects a pending request. Accepting paid leave or
// overtime recovery debits the balance in the same transaction.
// POST /api/requests/{id}/decision
func (h *Handler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := h.Requests.Decide(r.Context(), timeoff.RequestID(chi.URLParam(r, "id")), timeoff.Status(req.Decision), actorOf(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := DecisionResponse{Request: toRequestDTO(out.Request), Repeat: out.Repeat}
	if out.Entry != nil {
		entry := toLedgerEntryDTO(*out.Entry)
		resp.Entry = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPresence reports whether the employee is at work, on leave or sick at
// ?at= (default now). Presence is team-wide information for the dashboard:
// any authenticated actor may read it, unlike balances and requests, and it
// exposes neither reasons nor amounts.
// GET /api/employees/{id}/presence
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	at := h.now()
	if s := r.URL.Query().Get("at"); s != "" {
		parsed, err := h.parseTimestamp("at", s)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		at = parsed
	}

	id := employeeParam(r)
	presence, err := h.Requests.Presence(r.Context(), id, at)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PresenceDTO{
		EmployeeID: string(id),
		At:         at.Format(time.RFC3339),
		Status:     string(presence),
	})
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListHolidays returns the public holidays of ?year= (default this year).
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1583 || y > 9999 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	holidays := h.Calendar.Holidays(year)
	dtos := make([]HolidayDTO, len(holidays))
	for i, hol := range holidays {
		dtos[i] = HolidayDTO{Date: hol.Date.String(), Name: hol.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PreviewLeaveDays quotes a period without creating a request: chargeable
// days, or hours for ?kind=overtime_recovery.
// GET /api/leave-days
func (h *Handler) PreviewLeaveDays(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := timeoff.KindPaidLeave
	if s := q.Get("kind"); s != "" {
		kind = timeoff.Kind(s)
	}
	if !kind.Valid() {
		writeDomainError(w, r, generic.Invalid(nil, "kind", "unknown request kind %q", kind))
		return
	}

	start, err := h.parseTimestamp("start", q.Get("start"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	end, err := h.parseTimestamp("end", q.Get("end"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if end.Before(start) {
		writeDomainError(w, r, generic.Invalid(generic.ErrInvalidPeriod, "end", "end %s is before start %s", end.Format(localLayout), start.Format(localLayout)))
		return
	}

	unit := generic.UnitDays
	if kind == timeoff.KindOvertimeRecovery {
		unit = generic.UnitHours
	}
	writeJSON(w, http.StatusOK, LeaveDaysDTO{
		Start:    start.Format(time.RFC3339),
		End:      end.Format(time.RFC3339),
		Kind:     string(kind),
		Quantity: h.Requests.Quote(kind, start, end),
		Unit:     string(unit),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAudit replays every ledger now and returns the report.
// POST /api/admin/audit
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w, r) {
		return
	}
	report, err := h.Audit.RunNow(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(*report))
}

// GetLastAudit returns the most recent audit report, or null if none ran.
// GET /api/admin/audit
func (h *Handler) GetLastAudit(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w, r) {
		return
	}
	report := h.Audit.LastReport()
	if report == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(*report))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, generic.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "Not allowed", err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case generic.IsRetryable(err):
		writeError(w, http.StatusConflict, "Concurrent modification, please retry", err)
	default:
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func employeeParam(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

func statusParam(r *http.Request) (timeoff.Status, error) {
	s := timeoff.Status(r.URL.Query().Get("status"))
	switch s {
	case "", timeoff.StatusPending, timeoff.StatusAccepted, timeoff.StatusRejected:
		return s, nil
	}
	return "", generic.Invalid(nil, "status", "unknown status %q", s)
}

func actorOf(r *http.Request) generic.EmployeeID {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		return c.EmployeeID
	}
	return ""
}

// requireManager checks the token role for list-wide and admin routes.
func requireManager(w http.ResponseWriter, r *http.Request) bool {
	c, ok := ClaimsFromContext(r.Context())
	if !ok || !c.Role.CanManage() {
		writeError(w, http.StatusForbidden, "HR or admin role required", nil)
		return false
	}
	return true
}

// parseTimestamp accepts RFC 3339, keeping the supplied offset, or a local
// wall-clock time in the configured zone.
func (h *Handler) parseTimestamp(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, generic.Invalid(generic.ErrMissingField, field, "%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localLayout, s, h.Location)
	if err != nil {
		return time.Time{}, generic.Invalid(nil, field, "%s: expected RFC 3339 or %s, got %q", field, localLayout, s)
	}
	return t, nil
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}
