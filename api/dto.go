/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger and request types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Balances, deltas and quantities are decimal.Decimal and travel as JSON
  strings ("10.5") so no precision is lost in the browser. Request bodies
  accept numbers or strings.

TIMESTAMPS:
  Responses use RFC 3339 with the offset the value was recorded with.
  Request bodies accept RFC 3339 or "2006-01-02T15:04" in the server's
  TIMEZONE (see parseTimestamp).

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// EMPLOYEES AND BALANCES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email,omitempty"`
	Role          string          `json:"role"`
	HireDate      string          `json:"hire_date,omitempty"`
	LeaveDays     decimal.Decimal `json:"leave_days"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	Version       int64           `json:"version"`
	CreatedAt     string          `json:"created_at,omitempty"`
}

// CreateEmployeeRequest is the request to create an employee. Non-zero
// balances are recorded as opening ledger entries.
type CreateEmployeeRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Role          string          `json:"role"`
	HireDate      string          `json:"hire_date"`
	LeaveDays     decimal.Decimal `json:"leave_days"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
}

// BalanceDTO is the balance summary of one employee.
type BalanceDTO struct {
	EmployeeID    string          `json:"employee_id"`
	LeaveDays     decimal.Decimal `json:"leave_days"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	Display       BalanceDisplay  `json:"display"`
}

// BalanceDisplay holds the human-readable renderings.
type BalanceDisplay struct {
	LeaveDays     string `json:"leave_days"`     // "10.5"
	OvertimeHours string `json:"overtime_hours"` // "1h30"
	Summary       string `json:"summary"`        // "10.5 days and 1h30"
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerEntryDTO represents one ledger entry.
type LedgerEntryDTO struct {
	ID           string           `json:"id"`
	EmployeeID   string           `json:"employee_id"`
	ActorID      string           `json:"actor_id"`
	Kind         string           `json:"kind"`
	Source       string           `json:"source"`
	Unit         string           `json:"unit"`
	Delta        decimal.Decimal  `json:"delta"`
	BalanceAfter decimal.Decimal  `json:"balance_after"`
	CreatedAt    string           `json:"created_at"`
	Reason       string           `json:"reason,omitempty"`
	ActivityAt   string           `json:"activity_at,omitempty"`
	RawHours     *decimal.Decimal `json:"raw_hours,omitempty"`
	RateLabel    string           `json:"rate_label,omitempty"`
	RequestID    string           `json:"request_id,omitempty"`
}

// AdjustmentRequest is a manual balance change. For overtime credits
// Variation is the raw hours worked and ActivityAt is required.
type AdjustmentRequest struct {
	Kind       string          `json:"kind"`
	Variation  decimal.Decimal `json:"variation"`
	Reason     string          `json:"reason"`
	ActivityAt string          `json:"activity_at,omitempty"`
}

// AdjustmentResponse reports the applied change.
type AdjustmentResponse struct {
	NewBalance   decimal.Decimal `json:"new_balance"`
	AppliedDelta decimal.Decimal `json:"applied_delta"`
	Entry        LedgerEntryDTO  `json:"entry"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// SubmitRequestDTO is the body of a new time-off request.
type SubmitRequestDTO struct {
	Kind       string `json:"kind"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Reason     string `json:"reason,omitempty"`
	Nature     string `json:"nature,omitempty"`
	Attachment string `json:"attachment,omitempty"`
}

// RequestDTO represents a time-off request.
type RequestDTO struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	CreatedAt  string          `json:"created_at"`
	Reason     string          `json:"reason,omitempty"`
	Nature     string          `json:"nature,omitempty"`
	Attachment string          `json:"attachment,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	DecidedBy  string          `json:"decided_by,omitempty"`
	DecidedAt  string          `json:"decided_at,omitempty"`
}

// DecisionRequest carries an approver's decision: "accepted" or "rejected".
type DecisionRequest struct {
	Decision string `json:"decision"`
}

// DecisionResponse reports the decided request and the debit, if any.
type DecisionResponse struct {
	Request RequestDTO      `json:"request"`
	Entry   *LedgerEntryDTO `json:"entry,omitempty"`
	Repeat  bool            `json:"repeat"`
}

// PresenceDTO is an employee's presence at an instant.
type PresenceDTO struct {
	EmployeeID string `json:"employee_id"`
	At         string `json:"at"`
	Status     string `json:"status"`
}

// =============================================================================
// CALENDAR
// =============================================================================

type HolidayDTO struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// LeaveDaysDTO quotes what a period would cost.
type LeaveDaysDTO struct {
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Kind     string          `json:"kind"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditReportDTO struct {
	CheckedAt  string     `json:"checked_at"`
	Employees  int        `json:"employees"`
	Consistent bool       `json:"consistent"`
	Drifts     []DriftDTO `json:"drifts"`
}

type DriftDTO struct {
	EmployeeID string          `json:"employee_id"`
	Kind       string          `json:"kind"`
	Stored     decimal.Decimal `json:"stored"`
	FromLedger decimal.Decimal `json:"from_ledger"`
	Difference decimal.Decimal `json:"difference"`
}

// =============================================================================
// SCENARIOS AND TOKENS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type TokenRequest struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		Email:         e.Email,
		Role:          string(e.Role),
		LeaveDays:     e.LeaveDays,
		OvertimeHours: e.OvertimeHours,
		Version:       e.Version,
	}
	if !e.HireDate.IsZero() {
		dto.HireDate = e.HireDate.Format(time.DateOnly)
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toBalanceDTO(e generic.Employee) BalanceDTO {
	return BalanceDTO{
		EmployeeID:    string(e.ID),
		LeaveDays:     e.LeaveDays,
		OvertimeHours: e.OvertimeHours,
		Display: BalanceDisplay{
			LeaveDays:     timeoff.FormatDays(e.LeaveDays),
			OvertimeHours: timeoff.FormatHours(e.OvertimeHours),
			Summary:       timeoff.FormatBalance(e.LeaveDays, e.OvertimeHours),
		},
	}
}

func toLedgerEntryDTO(e generic.LedgerEntry) LedgerEntryDTO {
	dto := LedgerEntryDTO{
		ID:           string(e.ID),
		EmployeeID:   string(e.EmployeeID),
		ActorID:      string(e.ActorID),
		Kind:         string(e.Kind),
		Source:       string(e.Source),
		Unit:         string(e.Kind.Unit()),
		Delta:        e.Delta,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		Reason:       e.Reason,
		RateLabel:    e.RateLabel,
		RequestID:    e.RequestID,
	}
	if e.ActivityAt != nil {
		dto.ActivityAt = e.ActivityAt.Format(time.RFC3339)
	}
	if !e.RawHours.IsZero() {
		raw := e.RawHours
		dto.RawHours = &raw
	}
	return dto
}

func toLedgerEntryDTOs(entries []generic.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	return dtos
}

func toRequestDTO(r timeoff.Request) RequestDTO {
	unit := generic.UnitDays
	if r.Kind == timeoff.KindOvertimeRecovery {
		unit = generic.UnitHours
	}
	dto := RequestDTO{
		ID:         string(r.ID),
		EmployeeID: string(r.EmployeeID),
		Kind:       string(r.Kind),
		Status:     string(r.Status),
		Start:      r.Start.Format(time.RFC3339),
		End:        r.End.Format(time.RFC3339),
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		Reason:     r.Reason,
		Nature:     r.Nature,
		Attachment: r.Attachment,
		Quantity:   r.Quantity,
		Unit:       string(unit),
		DecidedBy:  string(r.DecidedBy),
	}
	if r.DecidedAt != nil {
		dto.DecidedAt = r.DecidedAt.Format(time.RFC3339)
	}
	return dto
}

func toRequestDTOs(requests []timeoff.Request) []RequestDTO {
	dtos := make([]RequestDTO, len(requests))
	for i, r := range requests {
		dtos[i] = toRequestDTO(r)
	}
	return dtos
}

func toAuditReportDTO(r generic.AuditReport) AuditReportDTO {
	dto := AuditReportDTO{
		CheckedAt:  r.CheckedAt.Format(time.RFC3339),
		Employees:  r.Employees,
		Consistent: r.Consistent(),
		Drifts:     make([]DriftDTO, len(r.Drifts)),
	}
	for i, d := range r.Drifts {
		dto.Drifts[i] = DriftDTO{
			EmployeeID: string(d.EmployeeID),
			Kind:       string(d.Kind),
			Stored:     d.Stored,
			FromLedger: d.FromLedger,
			Difference: d.Difference(),
		}
	}
	return dto
}
