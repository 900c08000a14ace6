// Package timeoff implements leave and overtime rules on top of the generic
// ledger: the French working-day calendar, chargeable-day and majoration
// calculators, and the request lifecycle.
package timeoff

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
)

// =============================================================================
// REQUEST KINDS
// =============================================================================

type Kind string

const (
	KindPaidLeave        Kind = "paid_leave"
	KindSickLeave        Kind = "sick_leave"
	KindOvertimeRecovery Kind = "overtime_recovery"
	KindSpecificLeave    Kind = "specific_leave"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPaidLeave, KindSickLeave, KindOvertimeRecovery, KindSpecificLeave:
		return true
	}
	return false
}

// Balance returns the balance a kind is checked against, if any.
func (k Kind) Balance() (generic.BalanceKind, bool) {
	switch k {
	case KindPaidLeave, KindSpecificLeave:
		return generic.BalanceLeaveDays, true
	case KindOvertimeRecovery:
		return generic.BalanceOvertimeHours, true
	}
	return "", false
}

// Debited reports whether acceptance writes a ledger debit.
func (k Kind) Debited() bool {
	return k == KindPaidLeave || k == KindOvertimeRecovery
}

// =============================================================================
// REQUEST STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// =============================================================================
// REQUEST
// =============================================================================

type RequestID string

// Request is one leave or overtime-recovery ask.
type Request struct {
	ID         RequestID
	EmployeeID generic.EmployeeID
	Kind       Kind
	Status     Status
	Start      time.Time
	End        time.Time
	CreatedAt  time.Time
	Reason     string
	Nature     string // specific leave only
	Attachment string // sick leave only

	// Quantity is the cost computed at creation: days, or hours for overtime
	// recovery. Acceptance recomputes it from Start and End.
	Quantity decimal.Decimal

	DecidedBy generic.EmployeeID
	DecidedAt *time.Time
}

// Covers reports whether at falls within the request period.
func (r Request) Covers(at time.Time) bool {
	return !at.Before(r.Start) && !at.After(r.End)
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID generic.EmployeeID
	Status     Status
}

func (f RequestFilter) Match(r Request) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
