/*
Package generic provides the balance ledger engine.

PURPOSE:
  Domain-agnostic types and orchestration for per-employee balances that
  are only ever changed through an append-only ledger. Whether the balance
  counts leave days or overtime hours, the same engine locks the row,
  applies a delta, writes the new balance and records one immutable entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (days or hours)
  - BalanceKind: Which of the two balances an entry touches
  - EntrySource: Sub-tag telling opening, manual and request entries apart
  - Employee: Identity, role and the two materialized balances
  - LedgerEntry: One immutable record of a balance mutation

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified or deleted
  2. Precision: decimal.Decimal for every quantity
  3. Materialized view: Employee balances always equal the sum of their
     ledger deltas (see balance.go)

SEE ALSO:
  - ledger.go: Applies adjustments atomically
  - store.go: Persistence interfaces
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }

func (a Amount) String() string {
	return a.Value.String() + " " + string(a.Unit)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type EntryID string

// =============================================================================
// BALANCE KINDS AND ENTRY SOURCES
// =============================================================================

type BalanceKind string

const (
	BalanceLeaveDays     BalanceKind = "leave_days"
	BalanceOvertimeHours BalanceKind = "overtime_hours"
)

func (k BalanceKind) Valid() bool {
	return k == BalanceLeaveDays || k == BalanceOvertimeHours
}

func (k BalanceKind) Unit() Unit {
	if k == BalanceOvertimeHours {
		return UnitHours
	}
	return UnitDays
}

// EntrySource distinguishes why an entry was written.
type EntrySource string

const (
	SourceOpening EntrySource = "opening" // starting balance at account creation
	SourceManual  EntrySource = "manual"  // adjustment typed by a person
	SourceRequest EntrySource = "request" // debit triggered by an accepted request
)

func (s EntrySource) Valid() bool {
	return s == SourceOpening || s == SourceManual || s == SourceRequest
}

// =============================================================================
// EMPLOYEE
// =============================================================================

type Role string

const (
	RoleEmployee Role = "employee"
	RoleHR       Role = "hr"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleHR || r == RoleAdmin
}

// CanManage reports whether the role may act on other employees' balances
// and decide requests.
func (r Role) CanManage() bool {
	return r == RoleHR || r == RoleAdmin
}

type Employee struct {
	ID            EmployeeID
	Name          string
	Email         string
	Role          Role
	HireDate      time.Time
	LeaveDays     decimal.Decimal
	OvertimeHours decimal.Decimal
	Version       int64
	CreatedAt     time.Time
}

// Balance returns the stored balance of the given kind.
func (e Employee) Balance(kind BalanceKind) decimal.Decimal {
	if kind == BalanceOvertimeHours {
		return e.OvertimeHours
	}
	return e.LeaveDays
}

func (e *Employee) setBalance(kind BalanceKind, v decimal.Decimal) {
	if kind == BalanceOvertimeHours {
		e.OvertimeHours = v
		return
	}
	e.LeaveDays = v
}

// WithBalance returns a copy of e with the balance of kind replaced and the
// version bumped. Stores use it to apply UpdateBalance.
func (e Employee) WithBalance(kind BalanceKind, v decimal.Decimal) Employee {
	e.setBalance(kind, v)
	e.Version++
	return e
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// LedgerEntry is one immutable record of a balance mutation.
type LedgerEntry struct {
	ID           EntryID
	EmployeeID   EmployeeID
	ActorID      EmployeeID
	Kind         BalanceKind
	Source       EntrySource
	Delta        decimal.Decimal
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
	Reason       string

	// Only set on majorated overtime credits.
	ActivityAt *time.Time
	RawHours   decimal.Decimal
	RateLabel  string

	// Only set on request-triggered entries.
	RequestID string
}

// Amount returns the delta with its unit.
func (e LedgerEntry) Amount() Amount {
	return NewAmount(e.Delta, e.Kind.Unit())
}

// IsOvertimeCredit reports whether the entry counts toward the weekly
// overtime tally.
func (e LedgerEntry) IsOvertimeCredit() bool {
	return e.Kind == BalanceOvertimeHours && e.ActivityAt != nil && e.RawHours.IsPositive()
}
