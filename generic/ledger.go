/*
ledger.go - Transactional balance ledger

PURPOSE:
  The only code path that changes a stored balance. Each adjustment
  (a) locks and reads the employee row, (b) computes the applied delta,
  (c) writes the new balance and (d) appends one immutable LedgerEntry,
  all inside a single store transaction.

APPLIED DELTA:
  leave_days:      the variation as given (signed)
  overtime_hours:  credits typed by a person go through the Majorator,
                   which reads the weekly tally inside the same transaction;
                   debits and opening balances are applied raw

FLOORS:
  No floor on manual adjustments (a negative balance is an advance).
  Adjustment.RequireCover rejects a debit that would take the balance
  below zero; the request lifecycle sets it on acceptance so two
  concurrent acceptances cannot jointly overdraw.

CONCURRENCY:
  ApplyAdjustment retries the whole transaction on ConflictError with fresh
  reads, up to MaxAttempts.

SEE ALSO:
  - store.go: Tx contract
  - timeoff/overtime.go: The Majorator implementation
  - timeoff/request.go: Calls Apply inside its own transaction
*/
package generic

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/logging"
)

// Credit is the outcome of majorating a raw overtime duration.
type Credit struct {
	Amount    decimal.Decimal
	RateLabel string
}

// Majorator converts raw worked overtime into the hours to credit. It runs
// inside the ledger transaction and may read through tx.
type Majorator interface {
	Majorate(ctx context.Context, tx Tx, id EmployeeID, activityAt time.Time, rawHours decimal.Decimal) (Credit, error)
}

// Adjustment is one requested balance mutation.
type Adjustment struct {
	Target    EmployeeID
	Actor     EmployeeID
	Kind      BalanceKind
	Source    EntrySource
	Variation decimal.Decimal // signed; raw hours for overtime credits
	Reason    string

	// Mandatory for manual overtime credits.
	ActivityAt *time.Time

	RequestID string

	// RequireCover rejects a debit that would leave the balance negative.
	RequireCover bool
}

// Result reports what an adjustment did.
type Result struct {
	NewBalance   decimal.Decimal
	AppliedDelta decimal.Decimal
	Entry        LedgerEntry
}

func (a Adjustment) majorated() bool {
	return a.Kind == BalanceOvertimeHours && a.Source == SourceManual && a.Variation.IsPositive()
}

func (a Adjustment) validate() error {
	if a.Target == "" {
		return Invalid(ErrMissingField, "employee_id", "target employee is required")
	}
	if !a.Kind.Valid() {
		return Invalid(nil, "kind", "unknown balance kind %q", a.Kind)
	}
	if !a.Source.Valid() {
		return Invalid(nil, "source", "unknown entry source %q", a.Source)
	}
	if a.Variation.IsZero() {
		return Invalid(nil, "variation", "must be non-zero")
	}
	if a.majorated() {
		if strings.TrimSpace(a.Reason) == "" {
			return Invalid(ErrMissingField, "reason", "required when crediting overtime")
		}
		if a.ActivityAt == nil || a.ActivityAt.IsZero() {
			return Invalid(ErrMissingField, "activity_at", "required when crediting overtime")
		}
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store       Store
	Majorator   Majorator
	MaxAttempts int
	Now         func() time.Time
	NewID       func() EntryID
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, majorator Majorator) *Ledger {
	return &Ledger{
		Store:       store,
		Majorator:   majorator,
		MaxAttempts: 3,
		Now:         time.Now,
		NewID:       func() EntryID { return EntryID(uuid.NewString()) },
	}
}

// ApplyAdjustment authorizes the actor and applies adj in its own
// transaction.
func (l *Ledger) ApplyAdjustment(ctx context.Context, adj Adjustment) (*Result, error) {
	if adj.Source == "" {
		adj.Source = SourceManual
	}
	if err := adj.validate(); err != nil {
		return nil, err
	}
	if err := l.Authorize(ctx, adj.Actor, adj.Target); err != nil {
		return nil, err
	}

	var res *Result
	err := RetryConflicts(ctx, l.MaxAttempts, func() error {
		return l.Store.WithTx(ctx, func(tx Tx) error {
			r, err := l.Apply(ctx, tx, adj)
			res = r
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).InfoContext(ctx, "balance adjusted",
		"employee_id", adj.Target,
		"actor_id", adj.Actor,
		"kind", adj.Kind,
		"delta", res.AppliedDelta.String(),
		"balance", res.NewBalance.String(),
	)
	return res, nil
}

// Apply runs one adjustment inside an existing transaction. Authorization is
// the caller's job.
func (l *Ledger) Apply(ctx context.Context, tx Tx, adj Adjustment) (*Result, error) {
	if adj.Source == "" {
		adj.Source = SourceManual
	}
	if err := adj.validate(); err != nil {
		return nil, err
	}

	emp, err := tx.LockEmployee(ctx, adj.Target)
	if err != nil {
		return nil, err
	}

	now := l.now()
	entry := LedgerEntry{
		ID:         l.newID(),
		EmployeeID: emp.ID,
		ActorID:    adj.Actor,
		Kind:       adj.Kind,
		Source:     adj.Source,
		CreatedAt:  now,
		Reason:     strings.TrimSpace(adj.Reason),
		RequestID:  adj.RequestID,
	}
	if entry.ActorID == "" {
		entry.ActorID = emp.ID
	}

	applied := adj.Variation
	if adj.majorated() {
		if l.Majorator == nil {
			return nil, Storage("majorate", errNoMajorator)
		}
		credit, err := l.Majorator.Majorate(ctx, tx, emp.ID, *adj.ActivityAt, adj.Variation)
		if err != nil {
			return nil, err
		}
		applied = credit.Amount
		activityAt := *adj.ActivityAt
		entry.ActivityAt = &activityAt
		entry.RawHours = adj.Variation
		entry.RateLabel = credit.RateLabel
	}

	current := emp.Balance(adj.Kind)
	newBalance := current.Add(applied)
	if adj.RequireCover && applied.IsNegative() && newBalance.IsNegative() {
		return nil, &InsufficientBalanceError{
			EmployeeID: emp.ID,
			Kind:       adj.Kind,
			Available:  current,
			Requested:  applied.Neg(),
		}
	}

	if err := tx.UpdateBalance(ctx, emp.ID, adj.Kind, newBalance, emp.Version); err != nil {
		return nil, err
	}

	entry.Delta = applied
	entry.BalanceAfter = newBalance
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	return &Result{NewBalance: newBalance, AppliedDelta: applied, Entry: entry}, nil
}

// Authorize checks that actor may change target's balances: the employee
// themself or an hr/admin.
func (l *Ledger) Authorize(ctx context.Context, actorID, target EmployeeID) error {
	if actorID == "" {
		return Invalid(ErrMissingField, "actor_id", "acting employee is required")
	}
	actor, err := l.Store.GetEmployee(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.ID != target && !actor.Role.CanManage() {
		return Invalid(ErrUnauthorized, "actor_id", "%s may not adjust balances of %s", actor.ID, target)
	}
	return nil
}

// OpenAccount inserts e and records its starting balances as opening
// entries, in one transaction. Starting balances are taken from
// e.LeaveDays and e.OvertimeHours.
func (l *Ledger) OpenAccount(ctx context.Context, e Employee, actor EmployeeID) (*Employee, error) {
	if strings.TrimSpace(e.Name) == "" {
		return nil, Invalid(ErrMissingField, "name", "employee name is required")
	}
	if e.Role == "" {
		e.Role = RoleEmployee
	}
	if !e.Role.Valid() {
		return nil, Invalid(nil, "role", "unknown role %q", e.Role)
	}
	if e.ID == "" {
		e.ID = EmployeeID(uuid.NewString())
	}
	if actor == "" {
		actor = e.ID
	}

	opening := map[BalanceKind]decimal.Decimal{
		BalanceLeaveDays:     e.LeaveDays,
		BalanceOvertimeHours: e.OvertimeHours,
	}
	e.LeaveDays = decimal.Zero
	e.OvertimeHours = decimal.Zero
	e.Version = 0
	e.CreatedAt = l.now()

	err := l.Store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertEmployee(ctx, e); err != nil {
			return err
		}
		for _, kind := range []BalanceKind{BalanceLeaveDays, BalanceOvertimeHours} {
			if opening[kind].IsZero() {
				continue
			}
			if _, err := l.Apply(ctx, tx, Adjustment{
				Target:    e.ID,
				Actor:     actor,
				Kind:      kind,
				Source:    SourceOpening,
				Variation: opening[kind],
				Reason:    "opening balance",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).InfoContext(ctx, "account opened", "employee_id", e.ID, "role", e.Role)
	return l.Store.GetEmployee(ctx, e.ID)
}

// Entries returns the employee's ledger, newest first.
func (l *Ledger) Entries(ctx context.Context, id EmployeeID) ([]LedgerEntry, error) {
	if _, err := l.Store.GetEmployee(ctx, id); err != nil {
		return nil, err
	}
	return l.Store.ListEntries(ctx, id)
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *Ledger) newID() EntryID {
	if l.NewID == nil {
		return EntryID(uuid.NewString())
	}
	return l.NewID()
}
