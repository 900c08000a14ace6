package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE FROM LEDGER
// =============================================================================

// SumDeltas replays entries of one kind.
func SumDeltas(entries []LedgerEntry, kind BalanceKind) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.Kind == kind {
			total = total.Add(e.Delta)
		}
	}
	return total
}

// Drift is a stored balance that no longer matches its ledger.
type Drift struct {
	EmployeeID EmployeeID
	Kind       BalanceKind
	Stored     decimal.Decimal
	FromLedger decimal.Decimal
}

func (d Drift) Difference() decimal.Decimal {
	return d.Stored.Sub(d.FromLedger)
}

// CheckConsistency compares both stored balances of e against entries.
func CheckConsistency(e Employee, entries []LedgerEntry) []Drift {
	var drifts []Drift
	for _, kind := range []BalanceKind{BalanceLeaveDays, BalanceOvertimeHours} {
		fromLedger := SumDeltas(entries, kind)
		if stored := e.Balance(kind); !stored.Equal(fromLedger) {
			drifts = append(drifts, Drift{EmployeeID: e.ID, Kind: kind, Stored: stored, FromLedger: fromLedger})
		}
	}
	return drifts
}

// =============================================================================
// AUDITOR
// =============================================================================

// AuditReport summarizes one pass over every employee.
type AuditReport struct {
	CheckedAt time.Time
	Employees int
	Drifts    []Drift
}

func (r AuditReport) Consistent() bool { return len(r.Drifts) == 0 }

// Auditor replays every ledger and reports drift. It never writes.
type Auditor struct {
	Store Store
	Now   func() time.Time
}

func NewAuditor(store Store) *Auditor {
	return &Auditor{Store: store, Now: time.Now}
}

func (a *Auditor) Run(ctx context.Context) (*AuditReport, error) {
	employees, err := a.Store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{CheckedAt: a.Now(), Employees: len(employees)}
	for _, e := range employees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := a.Store.ListEntries(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		report.Drifts = append(report.Drifts, CheckConsistency(e, entries)...)
	}
	return report, nil
}
