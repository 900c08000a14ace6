/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines what the engine needs from a database. Every balance mutation
  runs inside WithTx; the Tx view exposes the row lock on the employee and
  the writes that must commit together.

TRANSACTION CONTRACT:
  - LockEmployee takes a write lock on the employee row (SELECT ... FOR
    UPDATE, an immediate SQLite transaction, or the memory store mutex)
  - UpdateBalance is a compare-and-swap on Employee.Version and returns a
    ConflictError when the row moved underneath
  - fn returning an error rolls everything back; nothing partial is visible

IMPLEMENTATIONS:
  - store/memory:   snapshot + rollback, for tests
  - store/sqlite:   default persistence
  - store/postgres: row locks on PostgreSQL

SEE ALSO:
  - ledger.go: The only writer of balances
  - timeoff/request.go: Extends Tx with request rows
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the read side plus the transactional entry point.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetEmployee returns a NotFoundError for unknown ids.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)

	// ListEntries returns an employee's ledger, newest first.
	ListEntries(ctx context.Context, id EmployeeID) ([]LedgerEntry, error)
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	InsertEmployee(ctx context.Context, e Employee) error
	LockEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	UpdateBalance(ctx context.Context, id EmployeeID, kind BalanceKind, value decimal.Decimal, expectedVersion int64) error
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// OvertimeHoursBetween sums the raw worked hours of overtime credits
	// whose activity timestamp falls in [from, to).
	OvertimeHoursBetween(ctx context.Context, id EmployeeID, from, to time.Time) (decimal.Decimal, error)
}
