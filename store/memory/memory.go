// Package memory provides an in-memory transactional store for tests and
// throwaway development servers.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store implements timeoff.Store. Transactions are serialized by one mutex
// and simulated with a snapshot + rollback on error.
type Store struct {
	mu        sync.Mutex
	employees map[generic.EmployeeID]generic.Employee
	entries   map[generic.EmployeeID][]generic.LedgerEntry // append order
	requests  map[timeoff.RequestID]timeoff.Request
	order     []timeoff.RequestID // insertion order

	failures map[string]error
}

var _ timeoff.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.employees = make(map[generic.EmployeeID]generic.Employee)
	s.entries = make(map[generic.EmployeeID][]generic.LedgerEntry)
	s.requests = make(map[timeoff.RequestID]timeoff.Request)
	s.order = nil
	s.failures = make(map[string]error)
}

// Reset drops all data.
func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// FailNext makes the next call of op inside a transaction return err. Ops:
// insert_employee, lock_employee, update_balance, append_entry,
// insert_request, update_request_status.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(tx generic.Tx) error) error {
	return s.WithRequestTx(ctx, func(tx timeoff.Tx) error { return fn(tx) })
}

func (s *Store) WithRequestTx(ctx context.Context, fn func(tx timeoff.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(&txView{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	employees map[generic.EmployeeID]generic.Employee
	entries   map[generic.EmployeeID][]generic.LedgerEntry
	requests  map[timeoff.RequestID]timeoff.Request
	order     []timeoff.RequestID
}

func (s *Store) snapshot() snapshot {
	entries := make(map[generic.EmployeeID][]generic.LedgerEntry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = slices.Clone(v)
	}
	employees := make(map[generic.EmployeeID]generic.Employee, len(s.employees))
	for k, v := range s.employees {
		employees[k] = v
	}
	requests := make(map[timeoff.RequestID]timeoff.Request, len(s.requests))
	for k, v := range s.requests {
		requests[k] = v
	}
	return snapshot{employees: employees, entries: entries, requests: requests, order: slices.Clone(s.order)}
}

func (s *Store) restore(snap snapshot) {
	s.employees = snap.employees
	s.entries = snap.entries
	s.requests = snap.requests
	s.order = snap.order
}

// txView runs with s.mu held.
type txView struct {
	s *Store
}

func (tv *txView) InsertEmployee(_ context.Context, e generic.Employee) error {
	if err := tv.s.injected("insert_employee"); err != nil {
		return err
	}
	if _, ok := tv.s.employees[e.ID]; ok {
		return generic.Invalid(nil, "id", "employee %s already exists", e.ID)
	}
	tv.s.employees[e.ID] = e
	return nil
}

func (tv *txView) LockEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	if err := tv.s.injected("lock_employee"); err != nil {
		return nil, err
	}
	e, ok := tv.s.employees[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return &e, nil
}

func (tv *txView) UpdateBalance(_ context.Context, id generic.EmployeeID, kind generic.BalanceKind, value decimal.Decimal, expectedVersion int64) error {
	if err := tv.s.injected("update_balance"); err != nil {
		return err
	}
	e, ok := tv.s.employees[id]
	if !ok {
		return &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if e.Version != expectedVersion {
		return &generic.ConflictError{Resource: "employee", ID: string(id)}
	}
	tv.s.employees[id] = e.WithBalance(kind, value)
	return nil
}

func (tv *txView) AppendEntry(_ context.Context, entry generic.LedgerEntry) error {
	if err := tv.s.injected("append_entry"); err != nil {
		return err
	}
	tv.s.entries[entry.EmployeeID] = append(tv.s.entries[entry.EmployeeID], entry)
	return nil
}

func (tv *txView) OvertimeHoursBetween(_ context.Context, id generic.EmployeeID, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range tv.s.entries[id] {
		if !e.IsOvertimeCredit() {
			continue
		}
		if !e.ActivityAt.Before(from) && e.ActivityAt.Before(to) {
			total = total.Add(e.RawHours)
		}
	}
	return total, nil
}

func (tv *txView) InsertRequest(_ context.Context, r timeoff.Request) error {
	if err := tv.s.injected("insert_request"); err != nil {
		return err
	}
	if _, ok := tv.s.requests[r.ID]; ok {
		return generic.Invalid(nil, "id", "request %s already exists", r.ID)
	}
	tv.s.requests[r.ID] = r
	tv.s.order = append(tv.s.order, r.ID)
	return nil
}

func (tv *txView) LockRequest(_ context.Context, id timeoff.RequestID) (*timeoff.Request, error) {
	r, ok := tv.s.requests[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return &r, nil
}

func (tv *txView) UpdateRequestStatus(_ context.Context, id timeoff.RequestID, status timeoff.Status, decidedBy generic.EmployeeID, decidedAt time.Time) error {
	if err := tv.s.injected("update_request_status"); err != nil {
		return err
	}
	r, ok := tv.s.requests[id]
	if !ok {
		return &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	r.Status = status
	r.DecidedBy = decidedBy
	r.DecidedAt = &decidedAt
	tv.s.requests[id] = r
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.employees[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return &e, nil
}

func (s *Store) ListEmployees(context.Context) ([]generic.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]generic.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b generic.Employee) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), strings.Compare(string(a.ID), string(b.ID)))
	})
	return out, nil
}

func (s *Store) ListEntries(_ context.Context, id generic.EmployeeID) ([]generic.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Clone(s.entries[id])
	slices.Reverse(out)
	if out == nil {
		out = []generic.LedgerEntry{}
	}
	return out, nil
}

func (s *Store) GetRequest(_ context.Context, id timeoff.RequestID) (*timeoff.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return &r, nil
}

func (s *Store) ListRequests(_ context.Context, f timeoff.RequestFilter) ([]timeoff.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []timeoff.Request{}
	for i := len(s.order) - 1; i >= 0; i-- {
		if r := s.requests[s.order[i]]; f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
