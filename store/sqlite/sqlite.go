/*
Package sqlite provides a SQLite-backed implementation of the ledger and
request stores.

PURPOSE:
  Implements timeoff.Store (and therefore generic.Store) on a single SQLite
  file. This is the default backend for development and single-node
  deployments; store/postgres covers the multi-node case with the same
  semantics.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries (a trigger aborts them)
  - Corrections are new entries, never edits
  - Reset is the only DELETE and exists for demos and tests

KEY TABLES:
  employees:       Identity, role, the two materialized balances and the
                   optimistic-locking version
  ledger_entries:  Immutable record of every balance mutation
  requests:        Leave and overtime-recovery requests

VALUE ENCODING:
  Decimals are stored as TEXT to keep exact values. Timestamps are RFC 3339
  with their original offset so wall-clock hours survive a round trip;
  activity_unix duplicates activity_at for the weekly range query.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and opens immediate transactions, so
  a transaction holds the write lock from its first statement. The version
  check in UpdateBalance still guards against writers in other processes.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
  - store/postgres: Same contract over PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/logging"
	"github.com/warp/leave-ledger/timeoff"
)

// Store implements timeoff.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ timeoff.Store = (*Store)(nil)

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes
	// writers the way SQLite wants.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		hire_date TEXT,
		leave_days TEXT NOT NULL DEFAULT '0',
		overtime_hours TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_name
		ON employees(name, id);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		actor_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		activity_at TEXT,
		activity_unix INTEGER,
		raw_hours TEXT NOT NULL DEFAULT '0',
		rate_label TEXT NOT NULL DEFAULT '',
		request_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Ledger listing, newest first (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_employee
		ON ledger_entries(employee_id, seq DESC);

	-- Weekly overtime tally
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_activity
		ON ledger_entries(employee_id, kind, activity_unix)
		WHERE activity_unix IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_request
		ON ledger_entries(request_id) WHERE request_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS ledger_entries_immutable
		BEFORE UPDATE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable');
	END;

	-- Requests
	CREATE TABLE IF NOT EXISTS requests (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		nature TEXT NOT NULL DEFAULT '',
		attachment TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL DEFAULT '0',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) WithTx(ctx context.Context, fn func(tx generic.Tx) error) error {
	return s.WithRequestTx(ctx, func(tx timeoff.Tx) error { return fn(tx) })
}

// WithRequestTx runs fn in one SQLite transaction; any error rolls back
// every write fn made.
func (s *Store) WithRequestTx(ctx context.Context, fn func(tx timeoff.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Storage("begin", err)
	}
	defer func() {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.FromContext(ctx).WarnContext(ctx, "rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return generic.Storage("commit", sqlTx.Commit())
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertEmployee(ctx context.Context, e generic.Employee) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, role, hire_date, leave_days, overtime_hours, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Name, e.Email, e.Role, nullTime(e.HireDate),
		e.LeaveDays.String(), e.OvertimeHours.String(), e.Version, formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.Invalid(nil, "id", "employee %s already exists", e.ID)
	}
	return generic.Storage("insert employee", err)
}

// LockEmployee reads the row inside the immediate transaction, which already
// holds SQLite's write lock.
func (ts *txStore) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

func (ts *txStore) UpdateBalance(ctx context.Context, id generic.EmployeeID, kind generic.BalanceKind, value decimal.Decimal, expectedVersion int64) error {
	column, err := balanceColumn(kind)
	if err != nil {
		return err
	}

	res, err := ts.tx.ExecContext(ctx,
		`UPDATE employees SET `+column+` = ?, version = version + 1 WHERE id = ? AND version = ?`,
		value.String(), id, expectedVersion,
	)
	if err != nil {
		return generic.Storage("update balance", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return generic.Storage("update balance", err)
	}
	if rows == 0 {
		if _, err := getEmployee(ctx, ts.tx, id); err != nil {
			return err
		}
		return &generic.ConflictError{Resource: "employee", ID: string(id)}
	}
	return nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e generic.LedgerEntry) error {
	var activityAt sql.NullString
	var activityUnix sql.NullInt64
	if e.ActivityAt != nil {
		activityAt = sql.NullString{String: formatTime(*e.ActivityAt), Valid: true}
		activityUnix = sql.NullInt64{Int64: e.ActivityAt.Unix(), Valid: true}
	}

	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, employee_id, actor_id, kind, source, delta, balance_after, reason,
		 activity_at, activity_unix, raw_hours, rate_label, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EmployeeID, e.ActorID, e.Kind, e.Source,
		e.Delta.String(), e.BalanceAfter.String(), e.Reason,
		activityAt, activityUnix, e.RawHours.String(), e.RateLabel,
		nullString(e.RequestID), formatTime(e.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.Invalid(nil, "id", "ledger entry %s already exists", e.ID)
	}
	return generic.Storage("append entry", err)
}

func (ts *txStore) OvertimeHoursBetween(ctx context.Context, id generic.EmployeeID, from, to time.Time) (decimal.Decimal, error) {
	rows, err := ts.tx.QueryContext(ctx, `
		SELECT raw_hours FROM ledger_entries
		WHERE employee_id = ? AND kind = ?
		  AND activity_unix >= ? AND activity_unix < ?
	`, id, generic.BalanceOvertimeHours, from.Unix(), to.Unix())
	if err != nil {
		return decimal.Zero, generic.Storage("overtime tally", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, generic.Storage("overtime tally", err)
		}
		hours, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, generic.Storage("overtime tally", err)
		}
		if hours.IsPositive() {
			total = total.Add(hours)
		}
	}
	return total, generic.Storage("overtime tally", rows.Err())
}

func (ts *txStore) InsertRequest(ctx context.Context, r timeoff.Request) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO requests
		(id, employee_id, kind, status, start_at, end_at, reason, nature, attachment,
		 quantity, decided_by, decided_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.Kind, r.Status, formatTime(r.Start), formatTime(r.End),
		r.Reason, r.Nature, r.Attachment, r.Quantity.String(),
		r.DecidedBy, nullTimePtr(r.DecidedAt), formatTime(r.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.Invalid(nil, "id", "request %s already exists", r.ID)
	}
	return generic.Storage("insert request", err)
}

func (ts *txStore) LockRequest(ctx context.Context, id timeoff.RequestID) (*timeoff.Request, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) UpdateRequestStatus(ctx context.Context, id timeoff.RequestID, status timeoff.Status, decidedBy generic.EmployeeID, decidedAt time.Time) error {
	res, err := ts.tx.ExecContext(ctx,
		`UPDATE requests SET status = ?, decided_by = ?, decided_at = ? WHERE id = ?`,
		status, decidedBy, formatTime(decidedAt), id,
	)
	if err != nil {
		return generic.Storage("update request", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return generic.Storage("update request", err)
	} else if rows == 0 {
		return &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

const employeeColumns = `id, name, email, role, hire_date, leave_days, overtime_hours, version, created_at`

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, q querier, id generic.EmployeeID) (*generic.Employee, error) {
	row := q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return nil, generic.Storage("get employee", err)
	}
	return e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY name, id`)
	if err != nil {
		return nil, generic.Storage("list employees", err)
	}
	defer rows.Close()

	employees := []generic.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, generic.Storage("list employees", err)
		}
		employees = append(employees, *e)
	}
	return employees, generic.Storage("list employees", rows.Err())
}

func scanEmployee(s scanner) (*generic.Employee, error) {
	var (
		e                   generic.Employee
		hireDate            sql.NullString
		leaveDays, overtime string
		createdAt           string
	)
	if err := s.Scan(&e.ID, &e.Name, &e.Email, &e.Role, &hireDate,
		&leaveDays, &overtime, &e.Version, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if e.LeaveDays, err = decimal.NewFromString(leaveDays); err != nil {
		return nil, err
	}
	if e.OvertimeHours, err = decimal.NewFromString(overtime); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if hireDate.Valid {
		if e.HireDate, err = parseTime(hireDate.String); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

const entryColumns = `id, employee_id, actor_id, kind, source, delta, balance_after, reason,
	activity_at, raw_hours, rate_label, request_id, created_at`

func (s *Store) ListEntries(ctx context.Context, id generic.EmployeeID) ([]generic.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE employee_id = ? ORDER BY seq DESC`, id)
	if err != nil {
		return nil, generic.Storage("list entries", err)
	}
	defer rows.Close()

	entries := []generic.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, generic.Storage("list entries", err)
		}
		entries = append(entries, e)
	}
	return entries, generic.Storage("list entries", rows.Err())
}

func scanEntry(s scanner) (generic.LedgerEntry, error) {
	var (
		e                     generic.LedgerEntry
		delta, after, raw     string
		activityAt, requestID sql.NullString
		createdAt             string
	)
	if err := s.Scan(&e.ID, &e.EmployeeID, &e.ActorID, &e.Kind, &e.Source,
		&delta, &after, &e.Reason, &activityAt, &raw, &e.RateLabel, &requestID, &createdAt); err != nil {
		return e, err
	}

	var err error
	if e.Delta, err = decimal.NewFromString(delta); err != nil {
		return e, err
	}
	if e.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return e, err
	}
	if e.RawHours, err = decimal.NewFromString(raw); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if activityAt.Valid {
		t, err := parseTime(activityAt.String)
		if err != nil {
			return e, err
		}
		e.ActivityAt = &t
	}
	e.RequestID = requestID.String
	return e, nil
}

const requestColumns = `id, employee_id, kind, status, start_at, end_at, reason, nature, attachment,
	quantity, decided_by, decided_at, created_at`

func (s *Store) GetRequest(ctx context.Context, id timeoff.RequestID) (*timeoff.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q querier, id timeoff.RequestID) (*timeoff.Request, error) {
	row := q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	if err != nil {
		return nil, generic.Storage("get request", err)
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, generic.Storage("list requests", err)
	}
	defer rows.Close()

	requests := []timeoff.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, generic.Storage("list requests", err)
		}
		requests = append(requests, *r)
	}
	return requests, generic.Storage("list requests", rows.Err())
}

func scanRequest(s scanner) (*timeoff.Request, error) {
	var (
		r                     timeoff.Request
		start, end, createdAt string
		quantity              string
		decidedAt             sql.NullString
	)
	if err := s.Scan(&r.ID, &r.EmployeeID, &r.Kind, &r.Status, &start, &end,
		&r.Reason, &r.Nature, &r.Attachment, &quantity, &r.DecidedBy, &decidedAt, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if r.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if r.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t, err := parseTime(decidedAt.String)
		if err != nil {
			return nil, err
		}
		r.DecidedAt = &t
	}
	return &r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "requests", "employees"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return generic.Storage("reset "+table, err)
		}
	}
	return nil
}

func balanceColumn(kind generic.BalanceKind) (string, error) {
	switch kind {
	case generic.BalanceLeaveDays:
		return "leave_days", nil
	case generic.BalanceOvertimeHours:
		return "overtime_hours", nil
	}
	return "", generic.Invalid(nil, "kind", "unknown balance kind %q", kind)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullTime(*t)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
