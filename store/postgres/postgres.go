/*
Package postgres implements timeoff.Store on PostgreSQL through pgx.

CONCURRENCY:
  Rows are locked with SELECT ... FOR UPDATE inside the transaction, so two
  adjustments of one employee (or two decisions on one request) queue
  behind each other and the second one sees the first one's writes. The
  version check in UpdateBalance stays as a second line; serialization
  failures and deadlocks surface as generic.ConflictError so the ledger
  retries them.

VALUE ENCODING:
  Quantities are NUMERIC, written and read through text casts so no
  precision is lost between decimal.Decimal and the database. Request
  boundaries and overtime activity times keep their UTC offset in a
  companion column; day counting and majoration read the wall clock.
*/
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/logging"
	"github.com/warp/leave-ledger/timeoff"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

var _ timeoff.Store = (*Store)(nil)

// New connects to databaseURL and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(tx generic.Tx) error) error {
	return s.WithRequestTx(ctx, func(tx timeoff.Tx) error { return fn(tx) })
}

func (s *Store) WithRequestTx(ctx context.Context, fn func(tx timeoff.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.FromContext(ctx).WarnContext(ctx, "rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return classify("commit", tx.Commit(ctx))
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) InsertEmployee(ctx context.Context, e generic.Employee) error {
	var hireDate *time.Time
	if !e.HireDate.IsZero() {
		hireDate = &e.HireDate
	}
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO employees (id, name, email, role, hire_date, leave_days, overtime_hours, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8, $9)
	`,
		string(e.ID), e.Name, e.Email, string(e.Role), hireDate,
		e.LeaveDays.String(), e.OvertimeHours.String(), e.Version, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return generic.Invalid(nil, "id", "employee %s already exists", e.ID)
	}
	return classify("insert employee", err)
}

func (ts *txStore) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return getEmployee(ctx, ts.tx, id, " FOR UPDATE")
}

func (ts *txStore) UpdateBalance(ctx context.Context, id generic.EmployeeID, kind generic.BalanceKind, value decimal.Decimal, expectedVersion int64) error {
	column, err := balanceColumn(kind)
	if err != nil {
		return err
	}

	tag, err := ts.tx.Exec(ctx,
		`UPDATE employees SET `+column+` = $1::text::numeric, version = version + 1 WHERE id = $2 AND version = $3`,
		value.String(), string(id), expectedVersion,
	)
	if err != nil {
		return classify("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getEmployee(ctx, ts.tx, id, ""); err != nil {
			return err
		}
		return &generic.ConflictError{Resource: "employee", ID: string(id)}
	}
	return nil
}

func (ts *txStore) AppendEntry(ctx context.Context, e generic.LedgerEntry) error {
	var (
		activityAt     *time.Time
		activityOffset *int32
	)
	if e.ActivityAt != nil {
		offset := offsetOf(*e.ActivityAt)
		activityAt = e.ActivityAt
		activityOffset = &offset
	}
	var requestID *string
	if e.RequestID != "" {
		requestID = &e.RequestID
	}

	_, err := ts.tx.Exec(ctx, `
		INSERT INTO ledger_entries
		(id, employee_id, actor_id, kind, source, delta, balance_after, reason,
		 activity_at, activity_offset, raw_hours, rate_label, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8,
		        $9, $10, $11::text::numeric, $12, $13, $14)
	`,
		string(e.ID), string(e.EmployeeID), string(e.ActorID), string(e.Kind), string(e.Source),
		e.Delta.String(), e.BalanceAfter.String(), e.Reason,
		activityAt, activityOffset, e.RawHours.String(), e.RateLabel, requestID, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return generic.Invalid(nil, "id", "ledger entry %s already exists", e.ID)
	}
	return classify("append entry", err)
}

func (ts *txStore) OvertimeHoursBetween(ctx context.Context, id generic.EmployeeID, from, to time.Time) (decimal.Decimal, error) {
	var total string
	err := ts.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(raw_hours), 0)::text FROM ledger_entries
		WHERE employee_id = $1 AND kind = $2
		  AND activity_at >= $3 AND activity_at < $4
		  AND raw_hours > 0
	`, string(id), string(generic.BalanceOvertimeHours), from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, classify("overtime tally", err)
	}
	hours, err := decimal.NewFromString(total)
	return hours, generic.Storage("overtime tally", err)
}

func (ts *txStore) InsertRequest(ctx context.Context, r timeoff.Request) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO requests
		(id, employee_id, kind, status, start_at, start_offset, end_at, end_offset,
		 reason, nature, attachment, quantity, decided_by, decided_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::text::numeric, $13, $14, $15)
	`,
		string(r.ID), string(r.EmployeeID), string(r.Kind), string(r.Status),
		r.Start, offsetOf(r.Start), r.End, offsetOf(r.End),
		r.Reason, r.Nature, r.Attachment, r.Quantity.String(),
		string(r.DecidedBy), r.DecidedAt, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return generic.Invalid(nil, "id", "request %s already exists", r.ID)
	}
	return classify("insert request", err)
}

func (ts *txStore) LockRequest(ctx context.Context, id timeoff.RequestID) (*timeoff.Request, error) {
	return getRequest(ctx, ts.tx, id, " FOR UPDATE")
}

func (ts *txStore) UpdateRequestStatus(ctx context.Context, id timeoff.RequestID, status timeoff.Status, decidedBy generic.EmployeeID, decidedAt time.Time) error {
	tag, err := ts.tx.Exec(ctx,
		`UPDATE requests SET status = $1, decided_by = $2, decided_at = $3 WHERE id = $4`,
		string(status), string(decidedBy), decidedAt, string(id),
	)
	if err != nil {
		return classify("update request", err)
	}
	if tag.RowsAffected() == 0 {
		return &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

const employeeColumns = `id, name, email, role, hire_date, leave_days::text, overtime_hours::text, version, created_at`

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return getEmployee(ctx, s.pool, id, "")
}

func getEmployee(ctx context.Context, q querier, id generic.EmployeeID, lock string) (*generic.Employee, error) {
	row := q.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`+lock, string(id))
	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "employee", ID: string(id)}
	}
	if err != nil {
		return nil, classify("get employee", err)
	}
	return e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY name, id`)
	if err != nil {
		return nil, classify("list employees", err)
	}
	defer rows.Close()

	employees := []generic.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, classify("list employees", err)
		}
		employees = append(employees, *e)
	}
	return employees, classify("list employees", rows.Err())
}

func scanEmployee(s scanner) (*generic.Employee, error) {
	var (
		e                        generic.Employee
		id, role                 string
		hireDate                 *time.Time
		leaveDays, overtimeHours string
	)
	if err := s.Scan(&id, &e.Name, &e.Email, &role, &hireDate,
		&leaveDays, &overtimeHours, &e.Version, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ID = generic.EmployeeID(id)
	e.Role = generic.Role(role)
	if hireDate != nil {
		e.HireDate = *hireDate
	}

	var err error
	if e.LeaveDays, err = decimal.NewFromString(leaveDays); err != nil {
		return nil, err
	}
	if e.OvertimeHours, err = decimal.NewFromString(overtimeHours); err != nil {
		return nil, err
	}
	return &e, nil
}

const entryColumns = `id, employee_id, actor_id, kind, source, delta::text, balance_after::text, reason,
	activity_at, activity_offset, raw_hours::text, rate_label, request_id, created_at`

func (s *Store) ListEntries(ctx context.Context, id generic.EmployeeID) ([]generic.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE employee_id = $1 ORDER BY seq DESC`, string(id))
	if err != nil {
		return nil, classify("list entries", err)
	}
	defer rows.Close()

	entries := []generic.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify("list entries", err)
		}
		entries = append(entries, e)
	}
	return entries, classify("list entries", rows.Err())
}

func scanEntry(s scanner) (generic.LedgerEntry, error) {
	var (
		e                                     generic.LedgerEntry
		id, employeeID, actorID, kind, source string
		delta, after, raw                     string
		activityAt                            *time.Time
		activityOffset                        *int32
		requestID                             *string
	)
	if err := s.Scan(&id, &employeeID, &actorID, &kind, &source, &delta, &after, &e.Reason,
		&activityAt, &activityOffset, &raw, &e.RateLabel, &requestID, &e.CreatedAt); err != nil {
		return e, err
	}
	e.ID = generic.EntryID(id)
	e.EmployeeID = generic.EmployeeID(employeeID)
	e.ActorID = generic.EmployeeID(actorID)
	e.Kind = generic.BalanceKind(kind)
	e.Source = generic.EntrySource(source)
	if requestID != nil {
		e.RequestID = *requestID
	}
	if activityAt != nil {
		var offset int32
		if activityOffset != nil {
			offset = *activityOffset
		}
		local := withOffset(*activityAt, offset)
		e.ActivityAt = &local
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
	return e, nil
}

const requestColumns = `id, employee_id, kind, status, start_at, start_offset, end_at, end_offset,
	reason, nature, attachment, quantity::text, decided_by, decided_at, created_at`

func (s *Store) GetRequest(ctx context.Context, id timeoff.RequestID) (*timeoff.Request, error) {
	return getRequest(ctx, s.pool, id, "")
}

func getRequest(ctx context.Context, q querier, id timeoff.RequestID, lock string) (*timeoff.Request, error) {
	row := q.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`+lock, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "request", ID: string(id)}
	}
	if err != nil {
		return nil, classify("get request", err)
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f timeoff.RequestFilter) ([]timeoff.Request, error) {
	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		args = append(args, string(f.EmployeeID))
		where = append(where, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY seq DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list requests", err)
	}
	defer rows.Close()

	requests := []timeoff.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, classify("list requests", err)
		}
		requests = append(requests, *r)
	}
	return requests, classify("list requests", rows.Err())
}

func scanRequest(s scanner) (*timeoff.Request, error) {
	var (
		r                            timeoff.Request
		id, employeeID, kind, status string
		decidedBy, quantity          string
		startOffset, endOffset       int32
	)
	if err := s.Scan(&id, &employeeID, &kind, &status, &r.Start, &startOffset, &r.End, &endOffset,
		&r.Reason, &r.Nature, &r.Attachment, &quantity, &decidedBy, &r.DecidedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ID = timeoff.RequestID(id)
	r.EmployeeID = generic.EmployeeID(employeeID)
	r.Kind = timeoff.Kind(kind)
	r.Status = timeoff.Status(status)
	r.DecidedBy = generic.EmployeeID(decidedBy)
	r.Start = withOffset(r.Start, startOffset)
	r.End = withOffset(r.End, endOffset)

	var err error
	if r.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, err
	}
	return &r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE ledger_entries, requests, employees RESTART IDENTITY`)
	return classify("reset", err)
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

func offsetOf(t time.Time) int32 {
	_, offset := t.Zone()
	return int32(offset)
}

// withOffset restores the wall clock a timestamp was written with.
func withOffset(t time.Time, offset int32) time.Time {
	return t.In(time.FixedZone("", int(offset)))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// classify maps serialization failures and deadlocks to conflicts and
// everything else to storage errors.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return &generic.ConflictError{Resource: "transaction", ID: op}
	}
	return generic.Storage(op, err)
}
