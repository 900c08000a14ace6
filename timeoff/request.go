package timeoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/logging"
)

// =============================================================================
// STORE - Request rows share the ledger transaction
// =============================================================================

// Store extends the ledger store with request persistence. A request status
// change and its ledger debit commit in the same WithRequestTx.
type Store interface {
	generic.Store
	WithRequestTx(ctx context.Context, fn func(tx Tx) error) error

	// GetRequest returns a NotFoundError for unknown ids.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)

	// ListRequests returns matching requests, newest first.
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)
}

type Tx interface {
	generic.Tx
	InsertRequest(ctx context.Context, r Request) error
	LockRequest(ctx context.Context, id RequestID) (*Request, error)
	UpdateRequestStatus(ctx context.Context, id RequestID, status Status, decidedBy generic.EmployeeID, decidedAt time.Time) error
}

// =============================================================================
// REQUEST SERVICE - Handles request lifecycle with transactional guarantees
// =============================================================================

type RequestService struct {
	Store  Store
	Ledger *generic.Ledger
	Days   DayCounter
	Now    func() time.Time
	NewID  func() RequestID
}

func NewRequestService(store Store, ledger *generic.Ledger, days DayCounter) *RequestService {
	return &RequestService{
		Store:  store,
		Ledger: ledger,
		Days:   days,
		Now:    time.Now,
		NewID:  func() RequestID { return RequestID(uuid.NewString()) },
	}
}

// NewRequest is what an employee submits.
type NewRequest struct {
	EmployeeID generic.EmployeeID
	Kind       Kind
	Start      time.Time
	End        time.Time
	Reason     string
	Nature     string
	Attachment string
}

func (in NewRequest) validate() error {
	if in.EmployeeID == "" {
		return generic.Invalid(generic.ErrMissingField, "employee_id", "employee is required")
	}
	if !in.Kind.Valid() {
		return generic.Invalid(nil, "kind", "unknown request kind %q", in.Kind)
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return generic.Invalid(generic.ErrMissingField, "period", "start and end are required")
	}
	if in.End.Before(in.Start) {
		return generic.Invalid(generic.ErrInvalidPeriod, "end", "ends at %s, before its start %s",
			in.End.Format(time.RFC3339), in.Start.Format(time.RFC3339))
	}
	if in.Kind == KindSpecificLeave && strings.TrimSpace(in.Nature) == "" {
		return generic.Invalid(generic.ErrMissingField, "nature", "specific leave needs a nature")
	}
	if in.Kind == KindSickLeave && strings.TrimSpace(in.Attachment) == "" {
		return generic.Invalid(generic.ErrMissingField, "attachment", "sick leave needs a supporting document")
	}
	return nil
}

// Quote returns what a period costs: hours for overtime recovery, chargeable
// days otherwise.
func (rs *RequestService) Quote(kind Kind, start, end time.Time) decimal.Decimal {
	if kind == KindOvertimeRecovery {
		if end.Before(start) {
			return decimal.Zero
		}
		return generic.HoursBetween(start, end)
	}
	return rs.Days.ChargeableDays(start, end)
}

// CreateRequest validates and stores a request. Sick leave is accepted on
// creation; everything else starts pending. Affordability is checked against
// the balance at this moment and checked again on acceptance.
func (rs *RequestService) CreateRequest(ctx context.Context, in NewRequest) (*Request, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	emp, err := rs.Store.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}

	quantity := rs.Quote(in.Kind, in.Start, in.End)
	if err := checkAffordable(*emp, in, quantity); err != nil {
		return nil, err
	}

	now := rs.now()
	r := Request{
		ID:         rs.NewID(),
		EmployeeID: emp.ID,
		Kind:       in.Kind,
		Status:     StatusPending,
		Start:      in.Start,
		End:        in.End,
		CreatedAt:  now,
		Reason:     strings.TrimSpace(in.Reason),
		Nature:     strings.TrimSpace(in.Nature),
		Attachment: strings.TrimSpace(in.Attachment),
		Quantity:   quantity,
	}
	if in.Kind == KindSickLeave {
		r.Status = StatusAccepted
		r.DecidedAt = &now
	}

	err = rs.Store.WithRequestTx(ctx, func(tx Tx) error {
		return tx.InsertRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).InfoContext(ctx, "request created",
		"request_id", r.ID,
		"employee_id", r.EmployeeID,
		"kind", r.Kind,
		"status", r.Status,
		"quantity", r.Quantity.String(),
	)
	return &r, nil
}

func checkAffordable(emp generic.Employee, in NewRequest, quantity decimal.Decimal) error {
	balance, ok := in.Kind.Balance()
	if !ok {
		return nil
	}
	if quantity.IsZero() {
		if balance == generic.BalanceLeaveDays {
			return generic.Invalid(generic.ErrNoChargeableDays, "period",
				"period contains no working day (%s to %s)",
				generic.DateOf(in.Start), generic.DateOf(in.End))
		}
		return generic.Invalid(nil, "period", "requested duration is zero")
	}
	if available := emp.Balance(balance); quantity.GreaterThan(available) {
		return &generic.InsufficientBalanceError{
			EmployeeID: emp.ID,
			Kind:       balance,
			Available:  available,
			Requested:  quantity,
		}
	}
	return nil
}

// =============================================================================
// DECIDE - The critical transactional operation
// =============================================================================

// Outcome reports a decision.
type Outcome struct {
	Request Request
	Entry   *generic.LedgerEntry // debit written by this call, if any
	Repeat  bool                 // request already carried this decision
}

// Decide moves a pending request to accepted or rejected.
//
// Acceptance of paid leave or overtime recovery debits the ledger in the
// same transaction as the status change, refusing to take the balance below
// zero. Repeating the decision a request already carries is a no-op; a
// different decision on a decided request is an invalid transition.
func (rs *RequestService) Decide(ctx context.Context, id RequestID, decision Status, actorID generic.EmployeeID) (*Outcome, error) {
	if !decision.Terminal() {
		return nil, generic.Invalid(nil, "decision", "must be %q or %q, got %q", StatusAccepted, StatusRejected, decision)
	}
	if actorID == "" {
		return nil, generic.Invalid(generic.ErrMissingField, "actor_id", "acting employee is required")
	}
	actor, err := rs.Store.GetEmployee(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanManage() {
		return nil, generic.Invalid(generic.ErrUnauthorized, "actor_id", "%s may not decide requests", actor.ID)
	}

	var out *Outcome
	err = generic.RetryConflicts(ctx, rs.maxAttempts(), func() error {
		out = nil
		return rs.Store.WithRequestTx(ctx, func(tx Tx) error {
			o, err := rs.decide(ctx, tx, id, decision, actor.ID)
			out = o
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	if out.Repeat {
		log.InfoContext(ctx, "decision already recorded", "request_id", id, "status", out.Request.Status)
		return out, nil
	}
	attrs := []any{"request_id", id, "status", decision, "actor_id", actor.ID}
	if out.Entry != nil {
		attrs = append(attrs, "delta", out.Entry.Delta.String(), "balance", out.Entry.BalanceAfter.String())
	}
	log.InfoContext(ctx, "request decided", attrs...)
	return out, nil
}

func (rs *RequestService) decide(ctx context.Context, tx Tx, id RequestID, decision Status, actor generic.EmployeeID) (*Outcome, error) {
	req, err := tx.LockRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	// Stored status guards against double acceptance.
	if req.Status.Terminal() {
		if req.Status == decision {
			return &Outcome{Request: *req, Repeat: true}, nil
		}
		return nil, generic.Invalid(generic.ErrInvalidTransition, "decision",
			"request %s is already %s", req.ID, req.Status)
	}

	out := &Outcome{}
	if decision == StatusAccepted && req.Kind.Debited() {
		entry, err := rs.debit(ctx, tx, *req, actor)
		if err != nil {
			return nil, err
		}
		out.Entry = entry
	}

	now := rs.now()
	if err := tx.UpdateRequestStatus(ctx, req.ID, decision, actor, now); err != nil {
		return nil, err
	}
	req.Status = decision
	req.DecidedBy = actor
	req.DecidedAt = &now
	out.Request = *req
	return out, nil
}

func (rs *RequestService) debit(ctx context.Context, tx Tx, req Request, actor generic.EmployeeID) (*generic.LedgerEntry, error) {
	balance, _ := req.Kind.Balance()
	cost := rs.Quote(req.Kind, req.Start, req.End)
	if cost.IsZero() {
		return nil, nil
	}
	res, err := rs.Ledger.Apply(ctx, tx, generic.Adjustment{
		Target:       req.EmployeeID,
		Actor:        actor,
		Kind:         balance,
		Source:       generic.SourceRequest,
		Variation:    cost.Neg(),
		Reason:       fmt.Sprintf("%s %s to %s", req.Kind, req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339)),
		RequestID:    string(req.ID),
		RequireCover: true,
	})
	if err != nil {
		return nil, err
	}
	return &res.Entry, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (rs *RequestService) GetRequest(ctx context.Context, id RequestID) (*Request, error) {
	return rs.Store.GetRequest(ctx, id)
}

func (rs *RequestService) ListRequests(ctx context.Context, f RequestFilter) ([]Request, error) {
	return rs.Store.ListRequests(ctx, f)
}

// Presence reports the employee's presence at the given instant.
func (rs *RequestService) Presence(ctx context.Context, id generic.EmployeeID, at time.Time) (Presence, error) {
	if _, err := rs.Store.GetEmployee(ctx, id); err != nil {
		return "", err
	}
	accepted, err := rs.Store.ListRequests(ctx, RequestFilter{EmployeeID: id, Status: StatusAccepted})
	if err != nil {
		return "", err
	}
	return PresenceAt(accepted, at), nil
}

func (rs *RequestService) now() time.Time {
	if rs.Now == nil {
		return time.Now()
	}
	return rs.Now()
}

func (rs *RequestService) maxAttempts() int {
	if rs.Ledger != nil && rs.Ledger.MaxAttempts > 0 {
		return rs.Ledger.MaxAttempts
	}
	return 3
}
