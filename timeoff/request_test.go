package timeoff_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/timeoff"
)

var paris, _ = time.LoadLocation("Europe/Paris")

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02T15:04", s, paris)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

type fixture struct {
	store    *memory.Store
	ledger   *generic.Ledger
	requests *timeoff.RequestService
}

// newFixture opens hr, alice (10 days, 5 hours) and bob (nothing).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	policy := timeoff.DefaultPolicy()
	ledger := generic.NewLedger(store, timeoff.NewOvertimeCalculator(policy.Overtime))
	requests := timeoff.NewRequestService(store, ledger,
		timeoff.NewDayCounter(timeoff.NewFrenchCalendar(), policy.Leave))
	requests.Now = func() time.Time { return at("2024-05-27T10:00") }

	ctx := context.Background()
	for _, e := range []generic.Employee{
		{ID: "hr", Name: "Hannah HR", Role: generic.RoleHR},
		{ID: "alice", Name: "Alice", LeaveDays: dec("10"), OvertimeHours: dec("5")},
		{ID: "bob", Name: "Bob"},
	} {
		_, err := ledger.OpenAccount(ctx, e, "hr")
		require.NoError(t, err)
	}
	return &fixture{store: store, ledger: ledger, requests: requests}
}

func (f *fixture) create(t *testing.T, in timeoff.NewRequest) *timeoff.Request {
	t.Helper()
	r, err := f.requests.CreateRequest(context.Background(), in)
	require.NoError(t, err)
	return r
}

func (f *fixture) balances(t *testing.T, id generic.EmployeeID) generic.Employee {
	t.Helper()
	e, err := f.store.GetEmployee(context.Background(), id)
	require.NoError(t, err)
	return *e
}

func (f *fixture) entries(t *testing.T, id generic.EmployeeID) []generic.LedgerEntry {
	t.Helper()
	entries, err := f.ledger.Entries(context.Background(), id)
	require.NoError(t, err)
	return entries
}

func paidLeave(start, end string) timeoff.NewRequest {
	return timeoff.NewRequest{EmployeeID: "alice", Kind: timeoff.KindPaidLeave, Start: at(start), End: at(end)}
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreateRequest_PaidLeaveStartsPending(t *testing.T) {
	f := newFixture(t)

	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, timeoff.StatusPending, r.Status)
	assertDecimal(t, "2", r.Quantity)
	assert.Nil(t, r.DecidedAt)

	// Creating does not touch the balance.
	assertDecimal(t, "10", f.balances(t, "alice").LeaveDays)
	assert.Len(t, f.entries(t, "alice"), 2, "opening entries only")
}

func TestCreateRequest_SickLeaveIsAcceptedImmediately(t *testing.T) {
	f := newFixture(t)

	r := f.create(t, timeoff.NewRequest{
		EmployeeID: "bob",
		Kind:       timeoff.KindSickLeave,
		Start:      at("2024-06-10T09:00"),
		End:        at("2024-06-12T18:00"),
		Attachment: "certificate.pdf",
	})

	assert.Equal(t, timeoff.StatusAccepted, r.Status)
	require.NotNil(t, r.DecidedAt)
	assert.Empty(t, f.entries(t, "bob"), "sick leave never debits")
}

func TestCreateRequest_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		in      timeoff.NewRequest
		wantErr error
	}{
		{
			name:    "weekend only",
			in:      paidLeave("2024-06-08T09:00", "2024-06-09T18:00"),
			wantErr: generic.ErrNoChargeableDays,
		},
		{
			name:    "public holiday only",
			in:      paidLeave("2024-05-01T09:00", "2024-05-01T18:00"),
			wantErr: generic.ErrNoChargeableDays,
		},
		{
			name:    "more days than the balance",
			in:      paidLeave("2024-06-03T09:00", "2024-06-17T18:00"),
			wantErr: generic.ErrInsufficientBalance,
		},
		{
			name: "more hours than the balance",
			in: timeoff.NewRequest{EmployeeID: "alice", Kind: timeoff.KindOvertimeRecovery,
				Start: at("2024-06-06T09:00"), End: at("2024-06-06T15:00")},
			wantErr: generic.ErrInsufficientBalance,
		},
		{
			name:    "end before start",
			in:      paidLeave("2024-06-04T09:00", "2024-06-03T18:00"),
			wantErr: generic.ErrInvalidPeriod,
		},
		{
			name: "specific leave without nature",
			in: timeoff.NewRequest{EmployeeID: "alice", Kind: timeoff.KindSpecificLeave,
				Start: at("2024-06-03T09:00"), End: at("2024-06-03T18:00")},
			wantErr: generic.ErrMissingField,
		},
		{
			name: "specific leave beyond the day balance",
			in: timeoff.NewRequest{EmployeeID: "bob", Kind: timeoff.KindSpecificLeave, Nature: "wedding",
				Start: at("2024-06-03T09:00"), End: at("2024-06-03T18:00")},
			wantErr: generic.ErrInsufficientBalance,
		},
		{
			name: "sick leave without attachment",
			in: timeoff.NewRequest{EmployeeID: "alice", Kind: timeoff.KindSickLeave,
				Start: at("2024-06-03T09:00"), End: at("2024-06-03T18:00")},
			wantErr: generic.ErrMissingField,
		},
		{
			name:    "unknown kind",
			in:      timeoff.NewRequest{EmployeeID: "alice", Kind: "sabbatical", Start: at("2024-06-03T09:00"), End: at("2024-06-03T18:00")},
			wantErr: generic.ErrValidation,
		},
		{
			name: "zero-length recovery",
			in: timeoff.NewRequest{EmployeeID: "alice", Kind: timeoff.KindOvertimeRecovery,
				Start: at("2024-06-06T09:00"), End: at("2024-06-06T09:00")},
			wantErr: generic.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.requests.CreateRequest(context.Background(), tt.in)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, generic.IsClientError(err))

			all, err := f.requests.ListRequests(context.Background(), timeoff.RequestFilter{})
			require.NoError(t, err)
			assert.Empty(t, all, "nothing stored")
		})
	}
}

func TestCreateRequest_UnknownEmployee(t *testing.T) {
	f := newFixture(t)

	in := paidLeave("2024-06-03T09:00", "2024-06-03T18:00")
	in.EmployeeID = "ghost"
	_, err := f.requests.CreateRequest(context.Background(), in)

	assert.True(t, generic.IsNotFound(err))
}

func TestCreateRequest_InsufficientBalanceCarriesAmounts(t *testing.T) {
	f := newFixture(t)

	_, err := f.requests.CreateRequest(context.Background(), timeoff.NewRequest{
		EmployeeID: "alice",
		Kind:       timeoff.KindOvertimeRecovery,
		Start:      at("2024-06-06T09:00"),
		End:        at("2024-06-06T15:30"),
	})

	var ib *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, generic.BalanceOvertimeHours, ib.Kind)
	assertDecimal(t, "5", ib.Available)
	assertDecimal(t, "6.5", ib.Requested)
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestDecide_AcceptDebitsLedgerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	// WHEN
	out, err := f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")

	// THEN
	require.NoError(t, err)
	assert.False(t, out.Repeat)
	assert.Equal(t, timeoff.StatusAccepted, out.Request.Status)
	assert.Equal(t, generic.EmployeeID("hr"), out.Request.DecidedBy)
	require.NotNil(t, out.Entry)
	assertDecimal(t, "-2", out.Entry.Delta)
	assertDecimal(t, "8", out.Entry.BalanceAfter)

	assertDecimal(t, "8", f.balances(t, "alice").LeaveDays)

	latest := f.entries(t, "alice")[0]
	assert.Equal(t, generic.SourceRequest, latest.Source)
	assert.Equal(t, string(r.ID), latest.RequestID)
	assert.Equal(t, generic.EmployeeID("hr"), latest.ActorID)

	stored, err := f.requests.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusAccepted, stored.Status)
}

func TestDecide_RepeatedAcceptanceIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	_, err := f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)

	again, err := f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)
	assert.True(t, again.Repeat)
	assert.Nil(t, again.Entry)

	assertDecimal(t, "8", f.balances(t, "alice").LeaveDays)
	assert.Len(t, f.entries(t, "alice"), 3, "two openings and a single debit")
}

func TestDecide_ConcurrentAcceptancesDebitOnce(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.requests.Decide(context.Background(), r.ID, timeoff.StatusAccepted, "hr")
			if !assert.NoError(t, err) {
				return
			}
			if !out.Repeat {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assertDecimal(t, "8", f.balances(t, "alice").LeaveDays)
}

func TestDecide_RejectionIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	out, err := f.requests.Decide(ctx, r.ID, timeoff.StatusRejected, "hr")
	require.NoError(t, err)
	assert.Nil(t, out.Entry)

	_, err = f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	assertDecimal(t, "10", f.balances(t, "alice").LeaveDays)
}

func TestDecide_SickLeaveCannotBeRejected(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, timeoff.NewRequest{
		EmployeeID: "alice", Kind: timeoff.KindSickLeave, Attachment: "note.pdf",
		Start: at("2024-06-10T09:00"), End: at("2024-06-10T18:00"),
	})

	_, err := f.requests.Decide(context.Background(), r.ID, timeoff.StatusRejected, "hr")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestDecide_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	_, err := f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "alice")
	assert.ErrorIs(t, err, generic.ErrUnauthorized, "requester cannot self-approve")

	_, err = f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "bob")
	assert.ErrorIs(t, err, generic.ErrUnauthorized)

	_, err = f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "ghost")
	assert.True(t, generic.IsNotFound(err))

	_, err = f.requests.Decide(ctx, r.ID, timeoff.StatusPending, "hr")
	assert.True(t, generic.IsClientError(err))

	_, err = f.requests.Decide(ctx, "missing", timeoff.StatusAccepted, "hr")
	assert.True(t, generic.IsNotFound(err))

	stored, err := f.requests.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, stored.Status)
}

func TestDecide_AcceptanceCannotOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: two pending requests that each fit, but not together
	first := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-10T18:00"))
	second := f.create(t, paidLeave("2024-06-17T09:00", "2024-06-24T18:00"))
	assertDecimal(t, "6", first.Quantity)
	assertDecimal(t, "6", second.Quantity)

	// WHEN
	_, err := f.requests.Decide(ctx, first.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)
	_, err = f.requests.Decide(ctx, second.ID, timeoff.StatusAccepted, "hr")

	// THEN
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assertDecimal(t, "4", f.balances(t, "alice").LeaveDays)

	stored, err := f.requests.GetRequest(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, stored.Status, "still decidable")
}

func TestDecide_OvertimeRecoveryDebitsRawHours(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, timeoff.NewRequest{
		EmployeeID: "alice",
		Kind:       timeoff.KindOvertimeRecovery,
		Start:      at("2024-06-06T14:00"),
		End:        at("2024-06-06T16:30"),
	})
	assertDecimal(t, "2.5", r.Quantity)

	out, err := f.requests.Decide(context.Background(), r.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)

	assertDecimal(t, "-2.5", out.Entry.Delta)
	assert.Empty(t, out.Entry.RateLabel)
	assertDecimal(t, "2.5", f.balances(t, "alice").OvertimeHours)
	assertDecimal(t, "10", f.balances(t, "alice").LeaveDays)
}

func TestDecide_OvertimeRecoveryDebitsExactDuration(t *testing.T) {
	// GIVEN: carol holds exactly one hour of overtime
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.OpenAccount(ctx, generic.Employee{ID: "carol", Name: "Carol", OvertimeHours: dec("1")}, "hr")
	require.NoError(t, err)

	// WHEN: three 20-minute recoveries are accepted
	debited := decimal.Zero
	for _, start := range []string{"2024-06-03T16:00", "2024-06-04T16:00", "2024-06-05T16:00"} {
		r := f.create(t, timeoff.NewRequest{
			EmployeeID: "carol",
			Kind:       timeoff.KindOvertimeRecovery,
			Start:      at(start),
			End:        at(start).Add(20 * time.Minute),
		})
		out, err := f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")
		require.NoError(t, err)
		assert.True(t, out.Entry.Delta.Equal(r.Quantity.Neg()), "debit matches the quote")
		debited = debited.Sub(out.Entry.Delta)
	}

	// THEN: each debit is a third of an hour, and the total reads as one hour
	assertDecimal(t, "0.9999999999999999", debited)
	assert.Equal(t, "1h", timeoff.FormatHours(debited))
	carol := f.balances(t, "carol")
	assertDecimal(t, "0.0000000000000001", carol.OvertimeHours)
	assert.Equal(t, "0h", timeoff.FormatHours(carol.OvertimeHours))

	// AND: a recovery with seconds is debited to the second
	r := f.create(t, timeoff.NewRequest{
		EmployeeID: "alice",
		Kind:       timeoff.KindOvertimeRecovery,
		Start:      at("2024-06-06T14:00"),
		End:        at("2024-06-06T14:00").Add(45 * time.Second),
	})
	assertDecimal(t, "0.0125", r.Quantity)
}

func TestDecide_SpecificLeaveIsNotDebited(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, timeoff.NewRequest{
		EmployeeID: "alice",
		Kind:       timeoff.KindSpecificLeave,
		Nature:     "wedding",
		Start:      at("2024-06-03T09:00"),
		End:        at("2024-06-05T18:00"),
	})

	out, err := f.requests.Decide(context.Background(), r.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)

	assert.Nil(t, out.Entry)
	assertDecimal(t, "10", f.balances(t, "alice").LeaveDays)
}

func TestDecide_FailedStatusWriteRollsBackDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	// GIVEN: the status update fails after the debit was written
	f.store.FailNext("update_request_status", errors.New("connection lost"))

	// WHEN
	_, err := f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")

	// THEN: neither the debit nor the status survived
	require.Error(t, err)
	assertDecimal(t, "10", f.balances(t, "alice").LeaveDays)
	assert.Len(t, f.entries(t, "alice"), 2)

	stored, err := f.requests.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, timeoff.StatusPending, stored.Status)

	// and a retry goes through
	_, err = f.requests.Decide(ctx, r.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)
	assertDecimal(t, "8", f.balances(t, "alice").LeaveDays)
}

func TestDecide_RetriesBalanceConflict(t *testing.T) {
	f := newFixture(t)
	r := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))

	f.store.FailNext("update_balance", &generic.ConflictError{Resource: "employee", ID: "alice"})

	out, err := f.requests.Decide(context.Background(), r.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)
	require.NotNil(t, out.Entry)
	assert.Len(t, f.entries(t, "alice"), 3)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestListRequests_FiltersNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-03T18:00"))
	newer := f.create(t, paidLeave("2024-06-05T09:00", "2024-06-05T18:00"))
	f.create(t, timeoff.NewRequest{
		EmployeeID: "bob", Kind: timeoff.KindSickLeave, Attachment: "note.pdf",
		Start: at("2024-06-03T09:00"), End: at("2024-06-03T18:00"),
	})

	pending, err := f.requests.ListRequests(ctx, timeoff.RequestFilter{Status: timeoff.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, newer.ID, pending[0].ID)
	assert.Equal(t, older.ID, pending[1].ID)

	bobs, err := f.requests.ListRequests(ctx, timeoff.RequestFilter{EmployeeID: "bob"})
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	leave := f.create(t, paidLeave("2024-06-03T09:00", "2024-06-04T18:00"))
	f.create(t, paidLeave("2024-06-06T09:00", "2024-06-06T18:00")) // stays pending
	f.create(t, timeoff.NewRequest{
		EmployeeID: "alice", Kind: timeoff.KindSickLeave, Attachment: "note.pdf",
		Start: at("2024-06-04T09:00"), End: at("2024-06-04T18:00"),
	})
	_, err := f.requests.Decide(ctx, leave.ID, timeoff.StatusAccepted, "hr")
	require.NoError(t, err)

	tests := []struct {
		at   string
		want timeoff.Presence
	}{
		{"2024-06-03T12:00", timeoff.PresenceOnLeave},
		{"2024-06-04T12:00", timeoff.PresenceSick},
		{"2024-06-05T12:00", timeoff.PresenceAtWork},
		{"2024-06-06T12:00", timeoff.PresenceAtWork},
	}
	for _, tt := range tests {
		got, err := f.requests.Presence(ctx, "alice", at(tt.at))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.at)
	}

	_, err = f.requests.Presence(ctx, "ghost", at("2024-06-03T12:00"))
	assert.True(t, generic.IsNotFound(err))
}
