package generic_test

import (
	"context"
	"errors"
	"fmt"
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

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

type fixture struct {
	store  *memory.Store
	ledger *generic.Ledger
}

// newFixture opens hr, alice and bob. Alice starts with 10 days and no hours.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledger := generic.NewLedger(store, timeoff.NewOvertimeCalculator(timeoff.DefaultOvertimePolicy()))
	ledger.Now = func() time.Time { return at("2024-06-10T08:00") }

	ctx := context.Background()
	for _, e := range []generic.Employee{
		{ID: "hr", Name: "Hannah HR", Role: generic.RoleHR},
		{ID: "alice", Name: "Alice", Role: generic.RoleEmployee, LeaveDays: dec("10")},
		{ID: "bob", Name: "Bob", Role: generic.RoleEmployee},
	} {
		_, err := ledger.OpenAccount(ctx, e, "hr")
		require.NoError(t, err)
	}
	return &fixture{store: store, ledger: ledger}
}

func (f *fixture) employee(t *testing.T, id generic.EmployeeID) generic.Employee {
	t.Helper()
	e, err := f.store.GetEmployee(context.Background(), id)
	require.NoError(t, err)
	return *e
}

func (f *fixture) creditOvertime(t *testing.T, raw string, activity string) *generic.Result {
	t.Helper()
	res, err := f.ledger.ApplyAdjustment(context.Background(), generic.Adjustment{
		Target:     "alice",
		Actor:      "alice",
		Kind:       generic.BalanceOvertimeHours,
		Variation:  dec(raw),
		Reason:     "inventory",
		ActivityAt: ptr(at(activity)),
	})
	require.NoError(t, err)
	return res
}

// =============================================================================
// LEAVE DAYS
// =============================================================================

func TestApplyAdjustment_LeaveDaysAppliedAsGiven(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// WHEN: HR removes one and a half days
	res, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{
		Target:    "alice",
		Actor:     "hr",
		Kind:      generic.BalanceLeaveDays,
		Variation: dec("-1.5"),
		Reason:    "correction",
	})
	require.NoError(t, err)

	// THEN: the delta is applied raw and recorded once
	assertDecimal(t, "-1.5", res.AppliedDelta)
	assertDecimal(t, "8.5", res.NewBalance)
	assertDecimal(t, "8.5", f.employee(t, "alice").LeaveDays)

	entries, err := f.ledger.Entries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 2, "opening + correction")

	latest := entries[0]
	assert.Equal(t, generic.EmployeeID("alice"), latest.EmployeeID)
	assert.Equal(t, generic.EmployeeID("hr"), latest.ActorID)
	assert.Equal(t, generic.BalanceLeaveDays, latest.Kind)
	assert.Equal(t, generic.SourceManual, latest.Source)
	assert.Equal(t, "correction", latest.Reason)
	assertDecimal(t, "-1.5", latest.Delta)
	assertDecimal(t, "8.5", latest.BalanceAfter)
	assert.Nil(t, latest.ActivityAt)
	assert.True(t, latest.RawHours.IsZero())

	assert.Equal(t, generic.SourceOpening, entries[1].Source, "newest first")
}

func TestApplyAdjustment_NoFloorOnManualAdjustments(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.ApplyAdjustment(context.Background(), generic.Adjustment{
		Target: "alice", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: dec("-12"),
	})
	require.NoError(t, err)
	assertDecimal(t, "-2", res.NewBalance)
}

// =============================================================================
// OVERTIME HOURS
// =============================================================================

func TestApplyAdjustment_OvertimeCreditIsMajorated(t *testing.T) {
	f := newFixture(t)

	// GIVEN/WHEN: three weekday credits in the same ISO week
	first := f.creditOvertime(t, "3", "2024-06-03T18:00")  // tally 0 -> under
	second := f.creditOvertime(t, "7", "2024-06-04T17:00") // tally 3 -> 5 under, 2 over
	third := f.creditOvertime(t, "1", "2024-06-05T18:00")  // tally 10 -> over

	// THEN
	assertDecimal(t, "3.75", first.AppliedDelta)
	assertDecimal(t, "9.25", second.AppliedDelta)
	assertDecimal(t, "1.5", third.AppliedDelta)
	assertDecimal(t, "14.5", third.NewBalance)

	assert.Equal(t, "Under threshold (25%)", first.Entry.RateLabel)
	assert.Equal(t, "Mixed (25% / 50%)", second.Entry.RateLabel)
	assert.Equal(t, "Beyond threshold (50%)", third.Entry.RateLabel)

	assertDecimal(t, "7", second.Entry.RawHours)
	require.NotNil(t, second.Entry.ActivityAt)
	assert.True(t, at("2024-06-04T17:00").Equal(*second.Entry.ActivityAt))
}

func TestApplyAdjustment_WeeklyTallyResetsOnMonday(t *testing.T) {
	f := newFixture(t)

	f.creditOvertime(t, "8", "2024-06-07T09:00") // Friday, fills the week
	res := f.creditOvertime(t, "2", "2024-06-10T09:00")

	assertDecimal(t, "2.5", res.AppliedDelta, "new week starts under threshold")
}

func TestApplyAdjustment_SundayAndNightCreditsCountTowardTally(t *testing.T) {
	f := newFixture(t)

	sunday := f.creditOvertime(t, "6", "2024-06-02T10:00") // Sunday, closes week of May 27
	night := f.creditOvertime(t, "6", "2024-06-03T22:00")  // Monday night, new week
	day := f.creditOvertime(t, "3", "2024-06-04T09:00")    // tally 6 -> 2 under, 1 over

	assertDecimal(t, "12", sunday.AppliedDelta)
	assert.Contains(t, sunday.Entry.RateLabel, "100%")
	assertDecimal(t, "12", night.AppliedDelta)
	assertDecimal(t, "4", day.AppliedDelta)
}

func TestApplyAdjustment_DebitIsNotInverseOfCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: 7 raw hours already this week, then a straddling 2h credit
	f.creditOvertime(t, "7", "2024-06-03T09:00")
	before := f.employee(t, "alice").OvertimeHours
	credit := f.creditOvertime(t, "2", "2024-06-04T09:00")
	assertDecimal(t, "2.75", credit.AppliedDelta)

	// WHEN: two hours are debited
	debit, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{
		Target: "alice", Actor: "hr", Kind: generic.BalanceOvertimeHours, Variation: dec("-2"),
	})
	require.NoError(t, err)

	// THEN: the debit is raw and the balance keeps the majoration
	assertDecimal(t, "-2", debit.AppliedDelta)
	assert.True(t, before.Add(dec("0.75")).Equal(debit.NewBalance), "balance %s", debit.NewBalance)
	assert.Empty(t, debit.Entry.RateLabel)
	assert.Nil(t, debit.Entry.ActivityAt)
}

func TestApplyAdjustment_DebitsDoNotCountTowardTally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.creditOvertime(t, "4", "2024-06-03T09:00")
	_, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{
		Target: "alice", Actor: "hr", Kind: generic.BalanceOvertimeHours, Variation: dec("-4"),
	})
	require.NoError(t, err)

	res := f.creditOvertime(t, "4", "2024-06-04T09:00")
	assertDecimal(t, "5", res.AppliedDelta, "tally is 4, so 4 more stays under 8")
}

// =============================================================================
// VALIDATION AND AUTHORIZATION
// =============================================================================

func TestApplyAdjustment_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		adj     generic.Adjustment
		wantErr error
		field   string
	}{
		{
			name:    "overtime credit without reason",
			adj:     generic.Adjustment{Target: "alice", Actor: "alice", Kind: generic.BalanceOvertimeHours, Variation: dec("2"), ActivityAt: ptr(at("2024-06-04T09:00"))},
			wantErr: generic.ErrMissingField,
			field:   "reason",
		},
		{
			name:    "overtime credit without activity time",
			adj:     generic.Adjustment{Target: "alice", Actor: "alice", Kind: generic.BalanceOvertimeHours, Variation: dec("2"), Reason: "stocktake"},
			wantErr: generic.ErrMissingField,
			field:   "activity_at",
		},
		{
			name:    "blank reason",
			adj:     generic.Adjustment{Target: "alice", Actor: "alice", Kind: generic.BalanceOvertimeHours, Variation: dec("2"), Reason: "   ", ActivityAt: ptr(at("2024-06-04T09:00"))},
			wantErr: generic.ErrMissingField,
			field:   "reason",
		},
		{
			name:    "zero variation",
			adj:     generic.Adjustment{Target: "alice", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: decimal.Zero},
			wantErr: generic.ErrValidation,
			field:   "variation",
		},
		{
			name:    "unknown kind",
			adj:     generic.Adjustment{Target: "alice", Actor: "hr", Kind: "points", Variation: dec("1")},
			wantErr: generic.ErrValidation,
			field:   "kind",
		},
		{
			name:    "colleague adjusting someone else",
			adj:     generic.Adjustment{Target: "alice", Actor: "bob", Kind: generic.BalanceLeaveDays, Variation: dec("1")},
			wantErr: generic.ErrUnauthorized,
			field:   "actor_id",
		},
		{
			name:    "missing actor",
			adj:     generic.Adjustment{Target: "alice", Kind: generic.BalanceLeaveDays, Variation: dec("1")},
			wantErr: generic.ErrMissingField,
			field:   "actor_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.ApplyAdjustment(context.Background(), tt.adj)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, generic.IsClientError(err))

			var ve *generic.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	assertDecimal(t, "10", f.employee(t, "alice").LeaveDays, "nothing applied")
}

func TestApplyAdjustment_OvertimeDebitNeedsNoReason(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.ApplyAdjustment(context.Background(), generic.Adjustment{
		Target: "alice", Actor: "alice", Kind: generic.BalanceOvertimeHours, Variation: dec("-1"),
	})
	require.NoError(t, err)
	assertDecimal(t, "-1", res.NewBalance)
}

func TestApplyAdjustment_SelfAndManagersAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{Target: "bob", Actor: "bob", Kind: generic.BalanceLeaveDays, Variation: dec("1")})
	assert.NoError(t, err)

	_, err = f.ledger.ApplyAdjustment(ctx, generic.Adjustment{Target: "bob", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: dec("1")})
	assert.NoError(t, err)
}

func TestApplyAdjustment_UnknownEmployees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{Target: "alice", Actor: "ghost", Kind: generic.BalanceLeaveDays, Variation: dec("1")})
	assert.True(t, generic.IsNotFound(err))

	_, err = f.ledger.ApplyAdjustment(ctx, generic.Adjustment{Target: "ghost", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: dec("1")})
	assert.True(t, generic.IsNotFound(err))

	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "employee", nf.Kind)
	assert.Equal(t, "ghost", nf.ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestApplyAdjustment_StorageFailureLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// GIVEN: the ledger append will fail after the balance write
	f.store.FailNext("append_entry", errors.New("disk full"))

	// WHEN
	_, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{
		Target: "alice", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: dec("2"),
	})

	// THEN: the balance write was rolled back with it
	require.Error(t, err)
	alice := f.employee(t, "alice")
	assertDecimal(t, "10", alice.LeaveDays)

	entries, err := f.ledger.Entries(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApplyAdjustment_RetriesConflicts(t *testing.T) {
	f := newFixture(t)

	f.store.FailNext("update_balance", &generic.ConflictError{Resource: "employee", ID: "alice"})

	res, err := f.ledger.ApplyAdjustment(context.Background(), generic.Adjustment{
		Target: "alice", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: dec("1"),
	})
	require.NoError(t, err)
	assertDecimal(t, "11", res.NewBalance)
}

func TestApplyAdjustment_ConflictSurfacesWhenRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	f.ledger.MaxAttempts = 1

	f.store.FailNext("update_balance", &generic.ConflictError{Resource: "employee", ID: "alice"})

	_, err := f.ledger.ApplyAdjustment(context.Background(), generic.Adjustment{
		Target: "alice", Actor: "hr", Kind: generic.BalanceLeaveDays, Variation: dec("1"),
	})
	assert.True(t, generic.IsRetryable(err))
	assertDecimal(t, "10", f.employee(t, "alice").LeaveDays)
}

func TestApplyAdjustment_ConcurrentCreditsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.ApplyAdjustment(ctx, generic.Adjustment{
				Target:    "bob",
				Actor:     "hr",
				Kind:      generic.BalanceLeaveDays,
				Variation: dec("0.5"),
				Reason:    fmt.Sprintf("grant %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assertDecimal(t, "10", f.employee(t, "bob").LeaveDays)
	entries, err := f.ledger.Entries(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestApplyAdjustment_ConcurrentOvertimeCreditsShareOneTally(t *testing.T) {
	f := newFixture(t)

	// Four concurrent 3h credits in one week: 24 raw hours before the
	// threshold is read, so exactly 8 hours can be credited at 25%.
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.ApplyAdjustment(context.Background(), generic.Adjustment{
				Target:     "alice",
				Actor:      "alice",
				Kind:       generic.BalanceOvertimeHours,
				Variation:  dec("3"),
				Reason:     "stocktake",
				ActivityAt: ptr(at("2024-06-04T09:00")),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 8h x 1.25 + 4h x 1.5
	assertDecimal(t, "16", f.employee(t, "alice").OvertimeHours)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestOpenAccount_RecordsOpeningEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	emp, err := f.ledger.OpenAccount(ctx, generic.Employee{
		Name:          "Carol",
		LeaveDays:     dec("25"),
		OvertimeHours: dec("10"),
	}, "hr")
	require.NoError(t, err)

	assert.NotEmpty(t, emp.ID)
	assert.Equal(t, generic.RoleEmployee, emp.Role)
	assertDecimal(t, "25", emp.LeaveDays)
	assertDecimal(t, "10", emp.OvertimeHours, "opening hours are not majorated")

	entries, err := f.ledger.Entries(ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, generic.SourceOpening, e.Source)
		assert.Equal(t, generic.EmployeeID("hr"), e.ActorID)
	}
}

func TestOpenAccount_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.OpenAccount(ctx, generic.Employee{Name: " "}, "hr")
	assert.ErrorIs(t, err, generic.ErrMissingField)

	_, err = f.ledger.OpenAccount(ctx, generic.Employee{Name: "Dan", Role: "boss"}, "hr")
	assert.True(t, generic.IsClientError(err))

	_, err = f.ledger.OpenAccount(ctx, generic.Employee{ID: "alice", Name: "Alice again"}, "hr")
	assert.True(t, generic.IsClientError(err), "duplicate id")
}
