package api

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/generic"
)

// syncBuffer lets the scheduler goroutine and the test share a log buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuditScheduler_LogsDrift(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)
	ctx := context.Background()

	// GIVEN: bob's stored balance no longer matches his ledger
	require.NoError(t, s.store.WithTx(ctx, func(tx generic.Tx) error {
		bob, err := tx.LockEmployee(ctx, "bob")
		if err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, "bob", generic.BalanceLeaveDays, dec("3"), bob.Version)
	}))

	var logs syncBuffer
	sched := s.handler.Audit
	sched.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	// WHEN: the audit runs
	report, err := sched.RunNow(ctx)
	require.NoError(t, err)

	// THEN: the drift is reported and logged
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, generic.EmployeeID("bob"), report.Drifts[0].EmployeeID)
	assertDecimal(t, "3", report.Drifts[0].Difference())
	assert.Contains(t, logs.String(), "ledger drift detected")
	assert.Same(t, report, sched.LastReport())
}

func TestAuditScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	var logs syncBuffer
	sched := NewAuditScheduler(generic.NewAuditor(s.store))
	sched.Interval = 10 * time.Millisecond
	sched.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	sched.Start()
	sched.Start() // no-op while running
	assert.Eventually(t, func() bool { return sched.LastReport() != nil }, time.Second, 5*time.Millisecond)
	sched.Stop()
	sched.Stop()

	assert.True(t, sched.LastReport().Consistent())
	assert.Contains(t, logs.String(), "audit scheduler stopped")
}

func TestAuditScheduler_Disabled(t *testing.T) {
	s := newTestServer(t)

	var logs syncBuffer
	sched := NewAuditScheduler(generic.NewAuditor(s.store))
	sched.Enabled = false
	sched.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	sched.Start()
	sched.Stop()

	assert.Nil(t, sched.LastReport())
	assert.Contains(t, logs.String(), "audit scheduler disabled")
}
