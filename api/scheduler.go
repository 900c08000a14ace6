/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Periodically replays every employee's ledger and compares the sum of
  deltas with the stored balances. The auditor never writes; drift is
  logged at Error so it surfaces in alerting.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last report for GET /api/admin/audit

CONFIGURATION:
  - Interval: How often to check (AUDIT_INTERVAL, default: 1 hour)
  - Enabled: Whether scheduler is active (AUDIT_ENABLED, default: true)

USAGE:
  scheduler := NewAuditScheduler(generic.NewAuditor(store))
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAudit endpoint (manual audit)
  - generic/balance.go: Auditor
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-ledger/generic"
)

// AuditScheduler runs the ledger auditor on a ticker.
type AuditScheduler struct {
	Auditor  *generic.Auditor
	Interval time.Duration
	Enabled  bool
	Logger   *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu sync.RWMutex
	last     *generic.AuditReport
}

// NewAuditScheduler creates a scheduler with a one hour interval.
func NewAuditScheduler(auditor *generic.Auditor) *AuditScheduler {
	return &AuditScheduler{
		Auditor:  auditor,
		Interval: time.Hour,
		Enabled:  true,
	}
}

func (s *AuditScheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Start begins the scheduler. Calling Start on a running scheduler is a
// no-op.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger().Info("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger().Info("audit scheduler started", "interval", s.Interval)
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger().Info("audit scheduler stopped")
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	s.check(ctx)

	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-stop:
			return
		}
	}
}

func (s *AuditScheduler) check(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
		s.logger().Error("ledger audit failed", "error", err)
	}
}

// RunNow audits immediately, logs the outcome and keeps the report.
func (s *AuditScheduler) RunNow(ctx context.Context) (*generic.AuditReport, error) {
	report, err := s.Auditor.Run(ctx)
	if err != nil {
		return nil, err
	}

	log := s.logger()
	if report.Consistent() {
		log.Info("ledger audit completed", "employees", report.Employees)
	} else {
		for _, d := range report.Drifts {
			log.Error("ledger drift detected",
				"employee_id", d.EmployeeID,
				"kind", d.Kind,
				"stored", d.Stored.String(),
				"from_ledger", d.FromLedger.String(),
				"difference", d.Difference().String(),
			)
		}
	}

	s.reportMu.Lock()
	s.last = report
	s.reportMu.Unlock()
	return report, nil
}

// LastReport returns the most recent report, or nil.
func (s *AuditScheduler) LastReport() *generic.AuditReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.last
}
