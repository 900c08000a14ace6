/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos of the front-end. Every write goes through the ledger and
	the request service, so the audit stays consistent after a load.

AVAILABLE SCENARIOS:

	small-team:     HR manager and three employees with balances, pending
	                and decided requests, one employee off sick today
	overtime-week:  One employee's overtime over last week, showing every
	                majoration tier, then a recovery request

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Open accounts with opening balances
 3. Apply adjustments and submit requests relative to today
 4. Decide some requests as the HR manager

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "small-team"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Request and ledger handlers the scenarios exercise
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/logging"
	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-team",
		Name:        "Small Team",
		Description: "HR manager and three employees with pending, accepted and sick-leave requests",
	},
	{
		ID:          "overtime-week",
		Name:        "Overtime Week",
		Description: "Last week's overtime across every majoration tier, then a recovery request",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if !requireManager(w, r) {
		return
	}

	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.loadScenario(ctx, req.ScenarioID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	logging.FromContext(ctx).InfoContext(ctx, "scenario loaded", "scenario_id", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
	})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "small-team":
		load = h.loadSmallTeamScenario
	case "overtime-week":
		load = h.loadOvertimeWeekScenario
	default:
		return generic.Invalid(nil, "scenario_id", "unknown scenario %q", id)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.setScenario("")
	if err := load(ctx); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.setScenario(id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const scenarioHR generic.EmployeeID = "hr-hannah"

func (h *Handler) openAccounts(ctx context.Context, employees ...generic.Employee) error {
	for _, e := range employees {
		if _, err := h.Ledger.OpenAccount(ctx, e, scenarioHR); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSmallTeamScenario(ctx context.Context) error {
	today := generic.DateOf(h.now())
	hired := time.Date(2021, time.September, 1, 0, 0, 0, 0, h.Location)

	if err := h.openAccounts(ctx,
		generic.Employee{ID: scenarioHR, Name: "Hannah Martin", Email: "hannah@example.com", Role: generic.RoleHR, HireDate: hired, LeaveDays: decimal.NewFromInt(25)},
		generic.Employee{ID: "emp-alice", Name: "Alice Bernard", Email: "alice@example.com", HireDate: hired, LeaveDays: decimal.NewFromInt(25), OvertimeHours: decimal.RequireFromString("3.5")},
		generic.Employee{ID: "emp-bob", Name: "Bob Petit", Email: "bob@example.com", HireDate: hired.AddDate(2, 0, 0), LeaveDays: decimal.RequireFromString("12.5")},
		generic.Employee{ID: "emp-chloe", Name: "Chloe Moreau", Email: "chloe@example.com", HireDate: hired.AddDate(1, 6, 0), LeaveDays: decimal.NewFromInt(18), OvertimeHours: decimal.NewFromInt(6)},
	); err != nil {
		return err
	}

	monday, _ := generic.ISOWeekBounds(h.now())
	nextMonday := monday.AddDate(0, 0, 7)
	at := func(base time.Time, days, hour int) time.Time {
		return base.AddDate(0, 0, days).Add(time.Duration(hour) * time.Hour)
	}

	// Alice: three days next week awaiting a decision, and a recovery.
	if _, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: "emp-alice", Kind: timeoff.KindPaidLeave,
		Start: at(nextMonday, 0, 9), End: at(nextMonday, 2, 18),
		Reason: "Family visit",
	}); err != nil {
		return err
	}
	if _, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: "emp-alice", Kind: timeoff.KindOvertimeRecovery,
		Start: at(nextMonday, 4, 14), End: at(nextMonday, 4, 16),
	}); err != nil {
		return err
	}

	// Bob: two days the week after, already accepted.
	bobLeave, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: "emp-bob", Kind: timeoff.KindPaidLeave,
		Start: at(nextMonday, 7, 9), End: at(nextMonday, 8, 18),
	})
	if err != nil {
		return err
	}
	if _, err := h.Requests.Decide(ctx, bobLeave.ID, timeoff.StatusAccepted, scenarioHR); err != nil {
		return err
	}

	// Chloe: off sick today, and a rejected specific leave.
	todayStart := today.Time(h.Location)
	if _, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: "emp-chloe", Kind: timeoff.KindSickLeave,
		Start: todayStart, End: todayStart.Add(23*time.Hour + 59*time.Minute),
		Attachment: "medical-certificate.pdf",
	}); err != nil {
		return err
	}
	wedding, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: "emp-chloe", Kind: timeoff.KindSpecificLeave,
		Start: at(nextMonday, 3, 9), End: at(nextMonday, 3, 18),
		Nature: "wedding",
	})
	if err != nil {
		return err
	}
	if _, err := h.Requests.Decide(ctx, wedding.ID, timeoff.StatusRejected, scenarioHR); err != nil {
		return err
	}

	return nil
}

func (h *Handler) loadOvertimeWeekScenario(ctx context.Context) error {
	if err := h.openAccounts(ctx,
		generic.Employee{ID: scenarioHR, Name: "Hannah Martin", Email: "hannah@example.com", Role: generic.RoleHR},
		generic.Employee{ID: "emp-david", Name: "David Laurent", Email: "david@example.com", LeaveDays: decimal.NewFromInt(20)},
	); err != nil {
		return err
	}

	thisMonday, _ := generic.ISOWeekBounds(h.now())
	lastMonday := thisMonday.AddDate(0, 0, -7)

	credits := []struct {
		day, hour int
		raw       string
		reason    string
	}{
		{0, 18, "3", "Quarter close"},    // under threshold
		{1, 22, "2", "Server migration"}, // night
		{2, 18, "4", "Quarter close"},    // mixed, weekly tally 9
		{3, 18, "3", "Client deadline"},  // beyond threshold
		{5, 10, "2", "Inventory"},        // beyond threshold
		{6, 9, "4", "Trade show set-up"}, // Sunday
	}
	for _, c := range credits {
		activity := lastMonday.AddDate(0, 0, c.day).Add(time.Duration(c.hour) * time.Hour)
		if _, err := h.Ledger.ApplyAdjustment(ctx, generic.Adjustment{
			Target:     "emp-david",
			Actor:      scenarioHR,
			Kind:       generic.BalanceOvertimeHours,
			Source:     generic.SourceManual,
			Variation:  decimal.RequireFromString(c.raw),
			Reason:     c.reason,
			ActivityAt: &activity,
		}); err != nil {
			return err
		}
	}

	// Recover three hours this Friday afternoon.
	friday := thisMonday.AddDate(0, 0, 4)
	recovery, err := h.Requests.CreateRequest(ctx, timeoff.NewRequest{
		EmployeeID: "emp-david", Kind: timeoff.KindOvertimeRecovery,
		Start: friday.Add(14 * time.Hour), End: friday.Add(17 * time.Hour),
		Reason: "Recovery after quarter close",
	})
	if err != nil {
		return err
	}
	_, err = h.Requests.Decide(ctx, recovery.ID, timeoff.StatusAccepted, scenarioHR)
	return err
}
