/*
Package factory provides JSON to Go compensation-policy conversion.

PURPOSE:
  Converts a JSON policy document into a timeoff.Policy. This lets HR tune
  half-day and majoration parameters without a release: the server reads
  the file named by POLICY_FILE at startup.

JSON SCHEMA (every field optional; omitted fields keep the defaults):
  {
    "name": "Company agreement 2024",
    "leave": {
      "half_day_max_hours": 5,
      "midday_hour": 13
    },
    "overtime": {
      "weekly_threshold": 8,
      "under_rate": 1.25,
      "over_rate": 1.5,
      "sunday_rate": 2,
      "night_rate": 2,
      "night_start_hour": 21,
      "night_end_hour": 6
    }
  }

KEY FEATURES:
  - Rejects unknown fields so a typo cannot silently keep a default
  - Overlays the document onto timeoff.DefaultPolicy()
  - Validates the result before handing it out

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.LoadPolicyFile("policy.json")

SEE ALSO:
  - timeoff/policy.go: Policy type definition and defaults
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/timeoff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a compensation policy.
type PolicyJSON struct {
	Name     string        `json:"name,omitempty"`
	Leave    *LeaveJSON    `json:"leave,omitempty"`
	Overtime *OvertimeJSON `json:"overtime,omitempty"`
}

// LeaveJSON represents half-day charging rules.
type LeaveJSON struct {
	HalfDayMaxHours *decimal.Decimal `json:"half_day_max_hours,omitempty"`
	MiddayHour      *int             `json:"midday_hour,omitempty"`
}

// OvertimeJSON represents majoration rules.
type OvertimeJSON struct {
	WeeklyThreshold *decimal.Decimal `json:"weekly_threshold,omitempty"`
	UnderRate       *decimal.Decimal `json:"under_rate,omitempty"`
	OverRate        *decimal.Decimal `json:"over_rate,omitempty"`
	SundayRate      *decimal.Decimal `json:"sunday_rate,omitempty"`
	NightRate       *decimal.Decimal `json:"night_rate,omitempty"`
	NightStartHour  *int             `json:"night_start_hour,omitempty"` // 0-23
	NightEndHour    *int             `json:"night_end_hour,omitempty"`   // 0-23, may be < start
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to timeoff.Policy.
type PolicyFactory struct {
	// Defaults fills every field the document leaves out.
	Defaults timeoff.Policy
}

// NewPolicyFactory creates a factory over timeoff.DefaultPolicy().
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{Defaults: timeoff.DefaultPolicy()}
}

// ParsePolicy parses a JSON string into a Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (timeoff.Policy, error) {
	return f.parse([]byte(jsonStr))
}

// LoadPolicyFile reads and parses the policy file at path.
func (f *PolicyFactory) LoadPolicyFile(path string) (timeoff.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return timeoff.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := f.parse(data)
	if err != nil {
		return timeoff.Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (f *PolicyFactory) parse(data []byte) (timeoff.Policy, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var pj PolicyJSON
	if err := dec.Decode(&pj); err != nil {
		return timeoff.Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON overlays pj onto the defaults and validates the result.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (timeoff.Policy, error) {
	p := f.Defaults

	if l := pj.Leave; l != nil {
		setDecimal(&p.Leave.HalfDayMaxHours, l.HalfDayMaxHours)
		setInt(&p.Leave.MiddayHour, l.MiddayHour)
	}

	if o := pj.Overtime; o != nil {
		setDecimal(&p.Overtime.WeeklyThreshold, o.WeeklyThreshold)
		setDecimal(&p.Overtime.UnderRate, o.UnderRate)
		setDecimal(&p.Overtime.OverRate, o.OverRate)
		setDecimal(&p.Overtime.SundayRate, o.SundayRate)
		setDecimal(&p.Overtime.NightRate, o.NightRate)
		setInt(&p.Overtime.NightStartHour, o.NightStartHour)
		setInt(&p.Overtime.NightEndHour, o.NightEndHour)
	}

	if err := p.Validate(); err != nil {
		return timeoff.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// ToJSON converts a Policy to its fully populated JSON form.
func (f *PolicyFactory) ToJSON(p timeoff.Policy) PolicyJSON {
	return PolicyJSON{
		Leave: &LeaveJSON{
			HalfDayMaxHours: &p.Leave.HalfDayMaxHours,
			MiddayHour:      &p.Leave.MiddayHour,
		},
		Overtime: &OvertimeJSON{
			WeeklyThreshold: &p.Overtime.WeeklyThreshold,
			UnderRate:       &p.Overtime.UnderRate,
			OverRate:        &p.Overtime.OverRate,
			SundayRate:      &p.Overtime.SundayRate,
			NightRate:       &p.Overtime.NightRate,
			NightStartHour:  &p.Overtime.NightStartHour,
			NightEndHour:    &p.Overtime.NightEndHour,
		},
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func setDecimal(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
