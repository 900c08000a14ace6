package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COMPENSATION POLICY
// =============================================================================

// Policy bundles the leave and overtime rules. DefaultPolicy is the only
// policy the company runs; the fields exist so it can be loaded from JSON
// (see factory).
type Policy struct {
	Leave    LeaveRules
	Overtime OvertimePolicy
}

// LeaveRules control half-day charging.
type LeaveRules struct {
	// A same-day absence up to this many hours costs half a day.
	HalfDayMaxHours decimal.Decimal
	// Multi-day periods starting at or after this hour, or ending at or
	// before it, charge half of the boundary day.
	MiddayHour int
}

// OvertimePolicy controls majoration of worked overtime.
type OvertimePolicy struct {
	WeeklyThreshold decimal.Decimal // raw hours per ISO week at the lower rate
	UnderRate       decimal.Decimal
	OverRate        decimal.Decimal
	SundayRate      decimal.Decimal
	NightRate       decimal.Decimal
	NightStartHour  int // night window [start, end), may wrap midnight
	NightEndHour    int
}

func DefaultLeaveRules() LeaveRules {
	return LeaveRules{
		HalfDayMaxHours: decimal.NewFromInt(5),
		MiddayHour:      13,
	}
}

func DefaultOvertimePolicy() OvertimePolicy {
	return OvertimePolicy{
		WeeklyThreshold: decimal.NewFromInt(8),
		UnderRate:       decimal.RequireFromString("1.25"),
		OverRate:        decimal.RequireFromString("1.5"),
		SundayRate:      decimal.NewFromInt(2),
		NightRate:       decimal.NewFromInt(2),
		NightStartHour:  21,
		NightEndHour:    6,
	}
}

func DefaultPolicy() Policy {
	return Policy{Leave: DefaultLeaveRules(), Overtime: DefaultOvertimePolicy()}
}

// Validate rejects policies the calculators cannot honour.
func (p Policy) Validate() error {
	if !p.Leave.HalfDayMaxHours.IsPositive() {
		return fmt.Errorf("half-day max hours must be positive")
	}
	if p.Leave.MiddayHour < 0 || p.Leave.MiddayHour > 23 {
		return fmt.Errorf("midday hour %d out of range", p.Leave.MiddayHour)
	}

	o := p.Overtime
	if o.WeeklyThreshold.IsNegative() {
		return fmt.Errorf("weekly threshold must not be negative")
	}
	for name, rate := range map[string]decimal.Decimal{
		"under-threshold rate": o.UnderRate,
		"over-threshold rate":  o.OverRate,
		"sunday rate":          o.SundayRate,
		"night rate":           o.NightRate,
	} {
		if rate.LessThan(one) {
			return fmt.Errorf("%s %s is below 1", name, rate)
		}
	}
	if o.NightStartHour < 0 || o.NightStartHour > 23 || o.NightEndHour < 0 || o.NightEndHour > 23 {
		return fmt.Errorf("night window %d-%d out of range", o.NightStartHour, o.NightEndHour)
	}
	return nil
}
