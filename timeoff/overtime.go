/*
overtime.go - Overtime majoration

PURPOSE:
  Converts raw worked overtime into the hours credited to the employee's
  recovery balance. Only credits are majorated; debits are applied raw by
  the ledger.

DECISION ORDER (first match wins):
  1. Activity starts on a Sunday               -> x SundayRate
  2. Start hour inside the night window        -> x NightRate
  3. Weekly tally (raw hours already credited this ISO week):
     tally >= threshold                        -> x OverRate
     tally + raw <= threshold                  -> x UnderRate
     otherwise split at the threshold          -> mixed

  Majorate is pure. OvertimeCalculator adds the tally lookup and runs inside
  the ledger transaction so two concurrent credits cannot see the same tally.
*/
package timeoff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
)

type Tier string

const (
	TierSunday Tier = "sunday"
	TierNight  Tier = "night"
	TierUnder  Tier = "under_threshold"
	TierOver   Tier = "over_threshold"
	TierMixed  Tier = "mixed"
)

// Majoration is the breakdown of one credit.
type Majoration struct {
	Credit     decimal.Decimal
	Tier       Tier
	Label      string
	HoursUnder decimal.Decimal // raw hours at UnderRate
	HoursOver  decimal.Decimal // raw hours at OverRate
}

// Majorate computes the credit for rawHours starting at activityStart when
// existingWeekly raw hours were already credited in the same ISO week.
func (p OvertimePolicy) Majorate(activityStart time.Time, rawHours, existingWeekly decimal.Decimal) Majoration {
	switch {
	case activityStart.Weekday() == time.Sunday:
		return Majoration{
			Credit: rawHours.Mul(p.SundayRate),
			Tier:   TierSunday,
			Label:  fmt.Sprintf("Sunday (%s%%)", percent(p.SundayRate)),
		}

	case p.isNight(activityStart.Hour()):
		return Majoration{
			Credit: rawHours.Mul(p.NightRate),
			Tier:   TierNight,
			Label:  fmt.Sprintf("Night (%s%%)", percent(p.NightRate)),
		}

	case existingWeekly.GreaterThanOrEqual(p.WeeklyThreshold):
		return Majoration{
			Credit:    rawHours.Mul(p.OverRate),
			Tier:      TierOver,
			Label:     fmt.Sprintf("Beyond threshold (%s%%)", percent(p.OverRate)),
			HoursOver: rawHours,
		}

	case existingWeekly.Add(rawHours).LessThanOrEqual(p.WeeklyThreshold):
		return Majoration{
			Credit:     rawHours.Mul(p.UnderRate),
			Tier:       TierUnder,
			Label:      fmt.Sprintf("Under threshold (%s%%)", percent(p.UnderRate)),
			HoursUnder: rawHours,
		}

	default:
		under := p.WeeklyThreshold.Sub(existingWeekly)
		over := rawHours.Sub(under)
		return Majoration{
			Credit:     under.Mul(p.UnderRate).Add(over.Mul(p.OverRate)),
			Tier:       TierMixed,
			Label:      fmt.Sprintf("Mixed (%s%% / %s%%)", percent(p.UnderRate), percent(p.OverRate)),
			HoursUnder: under,
			HoursOver:  over,
		}
	}
}

func (p OvertimePolicy) isNight(hour int) bool {
	if p.NightStartHour > p.NightEndHour {
		return hour >= p.NightStartHour || hour < p.NightEndHour
	}
	return hour >= p.NightStartHour && hour < p.NightEndHour
}

// percent renders a multiplier as its surcharge: 1.25 -> "25".
func percent(rate decimal.Decimal) string {
	return rate.Sub(one).Mul(decimal.NewFromInt(100)).String()
}

// =============================================================================
// LEDGER MAJORATOR
// =============================================================================

// OvertimeCalculator implements generic.Majorator.
type OvertimeCalculator struct {
	Policy OvertimePolicy
}

var _ generic.Majorator = OvertimeCalculator{}

func NewOvertimeCalculator(p OvertimePolicy) OvertimeCalculator {
	return OvertimeCalculator{Policy: p}
}

func (c OvertimeCalculator) Majorate(ctx context.Context, tx generic.Tx, id generic.EmployeeID, activityAt time.Time, rawHours decimal.Decimal) (generic.Credit, error) {
	from, to := generic.ISOWeekBounds(activityAt)
	existing, err := tx.OvertimeHoursBetween(ctx, id, from, to)
	if err != nil {
		return generic.Credit{}, err
	}
	m := c.Policy.Majorate(activityAt, rawHours, existing)
	return generic.Credit{Amount: m.Credit, RateLabel: m.Label}, nil
}
