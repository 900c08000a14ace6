package timeoff

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/generic"
)

var (
	half = decimal.RequireFromString("0.5")
	one  = decimal.NewFromInt(1)
)

// DayCounter computes the chargeable leave cost of a period.
type DayCounter struct {
	Calendar generic.HolidayCalendar
	Rules    LeaveRules
}

func NewDayCounter(cal generic.HolidayCalendar, rules LeaveRules) DayCounter {
	return DayCounter{Calendar: cal, Rules: rules}
}

// ChargeableDays uses the French calendar and default rules.
func ChargeableDays(start, end time.Time) decimal.Decimal {
	return NewDayCounter(DefaultCalendar, DefaultLeaveRules()).ChargeableDays(start, end)
}

// ChargeableDays returns the days (in halves) that start..end costs. Hours
// are read from each timestamp's own wall clock. Callers reject end before
// start; here it yields zero.
func (c DayCounter) ChargeableDays(start, end time.Time) decimal.Decimal {
	if end.Before(start) {
		return decimal.Zero
	}

	first, last := generic.DateOf(start), generic.DateOf(end)
	if first == last {
		if !c.workday(start) {
			return decimal.Zero
		}
		if end.Sub(start) <= c.halfDayMax() {
			return half
		}
		return one
	}

	total := decimal.Zero
	if c.workday(start) {
		if c.startsAfternoon(start) {
			total = total.Add(half)
		} else {
			total = total.Add(one)
		}
	}
	if c.workday(end) {
		if c.endsMorning(end) {
			total = total.Add(half)
		} else {
			total = total.Add(one)
		}
	}
	for d := first.AddDays(1); d.Before(last); d = d.AddDays(1) {
		if c.workday(d.Time(start.Location())) {
			total = total.Add(one)
		}
	}
	return total
}

func (c DayCounter) workday(t time.Time) bool {
	return generic.IsWorkday(c.Calendar, t)
}

// startsAfternoon: clock time at or after midday.
func (c DayCounter) startsAfternoon(t time.Time) bool {
	return t.Hour() >= c.Rules.MiddayHour
}

// endsMorning: hour of day at or before midday, so 13:59 is still morning.
func (c DayCounter) endsMorning(t time.Time) bool {
	return t.Hour() <= c.Rules.MiddayHour
}

func (c DayCounter) halfDayMax() time.Duration {
	return time.Duration(c.Rules.HalfDayMaxHours.Mul(decimal.NewFromInt(int64(time.Hour))).IntPart())
}
