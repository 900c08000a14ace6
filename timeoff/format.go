package timeoff

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// FormatHours renders decimal hours as "1h30", "-2h" or "0h".
func FormatHours(h decimal.Decimal) string {
	if h.IsZero() {
		return "0h"
	}
	sign := ""
	if h.IsNegative() {
		sign = "-"
	}
	abs := h.Abs()
	hours := abs.Floor()
	minutes := abs.Sub(hours).Mul(sixty).Round(0).IntPart()
	if minutes == 60 {
		hours = hours.Add(one)
		minutes = 0
	}
	if minutes == 0 {
		return fmt.Sprintf("%s%sh", sign, hours.String())
	}
	return fmt.Sprintf("%s%sh%02d", sign, hours.String(), minutes)
}

// FormatDays renders a day count with at most two decimals and no trailing
// zeros: 10, 10.5.
func FormatDays(d decimal.Decimal) string {
	return d.Round(2).String()
}

// FormatBalance renders both balances as one phrase: "10 days and 1h30".
func FormatBalance(days, hours decimal.Decimal) string {
	switch {
	case days.IsZero() && hours.IsZero():
		return "no balance"
	case days.IsZero():
		return FormatHours(hours)
	case hours.IsZero():
		return FormatDays(days) + " " + dayWord(days)
	}
	return fmt.Sprintf("%s %s and %s", FormatDays(days), dayWord(days), FormatHours(hours))
}

func dayWord(d decimal.Decimal) string {
	if d.Abs().LessThanOrEqual(one) {
		return "day"
	}
	return "days"
}
