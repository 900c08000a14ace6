package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATE - Calendar day without time of day or zone
// =============================================================================

// Date is a civil calendar day. Working-day decisions are made on dates only,
// read from the wall clock of the timestamp they come from.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 12, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// noon avoids DST edges when doing day arithmetic.
func (d Date) noon() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date            { return DateOf(d.noon().AddDate(0, 0, n)) }
func (d Date) Weekday() time.Weekday         { return d.noon().Weekday() }
func (d Date) Before(other Date) bool        { return d.noon().Before(other.noon()) }
func (d Date) After(other Date) bool         { return d.noon().After(other.noon()) }
func (d Date) IsWeekend() bool               { wd := d.Weekday(); return wd == time.Saturday || wd == time.Sunday }
func (d Date) String() string                { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }
func (d Date) MarshalText() ([]byte, error)  { return []byte(d.String()), nil }

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a named public holiday.
type Holiday struct {
	Date Date
	Name string
}

// HolidayCalendar provides holiday lookup functionality.
type HolidayCalendar interface {
	// IsHoliday checks if the calendar day of t is a public holiday.
	IsHoliday(t time.Time) bool

	// Holidays returns every holiday of a year, in date order.
	Holidays(year int) []Holiday
}

// NoHolidays is a calendar with weekends only.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(time.Time) bool { return false }
func (NoHolidays) Holidays(int) []Holiday   { return nil }

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	return DateOf(t).IsWeekend()
}

// IsWorkday checks if t is a working day, considering holidays.
func IsWorkday(calendar HolidayCalendar, t time.Time) bool {
	if IsWeekend(t) {
		return false
	}
	if calendar != nil && calendar.IsHoliday(t) {
		return false
	}
	return true
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

// ISOWeekBounds returns [Monday 00:00, next Monday 00:00) of the ISO week
// containing t, in t's location.
func ISOWeekBounds(t time.Time) (time.Time, time.Time) {
	d := DateOf(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	monday := d.AddDays(-offset)
	return monday.Time(t.Location()), monday.AddDays(7).Time(t.Location())
}

// HoursBetween returns the elapsed time from start to end in decimal hours,
// without truncating seconds. Non-terminating quotients carry
// decimal.DivisionPrecision digits.
func HoursBetween(start, end time.Time) decimal.Decimal {
	return decimal.NewFromInt(int64(end.Sub(start))).Div(decimal.NewFromInt(int64(time.Hour)))
}
