/*
calendar.go - French working-day calendar

PURPOSE:
  The single place that decides whether a day is worked. Every chargeable
  day computation goes through a generic.HolidayCalendar; FrenchCalendar is
  the metropolitan set.

HOLIDAYS:
  Fixed:    Jan 1, May 1, May 8, Jul 14, Aug 15, Nov 1, Nov 11, Dec 25
  Movable:  Easter Monday (+1), Ascension (+39), Whit Monday (+50),
            relative to Gregorian Easter Sunday (Meeus/Jones/Butcher)

  Weekends are non-working on top of the holidays.

CACHING:
  Holiday sets are built once per year and kept; lookups are by calendar
  date read from the timestamp's own wall clock.
*/
package timeoff

import (
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-ledger/generic"
)

type fixedHoliday struct {
	month time.Month
	day   int
	name  string
}

var frenchFixedHolidays = []fixedHoliday{
	{time.January, 1, "New Year's Day"},
	{time.May, 1, "Labour Day"},
	{time.May, 8, "Victory in Europe Day"},
	{time.July, 14, "Bastille Day"},
	{time.August, 15, "Assumption Day"},
	{time.November, 1, "All Saints' Day"},
	{time.November, 11, "Armistice Day"},
	{time.December, 25, "Christmas Day"},
}

type easterOffset struct {
	days int
	name string
}

var frenchEasterHolidays = []easterOffset{
	{1, "Easter Monday"},
	{39, "Ascension Day"},
	{50, "Whit Monday"},
}

// FrenchCalendar implements generic.HolidayCalendar. Safe for concurrent use.
type FrenchCalendar struct {
	mu    sync.RWMutex
	years map[int]map[generic.Date]string
}

var _ generic.HolidayCalendar = (*FrenchCalendar)(nil)

func NewFrenchCalendar() *FrenchCalendar {
	return &FrenchCalendar{years: make(map[int]map[generic.Date]string)}
}

// DefaultCalendar is shared by the package-level helpers.
var DefaultCalendar = NewFrenchCalendar()

// IsNonWorkingDay reports whether t falls on a weekend or French holiday.
func IsNonWorkingDay(t time.Time) bool {
	return DefaultCalendar.IsNonWorkingDay(t)
}

func (c *FrenchCalendar) IsNonWorkingDay(t time.Time) bool {
	return !generic.IsWorkday(c, t)
}

func (c *FrenchCalendar) IsHoliday(t time.Time) bool {
	d := generic.DateOf(t)
	_, ok := c.year(d.Year)[d]
	return ok
}

func (c *FrenchCalendar) Holidays(year int) []generic.Holiday {
	set := c.year(year)
	out := make([]generic.Holiday, 0, len(set))
	for d, name := range set {
		out = append(out, generic.Holiday{Date: d, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (c *FrenchCalendar) year(year int) map[generic.Date]string {
	c.mu.RLock()
	set, ok := c.years[year]
	c.mu.RUnlock()
	if ok {
		return set
	}

	set = buildFrenchHolidays(year)
	c.mu.Lock()
	c.years[year] = set
	c.mu.Unlock()
	return set
}

func buildFrenchHolidays(year int) map[generic.Date]string {
	set := make(map[generic.Date]string, len(frenchFixedHolidays)+len(frenchEasterHolidays))
	for _, h := range frenchFixedHolidays {
		set[generic.NewDate(year, h.month, h.day)] = h.name
	}
	easter := EasterSunday(year)
	for _, h := range frenchEasterHolidays {
		set[easter.AddDays(h.days)] = h.name
	}
	return set
}

// EasterSunday returns Gregorian Easter Sunday (anonymous Gregorian
// algorithm, Meeus/Jones/Butcher).
func EasterSunday(year int) generic.Date {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return generic.NewDate(year, time.Month(month), day)
}
