// Package walltime separates the two time representations used by the bot:
// absolute instants (time.Time, compared and stored in UTC) and wall-clock
// readings in a named zone (Local).
//
// Code outside this package never builds a time.Time from local components
// and never compares a Local with an instant; every conversion goes through
// At or Local.Instant.
package walltime

import (
	"fmt"
	"time"
)

// Local is a wall-clock reading in a specific location.
type Local struct {
	Year       int
	Month      time.Month
	Day        int
	Hour       int
	Minute     int
	Second     int
	Nanosecond int
	Location   *time.Location
}

// At converts an absolute instant into the wall clock of loc.
// A nil loc means UTC.
func At(t time.Time, loc *time.Location) Local {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return Local{
		Year:       lt.Year(),
		Month:      lt.Month(),
		Day:        lt.Day(),
		Hour:       lt.Hour(),
		Minute:     lt.Minute(),
		Second:     lt.Second(),
		Nanosecond: lt.Nanosecond(),
		Location:   loc,
	}
}

// Instant converts the wall-clock reading back to an absolute instant in UTC.
//
// Wall-clock readings that do not exist (skipped by a DST transition) resolve
// to the first instant after the gap. Readings that occur twice resolve to the
// one chosen by time.Date.
func (l Local) Instant() time.Time {
	loc := l.Location
	if loc == nil {
		loc = time.UTC
	}
	// Normalize overflowing fields first so the round-trip check below
	// compares like with like.
	naive := time.Date(l.Year, l.Month, l.Day, l.Hour, l.Minute, l.Second, l.Nanosecond, time.UTC)
	want := At(naive, time.UTC)

	t := time.Date(want.Year, want.Month, want.Day, want.Hour, want.Minute, want.Second, want.Nanosecond, loc)
	if got := At(t, loc); got.sameClock(want) {
		return t.UTC()
	}

	// Gap: interpret the reading with the offsets in force a day before and a
	// day after; the later result is the transition instant.
	var best time.Time
	for _, near := range []time.Time{t.Add(-24 * time.Hour), t.Add(24 * time.Hour)} {
		_, off := near.In(loc).Zone()
		c := naive.Add(-time.Duration(off) * time.Second)
		if c.After(best) {
			best = c
		}
	}
	return best.UTC()
}

func (l Local) sameClock(o Local) bool {
	return l.SameDate(o) && l.Hour == o.Hour && l.Minute == o.Minute &&
		l.Second == o.Second && l.Nanosecond == o.Nanosecond
}

// IsMidnight reports whether the reading is exactly 00:00:00.000000000.
func (l Local) IsMidnight() bool {
	return l.Hour == 0 && l.Minute == 0 && l.Second == 0 && l.Nanosecond == 0
}

// SameDate reports whether both readings fall on the same calendar date.
// Locations are not compared.
func (l Local) SameDate(o Local) bool {
	return l.Year == o.Year && l.Month == o.Month && l.Day == o.Day
}

// DateString formats the calendar date as YYYY-MM-DD.
func (l Local) DateString() string {
	return fmt.Sprintf("%04d-%02d-%02d", l.Year, int(l.Month), l.Day)
}

func (l Local) String() string {
	name := "UTC"
	if l.Location != nil {
		name = l.Location.String()
	}
	return fmt.Sprintf("%s %02d:%02d:%02d %s", l.DateString(), l.Hour, l.Minute, l.Second, name)
}

// Midnight returns 00:00 on the calendar date of l.
func (l Local) Midnight() Local {
	return Local{Year: l.Year, Month: l.Month, Day: l.Day, Location: l.Location}
}

// AddDays moves the calendar date by n days, keeping the clock fields.
// Month and year overflow are normalized.
func (l Local) AddDays(n int) Local {
	d := time.Date(l.Year, l.Month, l.Day+n, 0, 0, 0, 0, time.UTC)
	l.Year, l.Month, l.Day = d.Date()
	return l
}

// NextMidnight returns the local midnight in loc at or after now: now itself
// when it is exactly midnight there, otherwise 00:00 of the next calendar day.
func NextMidnight(now time.Time, loc *time.Location) Local {
	l := At(now, loc)
	if l.IsMidnight() {
		return l
	}
	return l.Midnight().AddDays(1)
}

// FollowingMidnight returns the first local midnight in loc strictly after t.
func FollowingMidnight(t time.Time, loc *time.Location) Local {
	l := At(t, loc)
	next := l.Midnight().AddDays(1)
	// A gap at midnight may resolve next day's 00:00 to an instant still on
	// the current date; keep advancing until the instant is after t.
	for !next.Instant().After(t) {
		next = next.AddDays(1)
	}
	return next
}

// CivilDays returns the number of calendar days from the date of a to the
// date of b, both read in loc. Time of day is ignored, so 23:00 on one day
// and 01:00 on the next are one day apart.
func CivilDays(a, b time.Time, loc *time.Location) int {
	return dayNumber(At(b, loc)) - dayNumber(At(a, loc))
}

func dayNumber(l Local) int {
	d := time.Date(l.Year, l.Month, l.Day, 0, 0, 0, 0, time.UTC)
	return int(d.Unix() / 86400)
}
