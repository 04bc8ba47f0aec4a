// Package countdown computes the two-phase remaining-day count.
//
// Before the reference instant the count runs down to the reference date
// (PRE). From the reference instant on it runs down to the end date, which is
// the reference date plus the configured number of calendar days (POST). Once
// the end date has passed the POST count goes negative.
//
// Day differences are calendar-date differences read in the reference
// instant's own zone; the time of day never matters.
package countdown

import (
	"errors"
	"fmt"
	"time"

	"countdownbot/internal/walltime"
)

// Phase tells which half of the countdown an instant falls into.
type Phase uint8

const (
	PhasePre Phase = iota + 1
	PhasePost
)

func (p Phase) String() string {
	switch p {
	case PhasePre:
		return "PRE"
	case PhasePost:
		return "POST"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrZeroReference = errors.New("countdown: reference instant is required")
	ErrPeriod        = errors.New("countdown: period_days must be > 0")
)

// Config is the immutable countdown definition. Build it with NewConfig.
type Config struct {
	reference  time.Time
	periodDays int
	end        time.Time
}

// NewConfig validates and freezes a countdown definition. The location of
// reference is the zone day differences are read in.
func NewConfig(reference time.Time, periodDays int) (Config, error) {
	if reference.IsZero() {
		return Config{}, ErrZeroReference
	}
	if periodDays <= 0 {
		return Config{}, fmt.Errorf("%w (got %d)", ErrPeriod, periodDays)
	}
	return Config{
		reference:  reference,
		periodDays: periodDays,
		end:        reference.AddDate(0, 0, periodDays),
	}, nil
}

// MustConfig is NewConfig for constant definitions; it panics on error.
func MustConfig(reference time.Time, periodDays int) Config {
	c, err := NewConfig(reference, periodDays)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Config) Reference() time.Time     { return c.reference }
func (c Config) PeriodDays() int          { return c.periodDays }
func (c Config) End() time.Time           { return c.end }
func (c Config) Location() *time.Location { return c.reference.Location() }
func (c Config) IsZero() bool             { return c.reference.IsZero() }

// Equal reports whether both configs describe the same countdown.
func (c Config) Equal(o Config) bool {
	return c.reference.Equal(o.reference) && c.periodDays == o.periodDays &&
		c.Location().String() == o.Location().String()
}

// Result is the outcome of one calculation.
type Result struct {
	Phase Phase
	// Days is the calendar-day distance from now to Target. It is negative
	// once a POST target has passed.
	Days int
	// Target is the reference instant (PRE) or the end instant (POST).
	Target time.Time
}

// Overdue reports whether the end date has already been reached.
func (r Result) Overdue() bool { return r.Phase == PhasePost && r.Days <= 0 }

func (r Result) String() string { return fmt.Sprintf("%s %d", r.Phase, r.Days) }

// Remaining returns the phase and remaining days at now. now == reference is
// POST with the full period.
func (c Config) Remaining(now time.Time) Result {
	loc := c.Location()
	if now.Before(c.reference) {
		return Result{Phase: PhasePre, Days: walltime.CivilDays(now, c.reference, loc), Target: c.reference}
	}
	return Result{Phase: PhasePost, Days: walltime.CivilDays(now, c.end, loc), Target: c.end}
}
