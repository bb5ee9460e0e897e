// Package interval computes distinct supported days from overlapping date ranges.
package interval

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned when a period ends before it starts.
var ErrInvalidPeriod = errors.New("invalid period: start is after end")

// Period is an inclusive range of civil dates.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod truncates both bounds to civil dates and checks Start <= End.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: civil(start), End: civil(end)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// MustPeriod parses two YYYY-MM-DD dates. It panics on malformed input and is meant for tests and fixtures.
func MustPeriod(start, end string) Period {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		panic(err)
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		panic(err)
	}
	p, err := NewPeriod(s, e)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) Validate() error {
	if civil(p.Start).After(civil(p.End)) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidPeriod, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
	}
	return nil
}

// Days returns the inclusive number of days in the period.
func (p Period) Days() int {
	return daysBetween(civil(p.Start), civil(p.End)) + 1
}

// Overlaps reports whether p and o share at least one day.
func (p Period) Overlaps(o Period) bool {
	return !civil(p.Start).After(civil(o.End)) && !civil(o.Start).After(civil(p.End))
}

func (p Period) String() string {
	return p.Start.Format(time.DateOnly) + ".." + p.End.Format(time.DateOnly)
}

// YearBounds returns January 1st and December 31st of year.
func YearBounds(year int) Period {
	return Period{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

// civil drops the clock and location, keeping the calendar date as seen in t's location.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
