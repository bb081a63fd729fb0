// Package timeutil provides calendar-day helpers for streak logic.
// Every helper takes the reference location explicitly so that "a day" is the
// learner's local day rather than a 24 hour window.
package timeutil

import (
	"fmt"
	"time"
)

// LoadLocation resolves an IANA zone name. An empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// DaysBetween returns the number of calendar days from t1 to t2 in loc.
// The result is negative when t2 falls on an earlier day. Daylight saving
// shifts do not affect the count.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	a, b := t1.In(loc), t2.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
