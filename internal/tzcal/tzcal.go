// Package tzcal provides the pure timezone calculations behind scheduling:
// converting a (date, IANA zone, target hour) triple to a UTC instant,
// deciding whether a date is "today" in a given zone, and computing remaining
// delay. It depends only on the IANA timezone database shipped with the Go
// runtime (time.LoadLocation).
package tzcal

import (
	"fmt"
	"time"

	"wisher/internal/types"
)

// TargetInstantUTC interprets hour:00:00 as wall-clock time in the given
// timezone on the calendar day dateStr (YYYY-MM-DD) and returns the
// equivalent UTC instant.
//
// DST transitions are resolved by the timezone database's standard rule via
// time.Date: a nonexistent wall-clock hour is pushed forward across the gap,
// an ambiguous one resolves to the zone's canonical offset.
func TargetInstantUTC(dateStr, timezone string, hour int) (time.Time, error) {
	if hour < 0 || hour > 23 {
		return time.Time{}, fmt.Errorf("tzcal: hour %d out of range", hour)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("tzcal: unknown timezone %q: %w", timezone, err)
	}

	d, err := time.Parse(types.DateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("tzcal: invalid date %q: %w", dateStr, err)
	}

	local := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
	return local.UTC(), nil
}

// IsTodayInTimezone reports whether the month and day of dateStr (the year
// component is ignored) match the current calendar day as observed in the
// given timezone at instant `now`. The month-day is first projected onto the
// local year, so a Feb 29 date matches March 1 in non-leap years.
func IsTodayInTimezone(dateStr, timezone string, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return false, fmt.Errorf("tzcal: unknown timezone %q: %w", timezone, err)
	}

	d, err := time.Parse(types.DateLayout, dateStr)
	if err != nil {
		return false, fmt.Errorf("tzcal: invalid date %q: %w", dateStr, err)
	}

	local := now.In(loc)
	projected := time.Date(local.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return projected.Month() == local.Month() && projected.Day() == local.Day(), nil
}

// RemainingDelaySeconds returns max(0, min(cap, targetInstantUTC - now)) in
// whole seconds for the given date/zone/hour triple.
func RemainingDelaySeconds(dateStr, timezone string, hour int, capSeconds int64, now time.Time) (int64, error) {
	target, err := TargetInstantUTC(dateStr, timezone, hour)
	if err != nil {
		return 0, err
	}

	delay := int64(target.Sub(now).Seconds())
	if delay < 0 {
		return 0, nil
	}
	if delay > capSeconds {
		return capSeconds, nil
	}
	return delay, nil
}

// MonthDayKey returns the MM-DD projection of a calendar date, the
// year-independent recurrence index key.
func MonthDayKey(dateStr string) (string, error) {
	d, err := time.Parse(types.DateLayout, dateStr)
	if err != nil {
		return "", fmt.Errorf("tzcal: invalid date %q: %w", dateStr, err)
	}
	return d.Format(types.MonthDayLayout), nil
}

// OccurrenceThisYear projects the month-day of dateStr onto the current year
// as observed in the given timezone at instant `now`, returning a full
// YYYY-MM-DD date. A Feb 29 source date normalizes to Mar 1 in non-leap
// years, following time.Date.
func OccurrenceThisYear(dateStr, timezone string, now time.Time) (string, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", fmt.Errorf("tzcal: unknown timezone %q: %w", timezone, err)
	}

	d, err := time.Parse(types.DateLayout, dateStr)
	if err != nil {
		return "", fmt.Errorf("tzcal: invalid date %q: %w", dateStr, err)
	}

	year := now.In(loc).Year()
	occurrence := time.Date(year, d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return occurrence.Format(types.DateLayout), nil
}
