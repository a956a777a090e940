package scheduler

import (
	"time"
)

// Phase is where a date falls in the month-end run cadence.
type Phase string

const (
	// PhaseNone means no scheduled run today.
	PhaseNone Phase = ""
	// PhasePreliminary runs three business days before month end.
	PhasePreliminary Phase = "preliminary"
	// PhaseDryRun runs one business day before month end.
	PhaseDryRun Phase = "dry_run"
	// PhaseFinal runs on the last business day of the month.
	PhaseFinal Phase = "final"
)

// isBusinessDay treats Monday through Friday as tradeable. Exchange
// holidays are out of scope; a holiday run simply finds stale data and the
// freshness flag records it.
func isBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// LastBusinessDay returns the last business day of the given date's month.
func LastBusinessDay(date time.Time) time.Time {
	// First day of next month, minus one day.
	d := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location()).
		AddDate(0, 1, -1)
	for !isBusinessDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// businessDaysBefore steps n business days back from d.
func businessDaysBefore(d time.Time, n int) time.Time {
	for n > 0 {
		d = d.AddDate(0, 0, -1)
		if isBusinessDay(d) {
			n--
		}
	}
	return d
}

// PhaseFor maps a date onto the month-end cadence: T-3 preliminary, T-1 dry
// run, T0 final. All other dates, weekends included, are PhaseNone.
func PhaseFor(date time.Time) Phase {
	if !isBusinessDay(date) {
		return PhaseNone
	}

	day := date.Truncate(24 * time.Hour)
	t0 := LastBusinessDay(date)

	sameDay := func(a, b time.Time) bool {
		return a.Year() == b.Year() && a.YearDay() == b.YearDay()
	}

	switch {
	case sameDay(day, t0):
		return PhaseFinal
	case sameDay(day, businessDaysBefore(t0, 1)):
		return PhaseDryRun
	case sameDay(day, businessDaysBefore(t0, 3)):
		return PhasePreliminary
	}
	return PhaseNone
}
