package domain

import (
	"fmt"
	"iter"
	"time"
)

const (
	// DateLayout is the calendar date format used on input and output.
	DateLayout = "2006-01-02"

	// GranulesPerDay is the number of half-hour granules in one APD window.
	GranulesPerDay = 48

	// GranuleStep is the interval covered by one granule.
	GranuleStep = 30 * time.Minute

	// windowStartHour is the hour on the previous day where the APD window opens.
	windowStartHour = 12
)

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("no valid date %q (YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}

// TruncateDay drops the time-of-day and returns UTC midnight of t's UTC date.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Window returns the 48 granules of the APD for day: 12:00 to 23:30 of the
// previous day followed by 00:00 to 11:30 of day, in 30-minute steps.
func Window(day time.Time) [GranulesPerDay]Granule {
	var w [GranulesPerDay]Granule
	start := TruncateDay(day).AddDate(0, 0, -1).Add(windowStartHour * time.Hour)
	for i := range w {
		w[i] = Granule{Start: start.Add(time.Duration(i) * GranuleStep)}
	}
	return w
}

// ValidateRange returns ErrInvalidRange when end is before start.
func ValidateRange(start, end time.Time) error {
	start, end = TruncateDay(start), TruncateDay(end)
	if end.Before(start) {
		return fmt.Errorf("%w: ini_date(%s) > end_date(%s)", ErrInvalidRange,
			start.Format(DateLayout), end.Format(DateLayout))
	}
	return nil
}

// DayCount returns the number of calendar days in the inclusive range.
func DayCount(start, end time.Time) int {
	return int(TruncateDay(end).Sub(TruncateDay(start))/(24*time.Hour)) + 1
}

// Days yields every calendar day in [start, end].
func Days(start, end time.Time) (iter.Seq[time.Time], error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	first, last := TruncateDay(start), TruncateDay(end)
	return func(yield func(time.Time) bool) {
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}, nil
}

// Granules yields each day in [start, end] with its APD window. The sequence
// is lazy and can be ranged over any number of times.
func Granules(start, end time.Time) (iter.Seq2[time.Time, [GranulesPerDay]Granule], error) {
	days, err := Days(start, end)
	if err != nil {
		return nil, err
	}
	return func(yield func(time.Time, [GranulesPerDay]Granule) bool) {
		for d := range days {
			if !yield(d, Window(d)) {
				return
			}
		}
	}, nil
}
