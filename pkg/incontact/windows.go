package incontact

import (
	"time"

	"github.com/streamkit/nicesync/pkg/errors"
)

// TimestampFormat is the wire layout for window bounds and query
// parameters: ISO-8601 UTC with microsecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// Period is a window granularity.
type Period string

const (
	PeriodDays    Period = "days"
	PeriodHours   Period = "hours"
	PeriodMinutes Period = "minutes"
)

// ParsePeriod validates a period name from configuration.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodDays, PeriodHours, PeriodMinutes:
		return Period(s), nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown period %q", s)
	}
}

// Window is one half-open extraction interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartString returns the window start in wire format.
func (w Window) StartString() string {
	return FormatTimestamp(w.Start)
}

// EndString returns the window end in wire format.
func (w Window) EndString() string {
	return FormatTimestamp(w.End)
}

// FormatTimestamp renders a time in the wire layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// DateRange partitions [start, end) into contiguous windows of the
// given granularity. Each window's start is the previous window's end.
//
// Days and hours truncate: a trailing partial unit emits no window, and
// a duration under one unit emits nothing. The five-minute granularity
// instead folds a trailing partial unit into one extra full window, so
// the final window's end may exceed end by up to one unit. Callers rely
// on these exact boundaries for restartable extraction, so the
// asymmetry stays.
func DateRange(start, end time.Time, period Period) []Window {
	var windows []Window
	newStart := start

	switch period {
	case PeriodDays:
		days := int(end.Sub(start) / (24 * time.Hour))
		for day := 1; day <= days; day++ {
			newEnd := start.Add(time.Duration(day) * 24 * time.Hour)
			windows = append(windows, Window{Start: newStart, End: newEnd})
			newStart = newEnd
		}
	case PeriodHours:
		hours := int(end.Sub(start) / time.Hour)
		for hour := 1; hour <= hours; hour++ {
			newEnd := start.Add(time.Duration(hour) * time.Hour)
			windows = append(windows, Window{Start: newStart, End: newEnd})
			newStart = newEnd
		}
	case PeriodMinutes:
		minutes := int(end.Sub(start) / time.Minute)
		for m := 5; m < minutes+5; m += 5 {
			newEnd := start.Add(time.Duration(m) * time.Minute)
			windows = append(windows, Window{Start: newStart, End: newEnd})
			newStart = newEnd
		}
	}

	return windows
}

// CheckStartDate clamps a bookmark to at most the given number of days
// in the past. Endpoints with bounded lookback reject older values.
func CheckStartDate(bookmark time.Time, days int) time.Time {
	oldest := time.Now().UTC().AddDate(0, 0, -days)
	if bookmark.Before(oldest) {
		return oldest
	}
	return bookmark
}
