package source

import "time"

// Due reports whether a source on this cadence needs a run. A source that
// has never succeeded is always due; otherwise it is due once per cadence
// window (calendar day, ISO week, or calendar month, all UTC).
func (c Cadence) Due(now time.Time, lastSuccess *time.Time) bool {
	if lastSuccess == nil {
		return true
	}
	return lastSuccess.Before(c.Window(now))
}

// Window returns the start of the cadence window containing now, in UTC.
// Freshness reporting measures overdue time from here.
func (c Cadence) Window(now time.Time) time.Time {
	now = now.UTC()
	switch c {
	case Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Weekly:
		// ISO weeks start Monday.
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(now.Year(), now.Month(), now.Day()-(weekday-1), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
