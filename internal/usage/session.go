// Package usage contains the session reconciliation engine for OffTimes.
// It turns raw, noisy app-foreground observations into clean, non-overlapping
// per-day usage session rows, merging, splitting across midnight and
// suppressing duplicates as events arrive late or out of order.
package usage

import "time"

// Reconciliation thresholds. These are fixed by design, not configuration:
// observation delivery jitter is a property of the OS collector, not of
// any particular deployment.
const (
	// MergeGapMillis is the maximum gap between a stored session's end and a
	// new observation's start for the two to be merged into one session.
	MergeGapMillis = 10_000

	// MinSessionSeconds is the acceptance threshold. Observations shorter
	// than this are polling noise and never reach the store.
	MinSessionSeconds = 2

	// SelfPackage is our own package identifier. Self-tracking is
	// contamination and gets purged by maintenance.
	SelfPackage = "com.offtimes.app"
)

// DayKeyFormat is the calendar-day key layout used throughout the store.
const DayKeyFormat = "2006-01-02"

// Session is a reconciled per-day usage session for one app.
// Invariants: EndTime >= StartTime, DurationSec == (EndTime-StartTime)/1000,
// Date equals the local calendar day of both StartTime and EndTime, and no
// two sessions for the same (PackageName, Date) overlap.
type Session struct {
	ID          int64
	PackageName string
	CategoryID  int
	StartTime   int64 // milliseconds since epoch
	EndTime     int64 // milliseconds since epoch
	DurationSec int64
	Date        string // YYYY-MM-DD, local time zone
}

// TimerSession is a manually started offline-activity timer. It follows the
// same one-calendar-day rule as Session; the manager closes it out at
// 23:59:59.999 and opens a fresh row after midnight.
type TimerSession struct {
	ID          string
	Activity    string
	StartTime   int64
	EndTime     int64
	DurationSec int64
	Date        string
	Active      bool
}

// DurationSec returns the truncating integer-second duration of [start, end].
func DurationSec(start, end int64) int64 {
	return (end - start) / 1000
}

// DayKeyOf returns the local calendar-day key for a millisecond timestamp.
func DayKeyOf(ms int64) string {
	return time.UnixMilli(ms).Local().Format(DayKeyFormat)
}

// DayStartMillis returns local 00:00:00.000 of the day containing ms.
func DayStartMillis(ms int64) int64 {
	t := time.UnixMilli(ms).Local()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start.UnixMilli()
}

// DayEndMillis returns local 23:59:59.999 of the day containing ms.
func DayEndMillis(ms int64) int64 {
	t := time.UnixMilli(ms).Local()
	next := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
	return next.UnixMilli() - 1
}

// NextDayStartMillis returns local 00:00:00.000 of the day after the one
// containing ms.
func NextDayStartMillis(ms int64) int64 {
	return DayEndMillis(ms) + 1
}

// SameDay reports whether two millisecond timestamps fall on the same local
// calendar day.
func SameDay(a, b int64) bool {
	return DayKeyOf(a) == DayKeyOf(b)
}
