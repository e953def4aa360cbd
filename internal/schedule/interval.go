// Package schedule implements weekly embargo windows: spans of the week
// during which the merge job refuses to act.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Weekday is a day of the week, Monday-first to match ISO week ordering
// (and the platform's own convention).
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var dayNames = map[string]Weekday{
	"monday": Monday, "mon": Monday,
	"tuesday": Tuesday, "tue": Tuesday,
	"wednesday": Wednesday, "wed": Wednesday,
	"thursday": Thursday, "thu": Thursday,
	"friday": Friday, "fri": Friday,
	"saturday": Saturday, "sat": Saturday,
	"sunday": Sunday, "sun": Sunday,
}

// FindWeekday resolves a (case-insensitive) day name or abbreviation.
func FindWeekday(s string) (Weekday, error) {
	if d, ok := dayNames[strings.ToLower(s)]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("not a weekday: %q", s)
}

// fromGoWeekday converts time.Time's Sunday-first Weekday to our
// Monday-first Weekday.
func fromGoWeekday(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(int(d) - 1)
}

// WeeklyInterval covers instants in its closed weekly span
// [fromDay@fromTime, toDay@toTime]. When fromDay > toDay (a wrap-around
// interval, e.g. Fri-Mon), the interval is stored as its complement
// (Mon-Fri) and Covers inverts the result, so the stored invariant
// fromWeekday <= toWeekday always holds internally.
type WeeklyInterval struct {
	fromWeekday Weekday
	fromTime    time.Duration // time-of-day offset
	toWeekday   Weekday
	toTime      time.Duration
	complement  bool
}

// NewWeeklyInterval constructs a WeeklyInterval from (day, time-of-day)
// pairs, applying the complement-storage transform for wrap-around ranges.
func NewWeeklyInterval(fromDay Weekday, fromTime time.Duration, toDay Weekday, toTime time.Duration) WeeklyInterval {
	if fromDay > toDay {
		return WeeklyInterval{
			fromWeekday: toDay,
			fromTime:    toTime,
			toWeekday:   fromDay,
			toTime:      fromTime,
			complement:  true,
		}
	}
	return WeeklyInterval{fromWeekday: fromDay, fromTime: fromTime, toWeekday: toDay, toTime: toTime}
}

// Covers reports whether t falls within the interval.
func (w WeeklyInterval) Covers(t time.Time) bool {
	return w.intervalCovers(t) != w.complement
}

func (w WeeklyInterval) intervalCovers(t time.Time) bool {
	weekday := fromGoWeekday(t.Weekday())
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second

	// A complement interval uses <= at its boundaries (the stored range is
	// the gap being excluded, and <= leaves its own edges outside that gap,
	// so Covers reports them as covered); a direct interval uses < so its
	// own edges count as "in the interval".
	before := func(a, b time.Duration) bool {
		if w.complement {
			return a <= b
		}
		return a < b
	}

	if weekday < w.fromWeekday || weekday > w.toWeekday {
		return false
	}
	if weekday == w.fromWeekday && before(tod, w.fromTime) {
		return false
	}
	if weekday == w.toWeekday && before(w.toTime, tod) {
		return false
	}
	return true
}

func parseTimeOfDay(s string, loc *time.Location) (time.Duration, error) {
	layouts := []string{"15:04:05", "15:04"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// FromHuman parses a single interval of the form
// "<Day>@<HH:MM[:SS]>[ TZ]-<Day>@<HH:MM[:SS]>[ TZ]".
func FromHuman(s string) (WeeklyInterval, error) {
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return WeeklyInterval{}, fmt.Errorf("malformed interval %q: expected a '-' separator", s)
	}
	fromDay, fromTime, err := parsePart(from)
	if err != nil {
		return WeeklyInterval{}, fmt.Errorf("parsing %q: %w", from, err)
	}
	toDay, toTime, err := parsePart(to)
	if err != nil {
		return WeeklyInterval{}, fmt.Errorf("parsing %q: %w", to, err)
	}
	return NewWeeklyInterval(fromDay, fromTime, toDay, toTime), nil
}

func parsePart(part string) (Weekday, time.Duration, error) {
	part = strings.ReplaceAll(strings.TrimSpace(part), "@", " ")
	fields := strings.Fields(part)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("expected '<Day>@<HH:MM[:SS]>[ TZ]', got %q", part)
	}
	day, err := FindWeekday(fields[0])
	if err != nil {
		return 0, 0, err
	}
	loc := time.UTC
	if len(fields) > 2 {
		if l, err := time.LoadLocation(fields[2]); err == nil {
			loc = l
		}
	}
	tod, err := parseTimeOfDay(fields[1], loc)
	if err != nil {
		return 0, 0, err
	}
	return day, tod, nil
}

// IntervalUnion covers an instant iff any contained interval does.
type IntervalUnion struct {
	intervals []WeeklyInterval
}

// Empty returns an IntervalUnion that covers nothing.
func Empty() IntervalUnion { return IntervalUnion{} }

// NewIntervalUnion wraps a slice of intervals.
func NewIntervalUnion(intervals []WeeklyInterval) IntervalUnion {
	return IntervalUnion{intervals: intervals}
}

// FromHumanUnion parses a comma-separated list of WeeklyInterval strings.
func FromHumanUnion(s string) (IntervalUnion, error) {
	if strings.TrimSpace(s) == "" {
		return Empty(), nil
	}
	parts := strings.Split(s, ",")
	intervals := make([]WeeklyInterval, 0, len(parts))
	for _, p := range parts {
		iv, err := FromHuman(strings.TrimSpace(p))
		if err != nil {
			return IntervalUnion{}, err
		}
		intervals = append(intervals, iv)
	}
	return NewIntervalUnion(intervals), nil
}

// Covers reports whether t is covered by any interval in the union.
func (u IntervalUnion) Covers(t time.Time) bool {
	for _, iv := range u.intervals {
		if iv.Covers(t) {
			return true
		}
	}
	return false
}
