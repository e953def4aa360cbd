package schedule

import (
	"testing"
	"time"
)

func mustDate(t *testing.T, year, month, day, hour, min int) time.Time {
	t.Helper()
	return time.Date(year, time.Month(month), day, hour, min, 0, 0, time.UTC)
}

func TestWeeklyInterval_SimpleRange(t *testing.T) {
	iv := NewWeeklyInterval(Monday, 9*time.Hour, Friday, 17*time.Hour)

	// 2026-01-05 is a Monday.
	inside := mustDate(t, 2026, 1, 7, 12, 0) // Wednesday noon
	if !iv.Covers(inside) {
		t.Errorf("expected %v to be covered", inside)
	}

	outside := mustDate(t, 2026, 1, 10, 12, 0) // Saturday
	if iv.Covers(outside) {
		t.Errorf("expected %v not to be covered", outside)
	}

	boundary := mustDate(t, 2026, 1, 5, 9, 0) // Monday 09:00, the lower edge
	if !iv.Covers(boundary) {
		t.Errorf("expected lower boundary %v to be covered", boundary)
	}
}

func TestWeeklyInterval_WrapAround(t *testing.T) {
	// Fri 18:00 - Mon 09:00: a weekend embargo spanning the week boundary.
	iv := NewWeeklyInterval(Friday, 18*time.Hour, Monday, 9*time.Hour)

	saturday := mustDate(t, 2026, 1, 10, 12, 0)
	if !iv.Covers(saturday) {
		t.Errorf("expected weekend %v to be covered by the wrap-around embargo", saturday)
	}

	wednesday := mustDate(t, 2026, 1, 7, 12, 0)
	if iv.Covers(wednesday) {
		t.Errorf("expected midweek %v not to be covered", wednesday)
	}

	// The complement's own edges fall outside the gap being excluded, so
	// they must count as still embargoed.
	fridayEdge := mustDate(t, 2026, 1, 9, 18, 0)
	if !iv.Covers(fridayEdge) {
		t.Errorf("expected edge %v to be covered", fridayEdge)
	}
}

func TestFromHuman(t *testing.T) {
	iv, err := FromHuman("Friday@18:00-Monday@09:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saturday := mustDate(t, 2026, 1, 10, 0, 0)
	if !iv.Covers(saturday) {
		t.Errorf("expected %v to be covered by the parsed interval", saturday)
	}
}

func TestFromHuman_Malformed(t *testing.T) {
	if _, err := FromHuman("not an interval"); err == nil {
		t.Error("expected an error for a malformed interval")
	}
	if _, err := FromHuman("Friday@18:00"); err == nil {
		t.Error("expected an error for a missing '-' separator's second half")
	}
}

func TestIntervalUnion(t *testing.T) {
	u, err := FromHumanUnion("Mon@00:00-Mon@01:00, Wed@00:00-Wed@01:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mondayMatch := mustDate(t, 2026, 1, 5, 0, 30)
	if !u.Covers(mondayMatch) {
		t.Errorf("expected %v to be covered", mondayMatch)
	}
	tuesdayMiss := mustDate(t, 2026, 1, 6, 0, 30)
	if u.Covers(tuesdayMiss) {
		t.Errorf("expected %v not to be covered", tuesdayMiss)
	}
}

func TestIntervalUnion_Empty(t *testing.T) {
	u := Empty()
	if u.Covers(time.Now()) {
		t.Error("expected an empty union to cover nothing")
	}
}
