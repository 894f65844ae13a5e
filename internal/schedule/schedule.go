// Package schedule holds the weekly group timetable reference data.
package schedule

import (
	"fmt"
	"math"
	"time"
)

// Entry describes when a group meets: which weekdays, the nominal class
// start time ("HH:MM", 24-hour) and a display label.
type Entry struct {
	Days  []time.Weekday
	Time  string
	Label string
}

// Catalog maps a groupTime key to its schedule entry. Reference data only;
// entries are never mutated at runtime.
type Catalog map[string]Entry

// Default returns the catalog of groups the center runs.
func Default() Catalog {
	return Catalog{
		"sat_tue_315":      {Days: []time.Weekday{time.Saturday, time.Tuesday}, Time: "15:15", Label: "السبت والثلاثاء - 3:15 م"},
		"sat_tue_430":      {Days: []time.Weekday{time.Saturday, time.Tuesday}, Time: "16:30", Label: "السبت والثلاثاء - 4:30 م"},
		"sun_wed_200":      {Days: []time.Weekday{time.Sunday, time.Wednesday}, Time: "14:00", Label: "الأحد والأربعاء - 2:00 م"},
		"mon_thu_200":      {Days: []time.Weekday{time.Monday, time.Thursday}, Time: "14:00", Label: "الاثنين والخميس - 2:00 م"},
		"sat_tue_200":      {Days: []time.Weekday{time.Saturday, time.Tuesday}, Time: "14:00", Label: "السبت والثلاثاء - 2:00 م"},
		"sun_wed_315":      {Days: []time.Weekday{time.Sunday, time.Wednesday}, Time: "15:15", Label: "الأحد والأربعاء - 3:15 م"},
		"mon_thu_315":      {Days: []time.Weekday{time.Monday, time.Thursday}, Time: "15:15", Label: "الاثنين والخميس - 3:15 م"},
		"sat_tue_thu_1200": {Days: []time.Weekday{time.Saturday, time.Tuesday, time.Thursday}, Time: "12:00", Label: "السبت والثلاثاء والخميس - 12:00 م"},
		"sun_wed_430":      {Days: []time.Weekday{time.Sunday, time.Wednesday}, Time: "16:30", Label: "الأحد والأربعاء - 4:30 م"},
	}
}

// Get looks up a group by its key. Unknown keys are tolerated by callers;
// nobody should treat a missing entry as fatal.
func (c Catalog) Get(key string) (Entry, bool) {
	e, ok := c[key]
	return e, ok
}

// Label returns the display label for a key, falling back to the key itself.
func (c Catalog) Label(key string) string {
	if e, ok := c[key]; ok {
		return e.Label
	}
	return key
}

// KeyForLabel resolves a display label back to its group key, falling back
// to the label itself (import paths tolerate unknown groups downstream).
func (c Catalog) KeyForLabel(label string) string {
	for key, e := range c {
		if e.Label == label {
			return key
		}
	}
	return label
}

// MeetsOn reports whether the entry has a class on the given weekday.
func (e Entry) MeetsOn(day time.Weekday) bool {
	for _, d := range e.Days {
		if d == day {
			return true
		}
	}
	return false
}

// StartOn anchors the entry's "HH:MM" class start to the calendar date of ref,
// in ref's location.
func (e Entry) StartOn(ref time.Time) (time.Time, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(e.Time, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, fmt.Errorf("bad class time %q: %w", e.Time, err)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), hh, mm, 0, 0, ref.Location()), nil
}

// ScheduledDatesForMonth lists every calendar day in the given month whose
// weekday belongs to the entry, ascending.
func (e Entry) ScheduledDatesForMonth(year int, month time.Month) []time.Time {
	var dates []time.Time
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		if e.MeetsOn(d.Weekday()) {
			dates = append(dates, d)
		}
	}
	return dates
}

// ClosestGroup finds the group meeting on now's weekday whose start time is
// nearest to now. Returns "" when no group meets today.
func (c Catalog) ClosestGroup(now time.Time) string {
	current := float64(now.Hour()) + float64(now.Minute())/60
	best := ""
	smallest := math.Inf(1)
	for key, e := range c {
		if !e.MeetsOn(now.Weekday()) {
			continue
		}
		var hh, mm int
		if _, err := fmt.Sscanf(e.Time, "%d:%d", &hh, &mm); err != nil {
			continue
		}
		diff := math.Abs(current - (float64(hh) + float64(mm)/60))
		if diff < smallest {
			smallest = diff
			best = key
		}
	}
	return best
}
