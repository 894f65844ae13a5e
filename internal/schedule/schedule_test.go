package schedule

import (
	"testing"
	"time"
)

func TestGetUnknownKey(t *testing.T) {
	c := Default()
	if _, ok := c.Get("fri_only_999"); ok {
		t.Fatal("expected unknown key to miss")
	}
	if got := c.Label("fri_only_999"); got != "fri_only_999" {
		t.Errorf("Label fallback = %q, want the key itself", got)
	}
}

func TestKeyForLabel(t *testing.T) {
	c := Default()
	if got := c.KeyForLabel("السبت والثلاثاء - 3:15 م"); got != "sat_tue_315" {
		t.Errorf("KeyForLabel = %q, want sat_tue_315", got)
	}
	if got := c.KeyForLabel("something else"); got != "something else" {
		t.Errorf("KeyForLabel fallback = %q", got)
	}
}

func TestScheduledDatesForMonth(t *testing.T) {
	entry, ok := Default().Get("sat_tue_315")
	if !ok {
		t.Fatal("missing sat_tue_315")
	}
	// June 2024 starts on a Saturday: Saturdays 1,8,15,22,29 and Tuesdays 4,11,18,25.
	dates := entry.ScheduledDatesForMonth(2024, time.June)
	if len(dates) != 9 {
		t.Fatalf("got %d dates, want 9", len(dates))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i-1].Before(dates[i]) {
			t.Errorf("dates not ascending at %d: %v then %v", i, dates[i-1], dates[i])
		}
	}
	for _, d := range dates {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Tuesday {
			t.Errorf("unexpected weekday %v on %v", d.Weekday(), d)
		}
	}
	if dates[0].Day() != 1 || dates[len(dates)-1].Day() != 29 {
		t.Errorf("range is %d..%d, want 1..29", dates[0].Day(), dates[len(dates)-1].Day())
	}
}

func TestStartOnAnchorsToDate(t *testing.T) {
	entry := Entry{Days: []time.Weekday{time.Saturday}, Time: "15:15"}
	ref := time.Date(2024, 6, 8, 15, 31, 0, 0, time.Local)
	start, err := entry.StartOn(ref)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 6, 8, 15, 15, 0, 0, time.Local)
	if !start.Equal(want) {
		t.Errorf("StartOn = %v, want %v", start, want)
	}
}

func TestStartOnBadTime(t *testing.T) {
	entry := Entry{Time: "noon"}
	if _, err := entry.StartOn(time.Now()); err == nil {
		t.Fatal("expected error for malformed time")
	}
}

func TestClosestGroup(t *testing.T) {
	c := Default()
	// A Saturday at 15:20: sat_tue_315 (15:15) is nearer than sat_tue_200 or sat_tue_430.
	now := time.Date(2024, 6, 8, 15, 20, 0, 0, time.Local)
	if got := c.ClosestGroup(now); got != "sat_tue_315" {
		t.Errorf("ClosestGroup = %q, want sat_tue_315", got)
	}
	// A Friday: no group meets.
	friday := time.Date(2024, 6, 7, 15, 0, 0, 0, time.Local)
	if got := c.ClosestGroup(friday); got != "" {
		t.Errorf("ClosestGroup on friday = %q, want empty", got)
	}
}
