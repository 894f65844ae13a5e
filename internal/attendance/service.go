// Package attendance derives attendance facts for a student on a date and
// performs the toggle, makeup and check-in transitions.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/www-e/formnew/internal/payment"
	"github.com/www-e/formnew/internal/roster"
	"github.com/www-e/formnew/internal/schedule"
)

var (
	// ErrUnknownGroup is returned when a student's groupTime has no schedule.
	ErrUnknownGroup = errors.New("unknown group schedule")
	// ErrNotClassDay is returned by check-in when today is not a class day.
	ErrNotClassDay = errors.New("not a scheduled class day")
)

// LatenessGrace is the rendering threshold: lateness at or under this many
// minutes is not flagged.
const LatenessGrace = 5

// makeupHorizonDays bounds the outward search for makeup candidates.
const makeupHorizonDays = 60

var nowFunc = time.Now

// Service performs attendance state transitions against the record store.
type Service struct {
	store   *roster.Store
	catalog schedule.Catalog
	log     zerolog.Logger
}

// NewService creates the attendance reconciler.
func NewService(store *roster.Store, catalog schedule.Catalog, log zerolog.Logger) *Service {
	return &Service{store: store, catalog: catalog, log: log}
}

// Toggle flips the attendance state for (student, date): an existing record
// of any status is removed, otherwise a Present record is written with the
// current timestamp. The inspect-then-flip runs inside the store's writer
// lock, so records written concurrently for other dates are never lost. The
// schedule is deliberately not consulted; callers gate which dates are
// offered.
func (s *Service) Toggle(ctx context.Context, studentID, dateKey string) (marked bool, err error) {
	_, err = s.store.MutateStudent(ctx, studentID, func(st *roster.Student) error {
		if _, exists := st.Attendance[dateKey]; exists {
			delete(st.Attendance, dateKey)
			marked = false
			return nil
		}
		if st.Attendance == nil {
			st.Attendance = map[string]roster.AttendanceRecord{}
		}
		st.Attendance[dateKey] = roster.AttendanceRecord{Status: roster.StatusPresent, Timestamp: nowFunc()}
		marked = true
		return nil
	})
	return marked, err
}

// Lateness computes the signed minutes between the record's timestamp and
// the class start anchored to the record's own calendar date. Early arrival
// is negative; the sign is kept because it carries information.
func Lateness(rec roster.AttendanceRecord, entry schedule.Entry) (int, error) {
	start, err := entry.StartOn(rec.Timestamp)
	if err != nil {
		return 0, err
	}
	diff := rec.Timestamp.Sub(start)
	return int(diff.Round(time.Minute) / time.Minute), nil
}

// LatenessFlagged reports whether the lateness should be surfaced: only
// positive excess beyond the grace threshold is flagged.
func LatenessFlagged(minutes int) bool {
	return minutes > LatenessGrace
}

// MakeupCandidates searches outward from today, up to the horizon in both
// directions, for dates matching the student's own group schedule: the first
// two past and first two future matches, deduplicated and sorted ascending.
func (s *Service) MakeupCandidates(studentID string) ([]string, error) {
	st, err := s.store.FindStudent(studentID)
	if err != nil {
		return nil, err
	}
	entry, ok := s.catalog.Get(st.GroupTime)
	if !ok || len(entry.Days) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, st.GroupTime)
	}

	today := nowFunc()
	seen := map[string]bool{}
	collect := func(direction int, want int) {
		found := 0
		for i := 1; i <= makeupHorizonDays && found < want; i++ {
			target := today.AddDate(0, 0, i*direction)
			if !entry.MeetsOn(target.Weekday()) {
				continue
			}
			key := roster.DateKey(target)
			if !seen[key] {
				seen[key] = true
				found++
			}
		}
	}
	collect(-1, 2)
	collect(1, 2)

	dates := make([]string, 0, len(seen))
	for key := range seen {
		dates = append(dates, key)
	}
	sort.Strings(dates)
	if len(dates) > 4 {
		dates = dates[:4]
	}
	return dates, nil
}

// RecordMakeup writes a makeup (T) session for the given date.
func (s *Service) RecordMakeup(ctx context.Context, studentID, dateKey string) error {
	_, err := s.store.UpsertStudent(ctx, studentID, roster.Patch{
		Attendance: roster.MergeAttendance(map[string]roster.AttendanceRecord{
			dateKey: {Status: roster.StatusMakeup, Timestamp: nowFunc()},
		}),
	})
	if err == nil {
		s.log.Info().Str("student_id", studentID).Str("date", dateKey).Msg("makeup session recorded")
	}
	return err
}

// CheckInResult is the outcome of a quick check-in.
type CheckInResult struct {
	Student       roster.Student `json:"student"`
	AlreadyMarked bool           `json:"alreadyMarked"`
	UnpaidMonth   bool           `json:"unpaidMonth"`
	Lateness      int            `json:"latenessMinutes"`
}

// QuickCheckIn marks a student present today after validating that today is
// one of their group's class days. Re-scanning an already marked student is
// reported, not treated as an error. The result carries a warning flag when
// the current month is unpaid and not exempt.
func (s *Service) QuickCheckIn(ctx context.Context, studentID string) (CheckInResult, error) {
	st, err := s.store.FindStudent(studentID)
	if err != nil {
		return CheckInResult{}, err
	}
	entry, ok := s.catalog.Get(st.GroupTime)
	if !ok {
		return CheckInResult{}, fmt.Errorf("%w: %q", ErrUnknownGroup, st.GroupTime)
	}
	now := nowFunc()
	if !entry.MeetsOn(now.Weekday()) {
		return CheckInResult{}, ErrNotClassDay
	}

	todayKey := roster.DateKey(now)
	res := CheckInResult{Student: st}
	if _, exists := st.Attendance[todayKey]; exists {
		res.AlreadyMarked = true
	} else {
		rec := roster.AttendanceRecord{Status: roster.StatusPresent, Timestamp: now}
		updated, err := s.store.UpsertStudent(ctx, studentID, roster.Patch{
			Attendance: roster.MergeAttendance(map[string]roster.AttendanceRecord{todayKey: rec}),
		})
		if err != nil {
			return CheckInResult{}, err
		}
		res.Student = updated
		if late, lerr := Lateness(rec, entry); lerr == nil {
			res.Lateness = late
		}
	}

	monthKey := roster.MonthKey(now)
	if !st.Exempt.Covers(monthKey) {
		required := payment.RequiredAmount(st.Grade, st.Section)
		rec, paid := st.Payments[monthKey]
		if !paid || rec.AmountPaid < required {
			res.UnpaidMonth = true
		}
	}
	return res, nil
}
