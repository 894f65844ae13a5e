// Package sweeper runs the periodic auto-absence scan: students whose class
// started more than the grace period ago without an attendance record get an
// absent (G) record written for the day.
package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/www-e/formnew/internal/notify"
	"github.com/www-e/formnew/internal/roster"
	"github.com/www-e/formnew/internal/schedule"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formnew_sweeps_total",
		Help: "Number of auto-absence sweeps executed.",
	})
	absencesMarkedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "formnew_absences_marked_total",
		Help: "Number of absence records written by sweeps.",
	})
)

// Sweeper scans the roster on a fixed cadence. The clock is injected so the
// tick behavior is testable.
type Sweeper struct {
	store    *roster.Store
	catalog  schedule.Catalog
	notifier notify.Notifier
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	log      zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper. Zero interval or grace fall back to the defaults
// (60s cadence, 15 minute grace).
func New(store *roster.Store, catalog schedule.Catalog, notifier notify.Notifier, interval, grace time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &Sweeper{
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		log:      log,
	}
}

// SetNow swaps the clock source; tests use this to simulate class times.
func (s *Sweeper) SetNow(now func() time.Time) {
	s.now = now
}

// Start runs a sweep immediately and then on every tick until the context is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.log.Info().Dur("interval", s.interval).Dur("grace", s.grace).Msg("auto-absence sweeper started")

	go func() {
		defer close(s.done)
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("sweep failed")
		}
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("auto-absence sweeper stopped")
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Error().Err(err).Msg("sweep failed")
				}
			}
		}
	}()
}

// Stop cancels the recurring sweep and waits for the loop to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep runs one scan and returns how many absence records were written.
// Re-running after an absence is recorded is a no-op for that student: any
// existing record for today, whatever its status, is left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	sweepsTotal.Inc()
	now := s.now()
	todayKey := roster.DateKey(now)
	marked := 0

	for _, st := range s.store.ListStudents() {
		entry, ok := s.catalog.Get(st.GroupTime)
		if !ok {
			s.log.Debug().Str("student_id", st.ID).Str("group", st.GroupTime).Msg("unknown group, skipped")
			continue
		}
		if !entry.MeetsOn(now.Weekday()) {
			continue
		}
		start, err := entry.StartOn(now)
		if err != nil {
			s.log.Warn().Err(err).Str("group", st.GroupTime).Msg("bad class time, skipped")
			continue
		}
		if now.Sub(start) <= s.grace {
			continue
		}
		if _, exists := st.Attendance[todayKey]; exists {
			continue
		}
		_, err = s.store.UpsertStudent(ctx, st.ID, roster.Patch{
			Attendance: roster.MergeAttendance(map[string]roster.AttendanceRecord{
				todayKey: {Status: roster.StatusAbsent, Timestamp: now},
			}),
		})
		if err != nil {
			s.log.Error().Err(err).Str("student_id", st.ID).Msg("marking absent failed")
			continue
		}
		s.log.Info().Str("student_id", st.ID).Str("date", todayKey).Msg("marked absent")
		absencesMarkedTotal.Inc()
		marked++
	}

	if marked > 0 && s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.EventRefreshNeeded, todayKey); err != nil {
			s.log.Warn().Err(err).Msg("refresh notification failed")
		}
	}
	return marked, nil
}
