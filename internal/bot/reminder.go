package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/00083ns/mtgnotif/internal/calendar"
	"github.com/00083ns/mtgnotif/internal/model"
	"github.com/00083ns/mtgnotif/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// timerFunc runs f once after d and returns a function that cancels it.
// The cancel function reports whether f was prevented from running.
type timerFunc func(d time.Duration, f func()) func() bool

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Scheduler sends one reminder per event, offset before the event starts.
// Reminders live only in memory.
type Scheduler struct {
	notifier notify.Notifier
	offset   time.Duration
	now      func() time.Time
	after    timerFunc
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]func() bool
	wg      sync.WaitGroup
}

// NewScheduler returns a Scheduler evaluating wall-clock times in loc.
func NewScheduler(notifier notify.Notifier, offset time.Duration, loc *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		notifier: notifier,
		offset:   offset,
		now:      func() time.Time { return time.Now().In(loc) },
		after:    afterFunc,
		logger:   logger,
		pending:  make(map[uuid.UUID]func() bool),
	}
}

// FireAt combines day's date with the HH:MM startTime and subtracts offset.
func FireAt(day time.Time, startTime string, offset time.Duration) (time.Time, error) {
	clock, err := time.Parse(calendar.ClockLayout, startTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q: %w", startTime, err)
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, day.Location())
	return start.Add(-offset), nil
}

// Schedule registers a one-shot reminder for each event and returns the
// registered jobs. Events whose reminder time has already passed, or whose
// start time cannot be read, are skipped.
func (s *Scheduler) Schedule(events []model.Event) []model.ReminderJob {
	now := s.now()
	jobs := make([]model.ReminderJob, 0, len(events))

	for _, e := range events {
		fireAt, err := FireAt(now, e.StartTime, s.offset)
		if err != nil {
			s.logger.Warn("reminder: skipping event", zap.String("summary", e.Summary), zap.Error(err))
			continue
		}
		if !fireAt.After(now) {
			s.logger.Info("reminder: time already passed", zap.String("summary", e.Summary), zap.Time("fire_at", fireAt))
			continue
		}

		job := model.ReminderJob{ID: uuid.New(), Event: e, FireAt: fireAt}
		s.register(job, fireAt.Sub(now))
		jobs = append(jobs, job)
		s.logger.Info("reminder: scheduled",
			zap.String("job", job.ID.String()),
			zap.String("summary", e.Summary),
			zap.String("fire_at", fireAt.Format(calendar.ClockLayout)))
	}
	return jobs
}

func (s *Scheduler) register(job model.ReminderJob, delay time.Duration) {
	s.wg.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[job.ID] = s.after(delay, func() { s.fire(job) })
}

func (s *Scheduler) fire(job model.ReminderJob) {
	defer s.wg.Done()

	s.mu.Lock()
	delete(s.pending, job.ID)
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.notifier.Notify(ctx, FormatReminder(job.Event, s.offset)); err != nil {
		s.logger.Error("reminder: send failed", zap.String("job", job.ID.String()), zap.String("summary", job.Event.Summary), zap.Error(err))
		if err := s.notifier.Notify(ctx, fmt.Sprintf(reminderFailed, job.Event.Summary)); err != nil {
			s.logger.Error("reminder: failure notice not delivered", zap.String("job", job.ID.String()), zap.Error(err))
		}
		return
	}
	s.logger.Info("reminder: sent", zap.String("job", job.ID.String()), zap.String("summary", job.Event.Summary))
}

// Pending returns the number of reminders that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every reminder that has not fired yet.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.pending {
		if cancel() {
			s.wg.Done()
		}
		delete(s.pending, id)
	}
}

// Wait blocks until every registered reminder has fired or been stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
