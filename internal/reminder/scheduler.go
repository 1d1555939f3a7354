package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ykarpov/planner-bot/internal/models"
	"github.com/ykarpov/planner-bot/internal/timeutil"
	"go.uber.org/zap"
)

// Offsets are the reminder lead times in minutes before the event start.
var Offsets = []int{1440, 360, 30}

// Notifier delivers a reminder to the chat transport.
type Notifier interface {
	Notify(chatID int64, text string)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// TimerFactory creates a Timer firing f after d. Tests substitute a
// manual implementation for time travel.
type TimerFactory func(d time.Duration, f func()) Timer

type afterFuncTimer struct{ t *time.Timer }

func (a afterFuncTimer) Stop() bool { return a.t.Stop() }

func realTimer(d time.Duration, f func()) Timer {
	return afterFuncTimer{t: time.AfterFunc(d, f)}
}

// Scheduler keeps the in-memory registry of pending reminder timers,
// keyed by (event id, offset). Registration does not survive restarts;
// Rescan rebuilds it on startup.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]Timer

	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newTimer TimerFactory
	loc      *time.Location
}

func NewScheduler(notifier Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers:   make(map[string]Timer),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newTimer: realTimer,
		loc:      time.Local,
	}
}

// SetClock replaces the time source and timer factory, for tests.
func (s *Scheduler) SetClock(now func() time.Time, factory TimerFactory) {
	s.now = now
	s.newTimer = factory
}

func reminderKey(eventID int64, offset int) string {
	return fmt.Sprintf("%d:%d", eventID, offset)
}

// Schedule registers every lead time of the event that is still in the
// future. Events without a start time get no reminders. Lead times
// already past are skipped silently; there is no catch-up firing.
// Returns how many timers were registered.
func (s *Scheduler) Schedule(event *models.Event) int {
	if event.StartTime == "" {
		return 0
	}
	start, err := timeutil.EventInstant(event.Date, event.StartTime, s.loc)
	if err != nil {
		s.logger.Warn("Unschedulable event instant",
			zap.Int64("event_id", event.ID),
			zap.String("date", event.Date),
			zap.String("start_time", event.StartTime))
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	registered := 0
	for _, offset := range Offsets {
		fireAt := start.Add(-time.Duration(offset) * time.Minute)
		if !fireAt.After(now) {
			continue
		}
		key := reminderKey(event.ID, offset)
		if old, exists := s.timers[key]; exists {
			old.Stop()
		}

		chatID := event.ChatID
		text := reminderText(event, offset)
		k := key
		s.timers[k] = s.newTimer(fireAt.Sub(now), func() {
			s.fire(k, chatID, text)
		})
		registered++
	}
	return registered
}

func (s *Scheduler) fire(key string, chatID int64, text string) {
	s.mu.Lock()
	delete(s.timers, key)
	s.mu.Unlock()

	s.notifier.Notify(chatID, text)
}

// Cancel unregisters all pending reminders for an event, tolerating any
// subset already fired or never scheduled.
func (s *Scheduler) Cancel(eventID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, offset := range Offsets {
		key := reminderKey(eventID, offset)
		if t, exists := s.timers[key]; exists {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// Reschedule is the cancel-then-schedule pair every event mutation runs.
func (s *Scheduler) Reschedule(event *models.Event) {
	s.Cancel(event.ID)
	s.Schedule(event)
}

// EventSource is the slice of the storage layer the rescan needs.
type EventSource interface {
	UpcomingEvents(ctx context.Context, date string) ([]*models.Event, error)
}

// Rescan re-registers reminders for every future-dated event with a
// start time, recovering the in-memory registry after a restart.
func (s *Scheduler) Rescan(ctx context.Context, store EventSource) error {
	today := s.now().Format("2006-01-02")
	events, err := store.UpcomingEvents(ctx, today)
	if err != nil {
		return fmt.Errorf("rescan query: %w", err)
	}

	total := 0
	for _, event := range events {
		total += s.Schedule(event)
	}
	s.logger.Info("Rescheduled reminders",
		zap.Int("events", len(events)),
		zap.Int("timers", total))
	return nil
}

// Pending reports the number of registered timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func reminderText(event *models.Event, offset int) string {
	var lead string
	switch offset {
	case 1440:
		lead = "tomorrow"
	case 360:
		lead = "in 6 hours"
	default:
		lead = fmt.Sprintf("in %d minutes", offset)
	}

	text := fmt.Sprintf("⏰ %s %s at %s", event.Title, lead, event.StartTime)
	if event.Location != "" {
		text += " (" + event.Location + ")"
	}
	return text
}
