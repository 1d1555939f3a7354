package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ykarpov/planner-bot/internal/models"
)

// MemoryStorage is the in-memory Storage used by tests and the
// use_in_memory config mode. Iteration order is by ascending id so
// query results are deterministic.
type MemoryStorage struct {
	mu      sync.RWMutex
	nextID  int64
	events  map[int64]*models.Event
	classes map[int64]*models.Class
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		nextID:  1,
		events:  make(map[int64]*models.Event),
		classes: make(map[int64]*models.Class),
	}
}

func (s *MemoryStorage) CreateEvent(ctx context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID
	s.nextID++
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetEvent(ctx context.Context, chatID, eventID int64) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[eventID]
	if !exists || event.ChatID != chatID {
		return nil, ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *MemoryStorage) UpdateEventField(ctx context.Context, chatID, eventID int64, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, exists := s.events[eventID]
	if !exists || event.ChatID != chatID {
		return ErrNotFound
	}
	switch field {
	case "title":
		event.Title = value
	case "date":
		event.Date = value
	case "start_time":
		event.StartTime = value
	case "end_time":
		event.EndTime = value
	case "location":
		event.Location = value
	default:
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStorage) DeleteEvent(ctx context.Context, chatID, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, exists := s.events[eventID]
	if !exists || event.ChatID != chatID {
		return ErrNotFound
	}
	delete(s.events, eventID)
	return nil
}

func (s *MemoryStorage) EventsOnDate(ctx context.Context, chatID int64, date string) ([]*models.Event, error) {
	return s.eventsWhere(func(e *models.Event) bool {
		return e.ChatID == chatID && e.Date == date
	}), nil
}

func (s *MemoryStorage) EventsOnOrAfter(ctx context.Context, chatID int64, date string) ([]*models.Event, error) {
	return s.eventsWhere(func(e *models.Event) bool {
		return e.ChatID == chatID && e.Date >= date
	}), nil
}

func (s *MemoryStorage) EventsBetween(ctx context.Context, chatID int64, start, end string) ([]*models.Event, error) {
	return s.eventsWhere(func(e *models.Event) bool {
		return e.ChatID == chatID && e.Date >= start && e.Date <= end
	}), nil
}

func (s *MemoryStorage) UpcomingEvents(ctx context.Context, date string) ([]*models.Event, error) {
	return s.eventsWhere(func(e *models.Event) bool {
		return e.Date >= date
	}), nil
}

func (s *MemoryStorage) eventsWhere(match func(*models.Event) bool) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Event
	for _, event := range s.events {
		if match(event) {
			copied := *event
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *MemoryStorage) CreateClass(ctx context.Context, class *models.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	class.ID = s.nextID
	s.nextID++
	copied := *class
	s.classes[class.ID] = &copied
	return nil
}

func (s *MemoryStorage) ListClasses(ctx context.Context, chatID int64) ([]*models.Class, error) {
	return s.classesWhere(func(c *models.Class) bool {
		return c.ChatID == chatID
	}), nil
}

func (s *MemoryStorage) ClassesForWeekday(ctx context.Context, chatID int64, weekday int) ([]*models.Class, error) {
	return s.classesWhere(func(c *models.Class) bool {
		return c.ChatID == chatID && c.Weekday == weekday
	}), nil
}

func (s *MemoryStorage) classesWhere(match func(*models.Class) bool) []*models.Class {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Class
	for _, class := range s.classes {
		if match(class) {
			copied := *class
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *MemoryStorage) DeleteClass(ctx context.Context, chatID, classID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	class, exists := s.classes[classID]
	if !exists || class.ChatID != chatID {
		return ErrNotFound
	}
	delete(s.classes, classID)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
