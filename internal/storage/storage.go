package storage

import (
	"context"
	"errors"

	"github.com/ykarpov/planner-bot/internal/models"
)

// ErrNotFound is returned when an event or class id does not exist
// for the given chat.
var ErrNotFound = errors.New("not found")

type Storage interface {
	EventStorage
	ClassStorage
	Close() error
}

type EventStorage interface {
	// CreateEvent persists the event and fills ID and CreatedAt.
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, chatID, eventID int64) (*models.Event, error)
	// UpdateEventField sets one of title/date/start_time/end_time/location.
	UpdateEventField(ctx context.Context, chatID, eventID int64, field, value string) error
	DeleteEvent(ctx context.Context, chatID, eventID int64) error
	EventsOnDate(ctx context.Context, chatID int64, date string) ([]*models.Event, error)
	EventsOnOrAfter(ctx context.Context, chatID int64, date string) ([]*models.Event, error)
	EventsBetween(ctx context.Context, chatID int64, start, end string) ([]*models.Event, error)
	// UpcomingEvents spans all chats; used for the reminder rescan on startup.
	UpcomingEvents(ctx context.Context, date string) ([]*models.Event, error)
}

type ClassStorage interface {
	CreateClass(ctx context.Context, class *models.Class) error
	ListClasses(ctx context.Context, chatID int64) ([]*models.Class, error)
	ClassesForWeekday(ctx context.Context, chatID int64, weekday int) ([]*models.Class, error)
	DeleteClass(ctx context.Context, chatID, classID int64) error
}
