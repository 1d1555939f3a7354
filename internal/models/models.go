package models

import "time"

// Category is the fixed set of tags the extractor may assign to an event.
type Category string

const (
	CategorySports   Category = "sports"
	CategoryMeeting  Category = "meeting"
	CategoryClass    Category = "class"
	CategoryDeadline Category = "deadline"
	CategorySocial   Category = "social"
	CategoryAdmin    Category = "admin"
	CategoryOther    Category = "other"
)

// ValidCategory reports whether c is one of the known tags.
func ValidCategory(c Category) bool {
	switch c {
	case CategorySports, CategoryMeeting, CategoryClass, CategoryDeadline,
		CategorySocial, CategoryAdmin, CategoryOther:
		return true
	}
	return false
}

// Event is a committed calendar entry owned by one chat.
// Date is an opaque YYYY-MM-DD token; StartTime and EndTime are opaque
// 24-hour HH:MM tokens, empty when the user gave no time. No timezone
// conversion is ever applied to these fields.
type Event struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	Location  string    `json:"location,omitempty"`
	Category  Category  `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConflictKind distinguishes the two populations a candidate event can
// collide with.
type ConflictKind string

const (
	ConflictEvent ConflictKind = "event"
	ConflictClass ConflictKind = "class"
)

// Conflict describes one existing commitment overlapping a candidate
// time window, with enough data to render a summary and to delete the
// item individually.
type Conflict struct {
	Kind      ConflictKind
	ID        int64
	Title     string
	StartTime string
	EndTime   string
}

// Class is a weekly recurring commitment. Weekday uses 0 = Sunday.
// Classes are never edited in place; the bot deletes and recreates.
type Class struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat_id"`
	Subject   string `json:"subject"`
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Location  string `json:"location,omitempty"`
}
