package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ykarpov/planner-bot/internal/models"
)

// DraftState is the lifecycle state of an in-flight event proposal.
type DraftState string

const (
	// StateCollecting accumulates fragments until title and date are known.
	StateCollecting DraftState = "collecting"
	// StateAwaitingConfirm has a complete proposal waiting on the user.
	StateAwaitingConfirm DraftState = "awaiting_confirm"
	// StateConflictPending is awaiting a keep/replace/cancel choice.
	StateConflictPending DraftState = "conflict_pending"
)

// Draft is a partially-filled event proposal owned by one session.
type Draft struct {
	ID        string
	State     DraftState
	Task      string
	Date      string
	StartTime string
	EndTime   string
	Location  string
	Category  models.Category

	// OverwriteNext is one-shot: the next merge may overwrite filled
	// fields even without explicit overwrite intent. Set by the Edit
	// action, consumed by the first merge after it.
	OverwriteNext bool

	UpdatedAt time.Time

	// Conflicts is populated while State == StateConflictPending.
	Conflicts []models.Conflict
}

// Complete reports whether the draft can move to awaiting_confirm:
// both task and date must be present. Time, location and category
// stay optional.
func (d *Draft) Complete() bool {
	return d.Task != "" && d.Date != ""
}

// FieldEdit points at one field of a committed event the user is
// currently re-entering.
type FieldEdit struct {
	EventID int64
	Field   string
}

// Session is the per-chat ephemeral state. Callers must hold Lock for
// the duration of any message or callback handling that touches it;
// this serializes processing per conversation.
type Session struct {
	mu sync.Mutex

	ChatID       int64
	Drafts       []*Draft // insertion order; reverse scan finds the active draft
	LastActivity time.Time

	// EditTarget and ClassIntake are mutually exclusive; the message
	// handler checks EditTarget first.
	EditTarget  *FieldEdit
	ClassIntake bool

	// gone is set, under the session lock, when the sweep removes the
	// session from the store. Store.Acquire retries on it so no caller
	// ever mutates an orphaned session.
	gone bool
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records activity for the idle-session sweep.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// ActiveDraft returns the most recently inserted draft still collecting,
// or nil.
func (s *Session) ActiveDraft() *Draft {
	for i := len(s.Drafts) - 1; i >= 0; i-- {
		if s.Drafts[i].State == StateCollecting {
			return s.Drafts[i]
		}
	}
	return nil
}

// FindDraft looks a draft up by id.
func (s *Session) FindDraft(id string) *Draft {
	for _, d := range s.Drafts {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// RemoveDraft drops a draft by id, preserving insertion order.
func (s *Session) RemoveDraft(id string) {
	for i, d := range s.Drafts {
		if d.ID == id {
			s.Drafts = append(s.Drafts[:i], s.Drafts[i+1:]...)
			return
		}
	}
}

// NewDraft appends a fresh collecting draft and returns it.
func (s *Session) NewDraft(now time.Time) *Draft {
	d := &Draft{
		ID:        uuid.New().String(),
		State:     StateCollecting,
		UpdatedAt: now,
	}
	s.Drafts = append(s.Drafts, d)
	return d
}
