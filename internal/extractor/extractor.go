package extractor

import (
	"context"
	"errors"

	"github.com/ykarpov/planner-bot/internal/models"
)

// Fragment kinds returned by the extraction service. The raw model output
// is validated at this boundary; the engine only ever sees these shapes.
type FragmentKind string

const (
	// FragmentUpdates carries a sparse partial event record.
	FragmentUpdates FragmentKind = "updates"
	// FragmentEvents carries fully-specified events to commit directly.
	FragmentEvents FragmentKind = "events"
	// FragmentNone means the message was not schedule-related.
	FragmentNone FragmentKind = "none"
)

// Updates is a sparse partial event record. Empty string means the field
// was not mentioned. Overwrite is set when the user explicitly corrected
// a previously given value ("no, make it 6pm").
type Updates struct {
	Task      string
	Date      string
	StartTime string
	EndTime   string
	Location  string
	Category  models.Category
	Overwrite bool
}

// Empty reports whether the fragment carries no usable field at all.
func (u Updates) Empty() bool {
	return u.Task == "" && u.Date == "" && u.StartTime == "" &&
		u.EndTime == "" && u.Location == ""
}

// EventInput is one fully-specified event from a batch extraction.
// Title and Date are guaranteed non-empty after boundary validation.
type EventInput struct {
	Title     string
	Date      string
	StartTime string
	EndTime   string
	Location  string
	Category  models.Category
}

// Fragment is the closed union handed to the reconciliation engine.
type Fragment struct {
	Kind    FragmentKind
	Updates *Updates     // set when Kind == FragmentUpdates
	Events  []EventInput // set when Kind == FragmentEvents
	Note    string       // model's remark when Kind == FragmentNone
}

// Extraction failure taxonomy. The bot surfaces these verbatim and makes
// no state change for any of them.
var (
	ErrInvalidCredentials = errors.New("extraction service rejected credentials")
	ErrRateLimited        = errors.New("extraction service rate limited")
	ErrExtraction         = errors.New("extraction failed")
)

// Extractor is the language-model collaborator that turns free text into
// structured fragments.
type Extractor interface {
	// ExtractFragment interprets a chat message relative to currentDate
	// (YYYY-MM-DD, the user's today).
	ExtractFragment(ctx context.Context, text, currentDate string) (*Fragment, error)

	// ExtractClasses interprets a message describing weekly recurring
	// commitments. Individually invalid entries are dropped; the
	// returned slice holds only validated classes.
	ExtractClasses(ctx context.Context, text string) ([]models.Class, error)
}
