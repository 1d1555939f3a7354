package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ykarpov/planner-bot/internal/extractor"
	"github.com/ykarpov/planner-bot/internal/models"
	"github.com/ykarpov/planner-bot/internal/reminder"
	"github.com/ykarpov/planner-bot/internal/session"
	"github.com/ykarpov/planner-bot/internal/storage"
	"github.com/ykarpov/planner-bot/internal/timeutil"
	"go.uber.org/zap"
)

// maxCommitSummary bounds how many batch-committed events are listed in
// the reply; commits beyond it still happen, only the display truncates.
const maxCommitSummary = 8

// Engine is the draft reconciliation state machine. It owns no
// transport: every entry point returns a Reply for the bot layer to
// render. Callers are serialized per chat by the session lock taken at
// each entry point.
type Engine struct {
	storage   storage.Storage
	extractor extractor.Extractor
	sessions  *session.Store
	reminders *reminder.Scheduler
	logger    *zap.Logger

	now             func() time.Time
	defaultDuration int
}

func New(store storage.Storage, ext extractor.Extractor, sessions *session.Store, reminders *reminder.Scheduler, defaultDuration int, logger *zap.Logger) *Engine {
	if defaultDuration <= 0 {
		defaultDuration = DefaultEventDuration
	}
	return &Engine{
		storage:         store,
		extractor:       ext,
		sessions:        sessions,
		reminders:       reminders,
		logger:          logger,
		now:             time.Now,
		defaultDuration: defaultDuration,
	}
}

// SetClock replaces the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// HandleMessage runs one free-text message through the interception
// chain: field edit first, then class intake, then draft reconciliation.
func (e *Engine) HandleMessage(ctx context.Context, chatID int64, text string) *Reply {
	s := e.sessions.Acquire(chatID)
	defer s.Unlock()

	now := e.now()
	s.Touch(now)

	if s.EditTarget != nil {
		return e.handleFieldEdit(ctx, s, text)
	}
	if s.ClassIntake {
		return e.handleClassIntake(ctx, s, text)
	}

	frag, err := e.extractor.ExtractFragment(ctx, text, now.Format("2006-01-02"))
	if err != nil {
		return e.extractionErrorReply(err)
	}

	switch frag.Kind {
	case extractor.FragmentEvents:
		return e.commitBatch(ctx, s, frag.Events)
	case extractor.FragmentUpdates:
		return e.mergeFragment(ctx, s, frag.Updates, now)
	}

	if frag.Note != "" {
		return textReply(frag.Note)
	}
	return textReply("I couldn't find anything to schedule there. Tell me what, and when.")
}

// commitBatch is the immediate-commit path: every event is trusted as
// authoritative and persisted in input order with no conflict check.
func (e *Engine) commitBatch(ctx context.Context, s *session.Session, inputs []extractor.EventInput) *Reply {
	var saved []*models.Event
	failed := 0
	for _, in := range inputs {
		event := &models.Event{
			ChatID:    s.ChatID,
			Title:     in.Title,
			Date:      in.Date,
			StartTime: in.StartTime,
			EndTime:   in.EndTime,
			Location:  in.Location,
			Category:  in.Category,
		}
		if err := e.storage.CreateEvent(ctx, event); err != nil {
			e.logger.Error("Failed to save batch event",
				zap.Error(err),
				zap.Int64("chat_id", s.ChatID),
				zap.String("title", in.Title))
			failed++
			continue
		}
		e.reminders.Schedule(event)
		saved = append(saved, event)
	}

	if len(saved) == 0 {
		return textReply("Sorry, I couldn't save those. Please try again.")
	}

	now := e.now()
	var b strings.Builder
	fmt.Fprintf(&b, "Saved %d event(s):\n", len(saved))
	for i, event := range saved {
		if i == maxCommitSummary {
			fmt.Fprintf(&b, "…and %d more\n", len(saved)-maxCommitSummary)
			break
		}
		fmt.Fprintf(&b, "• %s — %s%s\n", event.Title, timeutil.FormatDate(event.Date, now), timeWindow(event.StartTime, event.EndTime))
	}
	if failed > 0 {
		fmt.Fprintf(&b, "(%d could not be saved)", failed)
	}
	return textReply(strings.TrimRight(b.String(), "\n"))
}

// mergeFragment is the draft merge path: locate or create the active
// draft, decide fork-vs-continue, merge fields, then check completeness.
func (e *Engine) mergeFragment(ctx context.Context, s *session.Session, u *extractor.Updates, now time.Time) *Reply {
	d := s.ActiveDraft()
	switch {
	case d == nil:
		d = s.NewDraft(now)
	case shouldStartNewDraft(d, u):
		// The old draft stays in the session until it expires or is
		// separately confirmed; new input describes a different event.
		d = s.NewDraft(now)
	}

	mergeDraft(d, u)
	d.UpdatedAt = now

	if !d.Complete() {
		return &Reply{Text: renderDraft(d, now) + "\nStill need: " + strings.Join(missingFields(d), ", ")}
	}

	d.State = session.StateAwaitingConfirm
	return &Reply{
		Text:    renderDraft(d, now) + "\nSave this?",
		Buttons: confirmButtons(d.ID),
	}
}

// shouldStartNewDraft forks when the fragment contradicts an already
// substantive draft: a different date when the draft has other content,
// or a different title when the draft is dated. An explicit correction
// (overwrite intent, or a pending edit action) always continues.
func shouldStartNewDraft(d *session.Draft, u *extractor.Updates) bool {
	if u.Overwrite || d.OverwriteNext {
		return false
	}
	if u.Date != "" && d.Date != "" && u.Date != d.Date {
		if d.Task != "" || d.StartTime != "" || d.Location != "" {
			return true
		}
	}
	if u.Task != "" && d.Task != "" && u.Task != d.Task && d.Date != "" {
		return true
	}
	return false
}

// mergeDraft applies the non-empty fragment fields. Filled draft fields
// are only overwritten under explicit intent or the one-shot
// OverwriteNext flag, which is consumed here.
func mergeDraft(d *session.Draft, u *extractor.Updates) {
	overwrite := u.Overwrite || d.OverwriteNext

	setField(&d.Task, u.Task, overwrite)
	setField(&d.Date, u.Date, overwrite)
	setField(&d.StartTime, u.StartTime, overwrite)
	setField(&d.EndTime, u.EndTime, overwrite)
	setField(&d.Location, u.Location, overwrite)
	if u.Category != "" && (d.Category == "" || overwrite) {
		d.Category = u.Category
	}

	d.OverwriteNext = false
}

func setField(dst *string, value string, overwrite bool) {
	if value == "" {
		return
	}
	if *dst == "" || overwrite {
		*dst = value
	}
}

func missingFields(d *session.Draft) []string {
	var missing []string
	if d.Task == "" {
		missing = append(missing, "what")
	}
	if d.Date == "" {
		missing = append(missing, "when")
	}
	return missing
}

func renderDraft(d *session.Draft, now time.Time) string {
	var b strings.Builder
	title := d.Task
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "📅 %s\n", title)
	if d.Date != "" {
		fmt.Fprintf(&b, "%s%s\n", timeutil.FormatDate(d.Date, now), timeWindow(d.StartTime, d.EndTime))
	}
	if d.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", d.Location)
	}
	if d.Category != "" {
		fmt.Fprintf(&b, "#%s\n", d.Category)
	}
	return strings.TrimRight(b.String(), "\n")
}

func timeWindow(start, end string) string {
	if start == "" {
		return ""
	}
	if end == "" {
		return " at " + start
	}
	return " at " + start + "–" + end
}

func confirmButtons(draftID string) [][]Button {
	return [][]Button{{
		{Label: "✅ Save", Data: ActionConfirm + ":" + draftID},
		{Label: "✏️ Edit", Data: ActionEdit + ":" + draftID},
		{Label: "🗑 Discard", Data: ActionDiscard + ":" + draftID},
	}}
}

func (e *Engine) extractionErrorReply(err error) *Reply {
	switch {
	case errors.Is(err, extractor.ErrInvalidCredentials):
		return textReply("⚠️ My language service rejected its credentials. Please tell the operator.")
	case errors.Is(err, extractor.ErrRateLimited):
		return textReply("⚠️ I'm being rate limited right now. Give me a minute and try again.")
	}
	e.logger.Error("Extraction failed", zap.Error(err))
	return textReply("⚠️ Sorry, I couldn't process that. Please try again.")
}
