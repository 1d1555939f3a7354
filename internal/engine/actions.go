package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ykarpov/planner-bot/internal/extractor"
	"github.com/ykarpov/planner-bot/internal/models"
	"github.com/ykarpov/planner-bot/internal/session"
	"github.com/ykarpov/planner-bot/internal/storage"
	"github.com/ykarpov/planner-bot/internal/timeutil"
	"go.uber.org/zap"
)

const draftExpiredText = "That one has expired — just tell me about the event again."

// HandleCallback routes an inline-button payload. Payloads referencing
// an expired draft or a deleted event report that without touching any
// other session state.
func (e *Engine) HandleCallback(ctx context.Context, chatID int64, data string) *Reply {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		return textReply("I didn't understand that action.")
	}
	action, ref := parts[0], parts[1]

	s := e.sessions.Acquire(chatID)
	defer s.Unlock()
	s.Touch(e.now())

	switch action {
	case ActionConfirm:
		return e.confirmDraft(ctx, s, ref)
	case ActionEdit:
		return e.editDraft(s, ref)
	case ActionDiscard:
		return e.discardDraft(s, ref)
	case ActionKeepBoth:
		return e.resolveConflict(ctx, s, ref, false)
	case ActionReplace:
		return e.resolveConflict(ctx, s, ref, true)
	case ActionCancelConflict:
		return e.cancelConflict(s, ref)
	case ActionEditEvent:
		return e.chooseEditField(ctx, s, ref)
	case ActionEditField:
		if len(parts) != 3 {
			return textReply("I didn't understand that action.")
		}
		return e.startFieldEdit(ctx, s, ref, parts[2])
	case ActionDeleteEvent:
		return e.deleteEvent(ctx, s, ref)
	case ActionDeleteClass:
		return e.deleteClass(ctx, s, ref)
	}
	return textReply("I didn't understand that action.")
}

// confirmDraft re-validates completeness, then runs conflict detection.
// Conflicts push the draft into the keep/replace/cancel sub-state
// instead of committing.
func (e *Engine) confirmDraft(ctx context.Context, s *session.Session, draftID string) *Reply {
	d := s.FindDraft(draftID)
	if d == nil || d.State != session.StateAwaitingConfirm {
		return textReply(draftExpiredText)
	}

	now := e.now()
	if !d.Complete() {
		d.State = session.StateCollecting
		d.UpdatedAt = now
		return textReply("Still need: " + strings.Join(missingFields(d), ", "))
	}

	conflicts, err := e.findConflicts(ctx, s.ChatID, d.Date, d.StartTime, d.EndTime)
	if err != nil {
		e.logger.Error("Conflict check failed",
			zap.Error(err),
			zap.Int64("chat_id", s.ChatID))
		return textReply("⚠️ Sorry, I couldn't check your calendar. Please try again.")
	}

	if len(conflicts) > 0 {
		d.State = session.StateConflictPending
		d.Conflicts = conflicts
		d.UpdatedAt = now
		return &Reply{
			Text: "⚠️ That overlaps with:\n" + describeConflicts(conflicts) + "What should I do?",
			Buttons: [][]Button{{
				{Label: "Keep both", Data: ActionKeepBoth + ":" + d.ID},
				{Label: "Replace", Data: ActionReplace + ":" + d.ID},
				{Label: "Cancel", Data: ActionCancelConflict + ":" + d.ID},
			}},
		}
	}

	return e.commitDraft(ctx, s, d)
}

// resolveConflict handles the keep-both and replace choices. Replace
// deletes every conflicting item before committing.
func (e *Engine) resolveConflict(ctx context.Context, s *session.Session, draftID string, replace bool) *Reply {
	d := s.FindDraft(draftID)
	if d == nil || d.State != session.StateConflictPending {
		return textReply(draftExpiredText)
	}

	if replace {
		for _, c := range d.Conflicts {
			var err error
			switch c.Kind {
			case models.ConflictEvent:
				err = e.storage.DeleteEvent(ctx, s.ChatID, c.ID)
				e.reminders.Cancel(c.ID)
			case models.ConflictClass:
				err = e.storage.DeleteClass(ctx, s.ChatID, c.ID)
			}
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				e.logger.Error("Failed to delete conflicting item",
					zap.Error(err),
					zap.Int64("chat_id", s.ChatID),
					zap.Int64("item_id", c.ID))
			}
		}
	}

	return e.commitDraft(ctx, s, d)
}

// cancelConflict returns the draft to awaiting_confirm, leaving the
// conflicting items untouched.
func (e *Engine) cancelConflict(s *session.Session, draftID string) *Reply {
	d := s.FindDraft(draftID)
	if d == nil || d.State != session.StateConflictPending {
		return textReply(draftExpiredText)
	}

	d.State = session.StateAwaitingConfirm
	d.Conflicts = nil
	d.UpdatedAt = e.now()
	return &Reply{
		Text:    renderDraft(d, e.now()) + "\nSave this?",
		Buttons: confirmButtons(d.ID),
	}
}

func (e *Engine) commitDraft(ctx context.Context, s *session.Session, d *session.Draft) *Reply {
	event := &models.Event{
		ChatID:    s.ChatID,
		Title:     d.Task,
		Date:      d.Date,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
		Location:  d.Location,
		Category:  d.Category,
	}
	if err := e.storage.CreateEvent(ctx, event); err != nil {
		e.logger.Error("Failed to save event",
			zap.Error(err),
			zap.Int64("chat_id", s.ChatID),
			zap.String("title", d.Task))
		return textReply("⚠️ Sorry, I couldn't save that. Please try again.")
	}
	e.reminders.Schedule(event)
	s.RemoveDraft(d.ID)

	return textReply("Saved ✅\n" + renderEvent(event, e.now()))
}

// editDraft arms the one-shot overwrite so the next message is treated
// as an authoritative correction, and reopens collection.
func (e *Engine) editDraft(s *session.Session, draftID string) *Reply {
	d := s.FindDraft(draftID)
	if d == nil {
		return textReply(draftExpiredText)
	}

	d.OverwriteNext = true
	d.State = session.StateCollecting
	d.Conflicts = nil
	d.UpdatedAt = e.now()
	return textReply("Sure — what should I change?")
}

func (e *Engine) discardDraft(s *session.Session, draftID string) *Reply {
	if s.FindDraft(draftID) == nil {
		return textReply(draftExpiredText)
	}
	s.RemoveDraft(draftID)
	return textReply("Discarded.")
}

var editableFields = map[string]string{
	"title":    "new title",
	"date":     "new date",
	"time":     "new time",
	"location": "new location",
}

func (e *Engine) chooseEditField(ctx context.Context, s *session.Session, ref string) *Reply {
	eventID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return textReply("I didn't understand that action.")
	}
	event, err := e.storage.GetEvent(ctx, s.ChatID, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return textReply("That event no longer exists.")
	}
	if err != nil {
		e.logger.Error("Failed to load event", zap.Error(err), zap.Int64("event_id", eventID))
		return textReply("⚠️ Sorry, something went wrong. Please try again.")
	}

	prefix := ActionEditField + ":" + ref + ":"
	return &Reply{
		Text: "What do you want to change about \"" + event.Title + "\"?",
		Buttons: [][]Button{
			{
				{Label: "Title", Data: prefix + "title"},
				{Label: "Date", Data: prefix + "date"},
			},
			{
				{Label: "Time", Data: prefix + "time"},
				{Label: "Location", Data: prefix + "location"},
			},
		},
	}
}

// startFieldEdit sets the session's edit pointer. The pointer and the
// class-intake flag are never both set.
func (e *Engine) startFieldEdit(ctx context.Context, s *session.Session, ref, field string) *Reply {
	prompt, ok := editableFields[field]
	if !ok {
		return textReply("I didn't understand that action.")
	}
	eventID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return textReply("I didn't understand that action.")
	}
	if _, err := e.storage.GetEvent(ctx, s.ChatID, eventID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return textReply("That event no longer exists.")
		}
		e.logger.Error("Failed to load event", zap.Error(err), zap.Int64("event_id", eventID))
		return textReply("⚠️ Sorry, something went wrong. Please try again.")
	}

	s.ClassIntake = false
	s.EditTarget = &session.FieldEdit{EventID: eventID, Field: field}
	return textReply("Send me the " + prompt + ".")
}

// handleFieldEdit consumes a message while the edit pointer is set.
// Title and location take the text verbatim; date and time go back
// through the extractor. On failure the pointer stays set so the user
// can retry; nothing is mutated.
func (e *Engine) handleFieldEdit(ctx context.Context, s *session.Session, text string) *Reply {
	target := s.EditTarget
	event, err := e.storage.GetEvent(ctx, s.ChatID, target.EventID)
	if errors.Is(err, storage.ErrNotFound) {
		s.EditTarget = nil
		return textReply("That event no longer exists.")
	}
	if err != nil {
		e.logger.Error("Failed to load event", zap.Error(err), zap.Int64("event_id", target.EventID))
		return textReply("⚠️ Sorry, something went wrong. Please try again.")
	}

	now := e.now()
	switch target.Field {
	case "title", "location":
		value := strings.TrimSpace(text)
		if value == "" {
			return textReply("Please send me some text, or /cancel.")
		}
		if err := e.storage.UpdateEventField(ctx, s.ChatID, event.ID, target.Field, value); err != nil {
			e.logger.Error("Failed to update event", zap.Error(err), zap.Int64("event_id", event.ID))
			return textReply("⚠️ Sorry, I couldn't save that. Please try again.")
		}
		if target.Field == "title" {
			event.Title = value
		} else {
			event.Location = value
		}

	case "date":
		frag, err := e.extractor.ExtractFragment(ctx, text, now.Format("2006-01-02"))
		if err != nil {
			return e.extractionErrorReply(err)
		}
		if frag.Kind != extractor.FragmentUpdates || frag.Updates.Date == "" {
			return textReply("I couldn't read a date from that. Try something like \"next friday\", or /cancel.")
		}
		if err := e.storage.UpdateEventField(ctx, s.ChatID, event.ID, "date", frag.Updates.Date); err != nil {
			e.logger.Error("Failed to update event", zap.Error(err), zap.Int64("event_id", event.ID))
			return textReply("⚠️ Sorry, I couldn't save that. Please try again.")
		}
		event.Date = frag.Updates.Date

	case "time":
		frag, err := e.extractor.ExtractFragment(ctx, text, now.Format("2006-01-02"))
		if err != nil {
			return e.extractionErrorReply(err)
		}
		if frag.Kind != extractor.FragmentUpdates || frag.Updates.StartTime == "" {
			return textReply("I couldn't read a time from that. Try something like \"6:30pm\", or /cancel.")
		}
		if err := e.storage.UpdateEventField(ctx, s.ChatID, event.ID, "start_time", frag.Updates.StartTime); err != nil {
			e.logger.Error("Failed to update event", zap.Error(err), zap.Int64("event_id", event.ID))
			return textReply("⚠️ Sorry, I couldn't save that. Please try again.")
		}
		event.StartTime = frag.Updates.StartTime
		if frag.Updates.EndTime != "" {
			if err := e.storage.UpdateEventField(ctx, s.ChatID, event.ID, "end_time", frag.Updates.EndTime); err != nil {
				// Start time already took; keep the stale end rather than fail the edit.
				e.logger.Error("Failed to update event end time", zap.Error(err), zap.Int64("event_id", event.ID))
			} else {
				event.EndTime = frag.Updates.EndTime
			}
		}

	default:
		s.EditTarget = nil
		return textReply("I lost track of what we were editing, sorry.")
	}

	e.reminders.Reschedule(event)
	s.EditTarget = nil
	return textReply("Updated ✅\n" + renderEvent(event, now))
}

// StartClassIntake arms the session's intake flag; the next message is
// interpreted as a description of weekly classes.
func (e *Engine) StartClassIntake(chatID int64) *Reply {
	s := e.sessions.Acquire(chatID)
	defer s.Unlock()
	s.Touch(e.now())

	s.EditTarget = nil
	s.ClassIntake = true
	return textReply("Tell me about your weekly classes, e.g. \"Math on Monday 10-11:30 and PE on Thursday at 4pm\".")
}

// handleClassIntake consumes a message while the intake flag is set.
// Individually invalid entries were already dropped at the extractor
// boundary; the user learns how many made it.
func (e *Engine) handleClassIntake(ctx context.Context, s *session.Session, text string) *Reply {
	classes, err := e.extractor.ExtractClasses(ctx, text)
	if err != nil {
		return e.extractionErrorReply(err)
	}
	if len(classes) == 0 {
		return textReply("I couldn't read any weekly classes from that. Try again, or /cancel.")
	}

	var b strings.Builder
	saved := 0
	for i := range classes {
		classes[i].ChatID = s.ChatID
		if err := e.storage.CreateClass(ctx, &classes[i]); err != nil {
			e.logger.Error("Failed to save class",
				zap.Error(err),
				zap.Int64("chat_id", s.ChatID),
				zap.String("subject", classes[i].Subject))
			continue
		}
		saved++
		fmt.Fprintf(&b, "• %s — %s %s–%s\n",
			classes[i].Subject,
			timeutil.WeekdayName(classes[i].Weekday),
			classes[i].StartTime,
			classes[i].EndTime)
	}
	if saved == 0 {
		return textReply("⚠️ Sorry, I couldn't save those. Please try again.")
	}

	s.ClassIntake = false
	return textReply(fmt.Sprintf("Added %d class(es):\n%s", saved, strings.TrimRight(b.String(), "\n")))
}

// CancelPending clears the edit pointer or intake flag.
func (e *Engine) CancelPending(chatID int64) *Reply {
	s := e.sessions.Acquire(chatID)
	defer s.Unlock()
	s.Touch(e.now())

	switch {
	case s.EditTarget != nil:
		s.EditTarget = nil
		return textReply("Okay, edit cancelled.")
	case s.ClassIntake:
		s.ClassIntake = false
		return textReply("Okay, class entry cancelled.")
	}
	return textReply("Nothing to cancel.")
}

// ListEvents renders upcoming events with per-event edit and delete
// buttons.
func (e *Engine) ListEvents(ctx context.Context, chatID int64) *Reply {
	now := e.now()
	events, err := e.storage.EventsOnOrAfter(ctx, chatID, now.Format("2006-01-02"))
	if err != nil {
		e.logger.Error("Failed to list events", zap.Error(err), zap.Int64("chat_id", chatID))
		return textReply("⚠️ Sorry, I couldn't load your events. Please try again.")
	}
	if len(events) == 0 {
		return textReply("No upcoming events.")
	}

	var b strings.Builder
	var buttons [][]Button
	b.WriteString("Your upcoming events:\n")
	for _, event := range events {
		fmt.Fprintf(&b, "• %s — %s%s\n", event.Title, timeutil.FormatDate(event.Date, now), timeWindow(event.StartTime, event.EndTime))
		id := strconv.FormatInt(event.ID, 10)
		buttons = append(buttons, []Button{
			{Label: "✏️ " + event.Title, Data: ActionEditEvent + ":" + id},
			{Label: "🗑", Data: ActionDeleteEvent + ":" + id},
		})
	}
	return &Reply{Text: strings.TrimRight(b.String(), "\n"), Buttons: buttons}
}

// ListWeek renders the next seven days, grouped by day, with the
// weekly classes folded in alongside one-off events.
func (e *Engine) ListWeek(ctx context.Context, chatID int64) *Reply {
	now := e.now()
	from := now.Format("2006-01-02")
	to := now.AddDate(0, 0, 6).Format("2006-01-02")
	events, err := e.storage.EventsBetween(ctx, chatID, from, to)
	if err != nil {
		e.logger.Error("Failed to load week", zap.Error(err), zap.Int64("chat_id", chatID))
		return textReply("⚠️ Sorry, I couldn't load your week. Please try again.")
	}
	classes, err := e.storage.ListClasses(ctx, chatID)
	if err != nil {
		e.logger.Error("Failed to load classes for week", zap.Error(err), zap.Int64("chat_id", chatID))
		return textReply("⚠️ Sorry, I couldn't load your week. Please try again.")
	}

	byDate := make(map[string][]*models.Event)
	for _, event := range events {
		byDate[event.Date] = append(byDate[event.Date], event)
	}

	var b strings.Builder
	b.WriteString("Your week:\n")
	empty := true
	for i := 0; i < 7; i++ {
		day := now.AddDate(0, 0, i)
		date := day.Format("2006-01-02")
		var lines []string
		for _, class := range classes {
			if class.Weekday == int(day.Weekday()) {
				lines = append(lines, fmt.Sprintf("  • %s %s–%s", class.Subject, class.StartTime, class.EndTime))
			}
		}
		for _, event := range byDate[date] {
			lines = append(lines, fmt.Sprintf("  • %s%s", event.Title, timeWindow(event.StartTime, event.EndTime)))
		}
		if len(lines) == 0 {
			continue
		}
		empty = false
		fmt.Fprintf(&b, "%s\n%s\n", timeutil.FormatDate(date, now), strings.Join(lines, "\n"))
	}
	if empty {
		return textReply("Nothing on your calendar this week.")
	}
	return textReply(strings.TrimRight(b.String(), "\n"))
}

// ListClasses renders the weekly classes with delete buttons. Classes
// are never edited in place; the user deletes and re-adds.
func (e *Engine) ListClasses(ctx context.Context, chatID int64) *Reply {
	classes, err := e.storage.ListClasses(ctx, chatID)
	if err != nil {
		e.logger.Error("Failed to list classes", zap.Error(err), zap.Int64("chat_id", chatID))
		return textReply("⚠️ Sorry, I couldn't load your classes. Please try again.")
	}
	if len(classes) == 0 {
		return textReply("No weekly classes yet. Use /addclass to set them up.")
	}

	var b strings.Builder
	var buttons [][]Button
	b.WriteString("Your weekly classes:\n")
	for _, class := range classes {
		fmt.Fprintf(&b, "• %s — %s %s–%s\n", class.Subject, timeutil.WeekdayName(class.Weekday), class.StartTime, class.EndTime)
		buttons = append(buttons, []Button{
			{Label: "🗑 " + class.Subject, Data: ActionDeleteClass + ":" + strconv.FormatInt(class.ID, 10)},
		})
	}
	return &Reply{Text: strings.TrimRight(b.String(), "\n"), Buttons: buttons}
}

func (e *Engine) deleteEvent(ctx context.Context, s *session.Session, ref string) *Reply {
	eventID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return textReply("I didn't understand that action.")
	}
	err = e.storage.DeleteEvent(ctx, s.ChatID, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return textReply("That event no longer exists.")
	}
	if err != nil {
		e.logger.Error("Failed to delete event", zap.Error(err), zap.Int64("event_id", eventID))
		return textReply("⚠️ Sorry, I couldn't delete that. Please try again.")
	}
	e.reminders.Cancel(eventID)
	return textReply("Deleted.")
}

func (e *Engine) deleteClass(ctx context.Context, s *session.Session, ref string) *Reply {
	classID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return textReply("I didn't understand that action.")
	}
	err = e.storage.DeleteClass(ctx, s.ChatID, classID)
	if errors.Is(err, storage.ErrNotFound) {
		return textReply("That class no longer exists.")
	}
	if err != nil {
		e.logger.Error("Failed to delete class", zap.Error(err), zap.Int64("class_id", classID))
		return textReply("⚠️ Sorry, I couldn't delete that. Please try again.")
	}
	return textReply("Removed.")
}

func renderEvent(event *models.Event, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 %s\n%s%s", event.Title, timeutil.FormatDate(event.Date, now), timeWindow(event.StartTime, event.EndTime))
	if event.Location != "" {
		b.WriteString("\n📍 " + event.Location)
	}
	if event.Category != "" {
		b.WriteString("\n#" + string(event.Category))
	}
	return b.String()
}
