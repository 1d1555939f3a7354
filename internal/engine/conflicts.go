package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ykarpov/planner-bot/internal/models"
	"github.com/ykarpov/planner-bot/internal/timeutil"
)

// DefaultEventDuration is the assumed length in minutes of any event
// that has a start time but no end time, on both sides of a comparison.
const DefaultEventDuration = 60

// findConflicts returns every commitment overlapping the candidate
// window on the given date: one-off events on that exact day, then
// classes recurring on that weekday. A candidate without a start time
// has no window and conflicts with nothing. Intervals are half-open,
// so back-to-back events do not collide.
func (e *Engine) findConflicts(ctx context.Context, chatID int64, date, startTime, endTime string) ([]models.Conflict, error) {
	if startTime == "" {
		return nil, nil
	}
	candStart := timeutil.TimeToMinutes(startTime)
	if candStart < 0 {
		return nil, nil
	}
	candEnd := windowEnd(candStart, endTime, e.defaultDuration)

	var conflicts []models.Conflict

	events, err := e.storage.EventsOnDate(ctx, chatID, date)
	if err != nil {
		return nil, fmt.Errorf("conflict lookup: %w", err)
	}
	for _, other := range events {
		otherStart := timeutil.TimeToMinutes(other.StartTime)
		if otherStart < 0 {
			continue
		}
		otherEnd := windowEnd(otherStart, other.EndTime, e.defaultDuration)
		if candStart < otherEnd && otherStart < candEnd {
			conflicts = append(conflicts, models.Conflict{
				Kind:      models.ConflictEvent,
				ID:        other.ID,
				Title:     other.Title,
				StartTime: other.StartTime,
				EndTime:   other.EndTime,
			})
		}
	}

	weekday := timeutil.DayOfWeek(date)
	if weekday < 0 {
		return conflicts, nil
	}
	classes, err := e.storage.ClassesForWeekday(ctx, chatID, weekday)
	if err != nil {
		return nil, fmt.Errorf("conflict lookup: %w", err)
	}
	for _, class := range classes {
		otherStart := timeutil.TimeToMinutes(class.StartTime)
		if otherStart < 0 {
			continue
		}
		otherEnd := windowEnd(otherStart, class.EndTime, e.defaultDuration)
		if candStart < otherEnd && otherStart < candEnd {
			conflicts = append(conflicts, models.Conflict{
				Kind:      models.ConflictClass,
				ID:        class.ID,
				Title:     class.Subject,
				StartTime: class.StartTime,
				EndTime:   class.EndTime,
			})
		}
	}

	return conflicts, nil
}

func windowEnd(start int, endTime string, defaultDuration int) int {
	if endTime != "" {
		if end := timeutil.TimeToMinutes(endTime); end > start {
			return end
		}
	}
	return start + defaultDuration
}

func describeConflicts(conflicts []models.Conflict) string {
	var b strings.Builder
	for _, c := range conflicts {
		label := "event"
		if c.Kind == models.ConflictClass {
			label = "weekly class"
		}
		window := c.StartTime
		if c.EndTime != "" {
			window += "–" + c.EndTime
		}
		fmt.Fprintf(&b, "• %s (%s, %s)\n", c.Title, label, window)
	}
	return b.String()
}
