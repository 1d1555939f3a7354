package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ykarpov/planner-bot/internal/models"
)

func seedEvent(t *testing.T, h *harness, title, date, start, end string) *models.Event {
	t.Helper()
	event := &models.Event{
		ChatID:    testChat,
		Title:     title,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	}
	require.NoError(t, h.storage.CreateEvent(context.Background(), event))
	return event
}

func TestConflictBoundaryExclusive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedEvent(t, h, "Standup", "2025-04-10", "10:00", "11:00")

	// Starting exactly at the other's end does not collide.
	conflicts, err := h.engine.findConflicts(ctx, testChat, "2025-04-10", "11:00", "12:00")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// Contained interval does.
	conflicts, err = h.engine.findConflicts(ctx, testChat, "2025-04-10", "10:30", "10:45")
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestConflictSymmetric(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedEvent(t, h, "Standup", "2025-04-10", "10:30", "10:45")

	conflicts, err := h.engine.findConflicts(ctx, testChat, "2025-04-10", "10:00", "11:00")
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestConflictDefaultDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// No end time: treated as 60 minutes, so 14:00 runs to 15:00.
	seedEvent(t, h, "Call", "2025-04-10", "14:00", "")

	conflicts, err := h.engine.findConflicts(ctx, testChat, "2025-04-10", "14:45", "")
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	conflicts, err = h.engine.findConflicts(ctx, testChat, "2025-04-10", "15:00", "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestConflictNoStartTimeNoWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedEvent(t, h, "All day thing", "2025-04-10", "", "")
	seedEvent(t, h, "Call", "2025-04-10", "14:00", "15:00")

	// Candidate without a start time collides with nothing.
	conflicts, err := h.engine.findConflicts(ctx, testChat, "2025-04-10", "", "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	// Existing items without a start time are skipped too.
	conflicts, err = h.engine.findConflicts(ctx, testChat, "2025-04-10", "14:00", "")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "Call", conflicts[0].Title)
}

func TestConflictIncludesMatchingWeekdayClass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 2025-04-10 is a Thursday (weekday 4).
	require.NoError(t, h.storage.CreateClass(ctx, &models.Class{
		ChatID: testChat, Subject: "Math", Weekday: 4, StartTime: "10:00", EndTime: "11:30",
	}))
	require.NoError(t, h.storage.CreateClass(ctx, &models.Class{
		ChatID: testChat, Subject: "PE", Weekday: 5, StartTime: "10:00", EndTime: "11:30",
	}))

	conflicts, err := h.engine.findConflicts(ctx, testChat, "2025-04-10", "11:00", "12:00")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictClass, conflicts[0].Kind)
	assert.Equal(t, "Math", conflicts[0].Title)
}

func TestConflictOrderEventsThenClasses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.storage.CreateClass(ctx, &models.Class{
		ChatID: testChat, Subject: "Math", Weekday: 4, StartTime: "10:00", EndTime: "12:00",
	}))
	seedEvent(t, h, "Call", "2025-04-10", "10:00", "11:00")
	seedEvent(t, h, "Standup", "2025-04-10", "10:15", "10:30")

	conflicts, err := h.engine.findConflicts(ctx, testChat, "2025-04-10", "10:00", "12:00")
	require.NoError(t, err)
	require.Len(t, conflicts, 3)
	assert.Equal(t, "Call", conflicts[0].Title)
	assert.Equal(t, "Standup", conflicts[1].Title)
	assert.Equal(t, "Math", conflicts[2].Title)
}
