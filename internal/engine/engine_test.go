package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ykarpov/planner-bot/internal/extractor"
	"github.com/ykarpov/planner-bot/internal/models"
	"github.com/ykarpov/planner-bot/internal/reminder"
	"github.com/ykarpov/planner-bot/internal/session"
	"github.com/ykarpov/planner-bot/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testChat int64 = 42

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)

type fakeExtractor struct {
	frag    *extractor.Fragment
	err     error
	classes []models.Class
}

func (f *fakeExtractor) ExtractFragment(ctx context.Context, text, currentDate string) (*extractor.Fragment, error) {
	return f.frag, f.err
}

func (f *fakeExtractor) ExtractClasses(ctx context.Context, text string) ([]models.Class, error) {
	return f.classes, f.err
}

type nopNotifier struct{}

func (nopNotifier) Notify(chatID int64, text string) {}

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

type harness struct {
	engine    *Engine
	storage   *storage.MemoryStorage
	sessions  *session.Store
	extractor *fakeExtractor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storage.NewMemoryStorage()
	ext := &fakeExtractor{}
	sessions := session.NewStore(0, 0, zap.NewNop())
	sessions.SetClock(func() time.Time { return testNow })

	reminders := reminder.NewScheduler(nopNotifier{}, zap.NewNop())
	reminders.SetClock(func() time.Time { return testNow }, func(d time.Duration, f func()) reminder.Timer {
		return nopTimer{}
	})

	e := New(store, ext, sessions, reminders, 0, zap.NewNop())
	e.SetClock(func() time.Time { return testNow })

	return &harness{engine: e, storage: store, sessions: sessions, extractor: ext}
}

func (h *harness) send(u *extractor.Updates) *Reply {
	h.extractor.frag = &extractor.Fragment{Kind: extractor.FragmentUpdates, Updates: u}
	return h.engine.HandleMessage(context.Background(), testChat, "msg")
}

func (h *harness) session() *session.Session {
	return h.sessions.GetOrCreate(testChat)
}

func TestEmptyDraftRefinedNotForked(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Date: "2025-03-01"})
	require.Len(t, h.session().Drafts, 1)

	// A second detail lands in the same draft.
	h.send(&extractor.Updates{StartTime: "14:00"})
	require.Len(t, h.session().Drafts, 1)
	d := h.session().Drafts[0]
	assert.Equal(t, "2025-03-01", d.Date)
	assert.Equal(t, "14:00", d.StartTime)
	assert.Equal(t, session.StateCollecting, d.State)
}

func TestNewDateOnSubstantiveDraftForks(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-03-01"})
	require.Len(t, h.session().Drafts, 1)
	original := h.session().Drafts[0]

	h.send(&extractor.Updates{Date: "2025-03-05"})
	require.Len(t, h.session().Drafts, 2)

	// The original draft is left intact in the session.
	assert.Equal(t, "2025-03-01", original.Date)
	assert.Equal(t, "Gym", original.Task)
	assert.Equal(t, "2025-03-05", h.session().Drafts[1].Date)
}

func TestNewTaskOnDatedDraftForks(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-03-01"})
	h.send(&extractor.Updates{Task: "Swim"})

	require.Len(t, h.session().Drafts, 2)
	assert.Equal(t, "Gym", h.session().Drafts[0].Task)
	assert.Equal(t, "Swim", h.session().Drafts[1].Task)
}

func TestNonDestructiveMergeNeverAltersSetFields(t *testing.T) {
	h := newHarness(t)

	// No date yet, so the draft stays in collecting.
	h.send(&extractor.Updates{Task: "Gym", StartTime: "14:00"})
	d := h.session().Drafts[0]

	h.send(&extractor.Updates{StartTime: "18:00", Location: "hall"})
	require.Len(t, h.session().Drafts, 1)
	assert.Equal(t, "14:00", d.StartTime)             // set field survives
	assert.Equal(t, "hall", d.Location)               // empty field still fills
	assert.Equal(t, session.StateCollecting, d.State) // still no date
}

func TestOverwriteIntentContinuesAndOverwrites(t *testing.T) {
	h := newHarness(t)

	// Dated draft with other content but no task: still collecting.
	h.send(&extractor.Updates{Date: "2025-03-01", StartTime: "14:00"})
	h.send(&extractor.Updates{Date: "2025-03-05", Overwrite: true})

	// An explicit correction never forks, even with a new date.
	require.Len(t, h.session().Drafts, 1)
	assert.Equal(t, "2025-03-05", h.session().Drafts[0].Date)
}

func TestShouldStartNewDraft(t *testing.T) {
	cases := []struct {
		name  string
		draft session.Draft
		u     extractor.Updates
		want  bool
	}{
		{
			name:  "new date on substantive draft",
			draft: session.Draft{Task: "Gym", Date: "2025-03-01"},
			u:     extractor.Updates{Date: "2025-03-05"},
			want:  true,
		},
		{
			name:  "new task on dated draft",
			draft: session.Draft{Task: "Gym", Date: "2025-03-01"},
			u:     extractor.Updates{Task: "Swim"},
			want:  true,
		},
		{
			name:  "date refines empty draft",
			draft: session.Draft{},
			u:     extractor.Updates{Date: "2025-03-01"},
			want:  false,
		},
		{
			name:  "new date on date-only draft refines",
			draft: session.Draft{Date: "2025-03-01"},
			u:     extractor.Updates{Date: "2025-03-05"},
			want:  false,
		},
		{
			name:  "new task on undated draft refines",
			draft: session.Draft{Task: "Gym"},
			u:     extractor.Updates{Task: "Swim"},
			want:  false,
		},
		{
			name:  "overwrite intent never forks",
			draft: session.Draft{Task: "Gym", Date: "2025-03-01"},
			u:     extractor.Updates{Date: "2025-03-05", Overwrite: true},
			want:  false,
		},
		{
			name:  "pending edit action never forks",
			draft: session.Draft{Task: "Gym", Date: "2025-03-01", OverwriteNext: true},
			u:     extractor.Updates{Task: "Swim"},
			want:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, shouldStartNewDraft(&tc.draft, &tc.u))
		})
	}
}

func TestCompletenessGatesConfirm(t *testing.T) {
	h := newHarness(t)

	reply := h.send(&extractor.Updates{Date: "2025-03-01"})
	assert.Empty(t, reply.Buttons)
	assert.Equal(t, session.StateCollecting, h.session().Drafts[0].State)

	reply = h.send(&extractor.Updates{Task: "Gym"})
	require.NotEmpty(t, reply.Buttons)
	assert.Equal(t, session.StateAwaitingConfirm, h.session().Drafts[0].State)
}

func TestEditActionArmsOneShotOverwrite(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-03-01"})
	d := h.session().Drafts[0]
	require.Equal(t, session.StateAwaitingConfirm, d.State)

	h.engine.HandleCallback(context.Background(), testChat, ActionEdit+":"+d.ID)
	assert.True(t, d.OverwriteNext)
	assert.Equal(t, session.StateCollecting, d.State)

	// The next merge is authoritative and does not fork.
	h.send(&extractor.Updates{Task: "Swim"})
	require.Len(t, h.session().Drafts, 1)
	assert.Equal(t, "Swim", d.Task)
	assert.False(t, d.OverwriteNext, "flag is consumed by one merge")
}

func TestConfirmWithoutConflictsCommits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-03-01", StartTime: "14:00"})
	d := h.session().Drafts[0]

	reply := h.engine.HandleCallback(ctx, testChat, ActionConfirm+":"+d.ID)
	assert.Contains(t, reply.Text, "Saved")
	assert.Empty(t, h.session().Drafts)

	events, err := h.storage.EventsOnDate(ctx, testChat, "2025-03-01")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Gym", events[0].Title)
}

func TestDiscardRemovesDraft(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-03-01"})
	d := h.session().Drafts[0]

	h.engine.HandleCallback(context.Background(), testChat, ActionDiscard+":"+d.ID)
	assert.Empty(t, h.session().Drafts)
}

func TestStaleDraftReferenceReportsExpired(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-03-01"})
	reply := h.engine.HandleCallback(context.Background(), testChat, ActionConfirm+":no-such-draft")
	assert.Equal(t, draftExpiredText, reply.Text)
	// Session state is otherwise untouched.
	assert.Len(t, h.session().Drafts, 1)
}

func TestConflictFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	existing := &models.Event{
		ChatID:    testChat,
		Title:     "Dentist",
		Date:      "2025-04-10",
		StartTime: "14:00",
		EndTime:   "15:00",
	}
	require.NoError(t, h.storage.CreateEvent(ctx, existing))

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-04-10", StartTime: "14:30", EndTime: "15:30"})
	d := h.session().Drafts[0]

	reply := h.engine.HandleCallback(ctx, testChat, ActionConfirm+":"+d.ID)
	assert.Contains(t, reply.Text, "Dentist")
	assert.Equal(t, session.StateConflictPending, d.State)
	require.Len(t, d.Conflicts, 1)
	assert.Equal(t, existing.ID, d.Conflicts[0].ID)

	// Cancel reverts to awaiting_confirm, touching nothing.
	h.engine.HandleCallback(ctx, testChat, ActionCancelConflict+":"+d.ID)
	assert.Equal(t, session.StateAwaitingConfirm, d.State)
	events, _ := h.storage.EventsOnDate(ctx, testChat, "2025-04-10")
	assert.Len(t, events, 1)

	// Replace deletes the conflicting event and commits the draft.
	h.engine.HandleCallback(ctx, testChat, ActionConfirm+":"+d.ID)
	reply = h.engine.HandleCallback(ctx, testChat, ActionReplace+":"+d.ID)
	assert.Contains(t, reply.Text, "Saved")
	assert.Empty(t, h.session().Drafts)

	events, _ = h.storage.EventsOnDate(ctx, testChat, "2025-04-10")
	require.Len(t, events, 1)
	assert.Equal(t, "Gym", events[0].Title)
}

func TestConflictKeepBothCommitsAlongside(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.storage.CreateEvent(ctx, &models.Event{
		ChatID: testChat, Title: "Dentist", Date: "2025-04-10", StartTime: "14:00", EndTime: "15:00",
	}))

	h.send(&extractor.Updates{Task: "Gym", Date: "2025-04-10", StartTime: "14:30"})
	d := h.session().Drafts[0]

	h.engine.HandleCallback(ctx, testChat, ActionConfirm+":"+d.ID)
	require.Equal(t, session.StateConflictPending, d.State)

	h.engine.HandleCallback(ctx, testChat, ActionKeepBoth+":"+d.ID)
	events, _ := h.storage.EventsOnDate(ctx, testChat, "2025-04-10")
	assert.Len(t, events, 2)
}

func TestBatchCommitTruncatesDisplayOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var inputs []extractor.EventInput
	for i := 0; i < 10; i++ {
		inputs = append(inputs, extractor.EventInput{
			Title: fmt.Sprintf("Event %d", i),
			Date:  "2025-03-02",
		})
	}
	h.extractor.frag = &extractor.Fragment{Kind: extractor.FragmentEvents, Events: inputs}

	reply := h.engine.HandleMessage(ctx, testChat, "batch")
	assert.Contains(t, reply.Text, "Saved 10 event(s)")
	assert.Contains(t, reply.Text, "…and 2 more")

	// All ten are committed regardless of the display cut.
	events, _ := h.storage.EventsOnDate(ctx, testChat, "2025-03-02")
	assert.Len(t, events, 10)
	// No confirmation step and no drafts on this path.
	assert.Empty(t, h.session().Drafts)
}

func TestIrrelevantMessageMutatesNothing(t *testing.T) {
	h := newHarness(t)

	h.extractor.frag = &extractor.Fragment{Kind: extractor.FragmentNone, Note: "Hello!"}
	reply := h.engine.HandleMessage(context.Background(), testChat, "hi")
	assert.Equal(t, "Hello!", reply.Text)
	assert.Empty(t, h.session().Drafts)
}

func TestExtractionFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)

	h.send(&extractor.Updates{Task: "Gym"})
	h.extractor.frag = nil
	h.extractor.err = extractor.ErrRateLimited

	reply := h.engine.HandleMessage(context.Background(), testChat, "gym friday")
	assert.Contains(t, reply.Text, "rate limited")
	assert.Len(t, h.session().Drafts, 1)
	assert.Equal(t, "Gym", h.session().Drafts[0].Task)
}

func TestFieldEditVerbatimText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05", StartTime: "14:00"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))

	reply := h.engine.HandleCallback(ctx, testChat,
		fmt.Sprintf("%s:%d:title", ActionEditField, event.ID))
	assert.Contains(t, reply.Text, "new title")
	require.NotNil(t, h.session().EditTarget)

	reply = h.engine.HandleMessage(ctx, testChat, "Weights session")
	assert.Contains(t, reply.Text, "Updated")
	assert.Nil(t, h.session().EditTarget)

	got, err := h.storage.GetEvent(ctx, testChat, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weights session", got.Title)
}

func TestFieldEditTimeViaExtractor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05", StartTime: "14:00"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))

	h.engine.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d:time", ActionEditField, event.ID))

	// Unusable extraction keeps the pointer and mutates nothing.
	h.extractor.frag = &extractor.Fragment{Kind: extractor.FragmentNone}
	reply := h.engine.HandleMessage(ctx, testChat, "uhh")
	assert.Contains(t, reply.Text, "couldn't read a time")
	require.NotNil(t, h.session().EditTarget)
	got, _ := h.storage.GetEvent(ctx, testChat, event.ID)
	assert.Equal(t, "14:00", got.StartTime)

	// A usable fragment applies only the time sub-fields.
	h.extractor.frag = &extractor.Fragment{
		Kind:    extractor.FragmentUpdates,
		Updates: &extractor.Updates{StartTime: "18:30", EndTime: "19:30", Task: "ignored"},
	}
	h.engine.HandleMessage(ctx, testChat, "6:30pm")
	assert.Nil(t, h.session().EditTarget)

	got, _ = h.storage.GetEvent(ctx, testChat, event.ID)
	assert.Equal(t, "18:30", got.StartTime)
	assert.Equal(t, "19:30", got.EndTime)
	assert.Equal(t, "Gym", got.Title)
}

// flakyEndTimeStorage fails the end_time column update only, so the
// start time lands but the end does not.
type flakyEndTimeStorage struct {
	*storage.MemoryStorage
}

func (f *flakyEndTimeStorage) UpdateEventField(ctx context.Context, chatID, eventID int64, field, value string) error {
	if field == "end_time" {
		return fmt.Errorf("column gone")
	}
	return f.MemoryStorage.UpdateEventField(ctx, chatID, eventID, field, value)
}

func TestFieldEditEndTimeFailureLogged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	core, logs := observer.New(zapcore.ErrorLevel)
	flaky := &flakyEndTimeStorage{MemoryStorage: h.storage}
	e := New(flaky, h.extractor, h.sessions, h.engine.reminders, 0, zap.New(core))
	e.SetClock(func() time.Time { return testNow })

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05", StartTime: "14:00", EndTime: "15:00"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))

	e.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d:time", ActionEditField, event.ID))
	h.extractor.frag = &extractor.Fragment{
		Kind:    extractor.FragmentUpdates,
		Updates: &extractor.Updates{StartTime: "18:30", EndTime: "19:30"},
	}
	reply := e.HandleMessage(ctx, testChat, "6:30 to 7:30")
	assert.Contains(t, reply.Text, "Updated")

	got, err := h.storage.GetEvent(ctx, testChat, event.ID)
	require.NoError(t, err)
	assert.Equal(t, "18:30", got.StartTime)
	assert.Equal(t, "15:00", got.EndTime, "failed end update leaves the stored end alone")
	require.Equal(t, 1, logs.FilterMessage("Failed to update event end time").Len())
}

func TestFieldEditDeletedEventReportsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))
	h.engine.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d:title", ActionEditField, event.ID))
	require.NoError(t, h.storage.DeleteEvent(ctx, testChat, event.ID))

	reply := h.engine.HandleMessage(ctx, testChat, "New title")
	assert.Contains(t, reply.Text, "no longer exists")
	assert.Nil(t, h.session().EditTarget)
}

func TestClassIntakeFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.engine.StartClassIntake(testChat)
	assert.True(t, h.session().ClassIntake)

	h.extractor.classes = []models.Class{
		{Subject: "Math", Weekday: 1, StartTime: "10:00", EndTime: "11:30"},
		{Subject: "PE", Weekday: 4, StartTime: "16:00", EndTime: "17:00"},
	}
	reply := h.engine.HandleMessage(ctx, testChat, "math monday, pe thursday")
	assert.Contains(t, reply.Text, "Added 2 class(es)")
	assert.False(t, h.session().ClassIntake)

	classes, err := h.storage.ListClasses(ctx, testChat)
	require.NoError(t, err)
	assert.Len(t, classes, 2)
}

func TestClassIntakeEmptyKeepsFlag(t *testing.T) {
	h := newHarness(t)

	h.engine.StartClassIntake(testChat)
	h.extractor.classes = nil
	reply := h.engine.HandleMessage(context.Background(), testChat, "gibberish")
	assert.Contains(t, reply.Text, "couldn't read any weekly classes")
	assert.True(t, h.session().ClassIntake)
}

func TestEditPointerAndIntakeMutuallyExclusive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))

	h.engine.StartClassIntake(testChat)
	h.engine.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d:title", ActionEditField, event.ID))

	s := h.session()
	assert.NotNil(t, s.EditTarget)
	assert.False(t, s.ClassIntake)

	h.engine.StartClassIntake(testChat)
	assert.Nil(t, s.EditTarget)
	assert.True(t, s.ClassIntake)
}

func TestCancelPendingClearsPointer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))
	h.engine.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d:title", ActionEditField, event.ID))

	reply := h.engine.CancelPending(testChat)
	assert.Contains(t, reply.Text, "cancelled")
	assert.Nil(t, h.session().EditTarget)

	reply = h.engine.CancelPending(testChat)
	assert.Equal(t, "Nothing to cancel.", reply.Text)
}

func TestDeleteEventCallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := &models.Event{ChatID: testChat, Title: "Gym", Date: "2025-03-05"}
	require.NoError(t, h.storage.CreateEvent(ctx, event))

	reply := h.engine.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d", ActionDeleteEvent, event.ID))
	assert.Equal(t, "Deleted.", reply.Text)

	reply = h.engine.HandleCallback(ctx, testChat, fmt.Sprintf("%s:%d", ActionDeleteEvent, event.ID))
	assert.Contains(t, reply.Text, "no longer exists")
}

func TestListWeekSevenDayWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// testNow is Saturday 2025-03-01; the window runs through Friday the 7th.
	require.NoError(t, h.storage.CreateEvent(ctx, &models.Event{ChatID: testChat, Title: "Dentist", Date: "2025-03-01", StartTime: "09:00"}))
	require.NoError(t, h.storage.CreateEvent(ctx, &models.Event{ChatID: testChat, Title: "Exam", Date: "2025-03-07"}))
	require.NoError(t, h.storage.CreateEvent(ctx, &models.Event{ChatID: testChat, Title: "Concert", Date: "2025-03-08"}))
	require.NoError(t, h.storage.CreateClass(ctx, &models.Class{ChatID: testChat, Subject: "Math", Weekday: 1, StartTime: "10:00", EndTime: "11:00"}))

	reply := h.engine.ListWeek(ctx, testChat)
	assert.Contains(t, reply.Text, "Dentist")
	assert.Contains(t, reply.Text, "Exam")
	assert.NotContains(t, reply.Text, "Concert", "eighth day is outside the window")
	assert.Contains(t, reply.Text, "Math", "Monday class shows in the week view")
}

func TestListWeekEmpty(t *testing.T) {
	h := newHarness(t)

	reply := h.engine.ListWeek(context.Background(), testChat)
	assert.Equal(t, "Nothing on your calendar this week.", reply.Text)
}
