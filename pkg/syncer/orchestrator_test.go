package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
	"github.com/harrisonrobin/tasksync/pkg/model"
	"github.com/harrisonrobin/tasksync/pkg/notify"
	"github.com/harrisonrobin/tasksync/pkg/reminder"
	"github.com/harrisonrobin/tasksync/pkg/store"
	"github.com/harrisonrobin/tasksync/pkg/testutil"
)

type harness struct {
	orch  *Orchestrator
	store store.Store
	cal   *testutil.FakeCalendar
	queue *notify.Queue
	now   time.Time
}

func newHarness(t *testing.T, status calsync.AuthStatus) *harness {
	t.Helper()
	now := time.Now().Truncate(time.Second)

	s, err := store.NewFileStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	q, err := notify.NewQueue("")
	require.NoError(t, err)
	q.Now = func() time.Time { return now }
	cal := testutil.NewFakeCalendar(status)

	orch := New(s, calsync.NewAdapter(cal), reminder.NewScheduler(q, func() time.Time { return now }), nil)
	return &harness{orch: orch, store: s, cal: cal, queue: q, now: now}
}

func (h *harness) add(t *testing.T, title string, due time.Time) model.Task {
	t.Helper()
	res, err := h.orch.Add(context.Background(), model.Draft{Title: title, DueDate: due})
	require.NoError(t, err)
	return res.Task
}

func TestAdd_CalendarAuthorized(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)

	res, err := h.orch.Add(context.Background(), model.Draft{Title: "Buy milk", DueDate: h.now.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.NoError(t, res.Warning())
	assert.NotEmpty(t, res.Task.CalendarRef)

	e, ok := h.queue.Pending(res.Task.ID)
	require.True(t, ok)
	assert.True(t, e.TriggerAt.Equal(h.now.Add(time.Hour)))

	_, ok = h.cal.Event(res.Task.CalendarRef)
	assert.True(t, ok)
}

func TestAdd_CalendarDenied(t *testing.T) {
	h := newHarness(t, calsync.StatusDenied)
	ctx := context.Background()

	res, err := h.orch.Add(ctx, model.Draft{Title: "Call dentist", DueDate: h.now.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning(), calsync.ErrAccessDenied)
	assert.True(t, IsNonFatal(res.Warning()))
	assert.Empty(t, res.Task.CalendarRef)

	all, err := h.store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Call dentist", all[0].Title)

	_, ok := h.queue.Pending(res.Task.ID)
	assert.True(t, ok)
}

func TestAdd_PromptsWhenUndecided(t *testing.T) {
	h := newHarness(t, calsync.StatusNotDetermined)

	task := h.add(t, "Stretch", h.now.Add(3*time.Hour))
	assert.NotEmpty(t, task.CalendarRef)
	assert.Equal(t, 1, h.cal.Prompts)
}

func TestAdd_EventSaveFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	h.cal.FailCreate = errors.New("503")

	res, err := h.orch.Add(context.Background(), model.Draft{Title: "Walk", DueDate: h.now.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning(), calsync.ErrEventSaveFailed)
	assert.Empty(t, res.Task.CalendarRef)
	_, err = h.orch.Get(context.Background(), res.Task.ID)
	assert.NoError(t, err)
}

func TestAdd_RejectsEmptyTitle(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)

	_, err := h.orch.Add(context.Background(), model.Draft{Title: "  ", DueDate: h.now})
	assert.ErrorIs(t, err, ErrEmptyTitle)
	assert.Zero(t, h.cal.Count())
}

func TestAdd_OrderedByDue(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	h.add(t, "later", h.now.Add(5*time.Hour))
	h.add(t, "earlier", h.now.Add(time.Hour))

	added := h.add(t, "middle", h.now.Add(3*time.Hour))

	all, err := h.orch.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"earlier", "middle", "later"}, []string{all[0].Title, all[1].Title, all[2].Title})
	count := 0
	for _, task := range all {
		if task.Title == "middle" && task.DueDate.Equal(added.DueDate) {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestUpdate_DueInPastCancelsReminder(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Pay rent", h.now.Add(4*time.Hour))
	_, ok := h.queue.Pending(task.ID)
	require.True(t, ok)

	task.DueDate = h.now.Add(-time.Hour)
	res, err := h.orch.Update(ctx, task)
	require.NoError(t, err)
	assert.NoError(t, res.Warning())

	_, ok = h.queue.Pending(task.ID)
	assert.False(t, ok)
	got, err := h.orch.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.DueDate.Equal(h.now.Add(-time.Hour)))
}

func TestUpdate_NotFound(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)

	_, err := h.orch.Update(context.Background(), model.Task{ID: "nope", Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_SelfHealsDeletedEvent(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	task := h.add(t, "Yoga", h.now.Add(4*time.Hour))
	h.cal.DeleteOutOfBand(task.CalendarRef)

	task.Title = "Hot yoga"
	res, err := h.orch.Update(context.Background(), task)
	require.NoError(t, err)
	assert.NoError(t, res.Warning())
	assert.NotEqual(t, task.CalendarRef, res.Task.CalendarRef)

	e, ok := h.cal.Event(res.Task.CalendarRef)
	require.True(t, ok)
	assert.Equal(t, "Hot yoga", e.Title)
	assert.Equal(t, 1, h.cal.Count())
}

func TestUpdate_CalendarRevokedStillSavesLocally(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Read", h.now.Add(4*time.Hour))
	h.cal.SetStatus(calsync.StatusDenied)

	task.Title = "Read a book"
	res, err := h.orch.Update(ctx, task)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning(), calsync.ErrAccessDenied)
	assert.Equal(t, task.CalendarRef, res.Task.CalendarRef)

	got, err := h.orch.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Read a book", got.Title)
}

func TestUpdate_IgnoresCallerCalendarRef(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	task := h.add(t, "Run", h.now.Add(4*time.Hour))

	task.CalendarRef = "forged"
	res, err := h.orch.Update(context.Background(), task)
	require.NoError(t, err)
	assert.NotEqual(t, "forged", res.Task.CalendarRef)
}

func TestDelete_Twice(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	keep := h.add(t, "keep", h.now.Add(4*time.Hour))
	task := h.add(t, "drop", h.now.Add(4*time.Hour))

	res, err := h.orch.Delete(ctx, task.ID)
	require.NoError(t, err)
	assert.NoError(t, res.Warning())
	_, ok := h.queue.Pending(task.ID)
	assert.False(t, ok)
	_, ok = h.cal.Event(task.CalendarRef)
	assert.False(t, ok)

	_, err = h.orch.Delete(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := h.orch.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)
}

func TestDelete_EventAlreadyRemovedExternally(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	task := h.add(t, "Groceries", h.now.Add(4*time.Hour))
	h.cal.DeleteOutOfBand(task.CalendarRef)

	res, err := h.orch.Delete(context.Background(), task.ID)
	require.NoError(t, err)
	assert.NoError(t, res.Warning())
	assert.Empty(t, res.Warnings)
}

func TestDelete_CalendarFailureStillDeletesLocally(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Groceries", h.now.Add(4*time.Hour))
	h.cal.FailRemove = errors.New("500")

	res, err := h.orch.Delete(ctx, task.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning(), calsync.ErrEventRemoveFailed)
	_, err = h.orch.Get(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToggleCompletion_Twice(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Meditate", h.now.Add(4*time.Hour))

	res, err := h.orch.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, res.Task.IsCompleted)
	_, ok := h.queue.Pending(task.ID)
	assert.False(t, ok)
	e, _ := h.cal.Event(task.CalendarRef)
	assert.Equal(t, calsync.CompletedMarker+"Meditate", e.Title)

	res, err = h.orch.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, res.Task.IsCompleted)
	assert.Equal(t, task.CalendarRef, res.Task.CalendarRef)
	assert.Equal(t, 1, h.cal.Count())
	_, ok = h.queue.Pending(task.ID)
	assert.True(t, ok)
	e, _ = h.cal.Event(task.CalendarRef)
	assert.Equal(t, "Meditate", e.Title)
}

func TestToggleCompletion_HealsDeletedEventWithoutDuplicates(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Journal", h.now.Add(4*time.Hour))
	h.cal.DeleteOutOfBand(task.CalendarRef)

	res, err := h.orch.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)
	healed := res.Task.CalendarRef
	assert.NotEqual(t, task.CalendarRef, healed)

	res, err = h.orch.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, healed, res.Task.CalendarRef)
	assert.Equal(t, 1, h.cal.Count())

	got, err := h.orch.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, healed, got.CalendarRef)
}

func TestToggleCompletion_NotFound(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)

	_, err := h.orch.ToggleCompletion(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReminderInvariant_AfterEveryOperation(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()

	check := func() {
		t.Helper()
		all, err := h.orch.List(ctx)
		require.NoError(t, err)
		for _, task := range all {
			_, pending := h.queue.Pending(task.ID)
			if task.IsCompleted || !task.DueDate.After(h.now.Add(time.Hour)) {
				assert.False(t, pending, "task %q should have no reminder", task.Title)
			}
		}
	}

	soon := h.add(t, "soon", h.now.Add(30*time.Minute))
	check()
	later := h.add(t, "later", h.now.Add(3*time.Hour))
	check()
	_, err := h.orch.ToggleCompletion(ctx, later.ID)
	require.NoError(t, err)
	check()
	soon.DueDate = h.now.Add(time.Hour)
	_, err = h.orch.Update(ctx, soon)
	require.NoError(t, err)
	check()
}

func TestSetAdvice_KeepsOtherFields(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Sleep early", h.now.Add(6*time.Hour))

	res, err := h.orch.SetAdvice(ctx, task.ID, []string{"no screens after 10"}, h.now)
	require.NoError(t, err)
	assert.True(t, res.Task.AdviceReceived)
	assert.Equal(t, []string{"no screens after 10"}, res.Task.AdviceText)
	assert.Equal(t, task.CalendarRef, res.Task.CalendarRef)
	assert.Equal(t, "Sleep early", res.Task.Title)
}

func TestConcurrentUpdatesOnDifferentTasks(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	var tasks []model.Task
	for range 10 {
		tasks = append(tasks, h.add(t, "task", h.now.Add(4*time.Hour)))
	}

	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(task model.Task) {
			defer wg.Done()
			task.Notes = "updated " + task.ID
			_, err := h.orch.Update(ctx, task)
			assert.NoError(t, err)
		}(tasks[i])
	}
	wg.Wait()

	all, err := h.orch.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 10)
	for _, task := range all {
		assert.Equal(t, "updated "+task.ID, task.Notes)
	}
}

func TestConcurrentWritesOnSameTask(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Shared", h.now.Add(4*time.Hour))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.orch.ToggleCompletion(ctx, task.ID)
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			_, err := h.orch.SetAdvice(ctx, task.ID, []string{"advice"}, h.now.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := h.orch.Get(ctx, task.ID)
	require.NoError(t, err)
	// An even number of toggles only lands back on pending if none was lost.
	assert.False(t, got.IsCompleted)
	assert.True(t, got.AdviceReceived)
	assert.Equal(t, []string{"advice"}, got.AdviceText)
	assert.Equal(t, "Shared", got.Title)
	assert.Equal(t, task.CalendarRef, got.CalendarRef)
	assert.Equal(t, 1, h.cal.Count())

	_, pending := h.queue.Pending(task.ID)
	assert.True(t, pending)
}

func TestSweepNeverClearsAdviceWrittenConcurrently(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()

	for range 20 {
		task := h.add(t, "Stale advice", h.now.Add(4*time.Hour))
		_, err := h.orch.SetAdvice(ctx, task.ID, []string{"old"}, h.now.AddDate(0, -4, 0))
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.orch.Sweeper().Sweep(ctx, h.now)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.orch.SetAdvice(ctx, task.ID, []string{"fresh"}, h.now)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, err := h.orch.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.True(t, got.AdviceReceived)
		assert.Equal(t, []string{"fresh"}, got.AdviceText)
	}
}

func TestMigrateUnlinked(t *testing.T) {
	h := newHarness(t, calsync.StatusDenied)
	ctx := context.Background()
	open1 := h.add(t, "open one", h.now.Add(2*time.Hour))
	open2 := h.add(t, "open two", h.now.Add(3*time.Hour))
	done := h.add(t, "done", h.now.Add(4*time.Hour))
	_, err := h.orch.ToggleCompletion(ctx, done.ID)
	require.NoError(t, err)

	h.cal.SetStatus(calsync.StatusAuthorizedFull)
	report, err := h.orch.MigrateUnlinked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Migrated)
	assert.Empty(t, report.Errors)

	for _, id := range []string{open1.ID, open2.ID} {
		got, err := h.orch.Get(ctx, id)
		require.NoError(t, err)
		assert.NotEmpty(t, got.CalendarRef)
	}
	got, err := h.orch.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CalendarRef)

	report, err = h.orch.MigrateUnlinked(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Migrated)
	assert.Equal(t, 2, h.cal.Count())
}

func TestMigrateUnlinked_AuthorizationAbortsBatch(t *testing.T) {
	h := newHarness(t, calsync.StatusRestricted)
	h.add(t, "open", h.now.Add(2*time.Hour))

	report, err := h.orch.MigrateUnlinked(context.Background())
	assert.ErrorIs(t, err, calsync.ErrAccessRestricted)
	assert.Zero(t, report.Migrated)
	assert.Zero(t, h.cal.Count())
}

func TestMigrateUnlinked_CollectsPerItemErrors(t *testing.T) {
	h := newHarness(t, calsync.StatusDenied)
	h.add(t, "a", h.now.Add(2*time.Hour))
	h.add(t, "b", h.now.Add(3*time.Hour))
	h.cal.SetStatus(calsync.StatusAuthorizedFull)
	h.cal.FailCreate = errors.New("offline")

	report, err := h.orch.MigrateUnlinked(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Migrated)
	require.Len(t, report.Errors, 2)
	assert.ErrorIs(t, report.Errors[0], calsync.ErrEventSaveFailed)
}

func TestStartup_SweepsAndReschedules(t *testing.T) {
	h := newHarness(t, calsync.StatusAuthorizedFull)
	ctx := context.Background()
	task := h.add(t, "Hydrate", h.now.Add(5*time.Hour))
	_, err := h.orch.SetAdvice(ctx, task.ID, []string{"old tip"}, h.now.AddDate(0, -4, 0))
	require.NoError(t, err)
	require.NoError(t, h.queue.CancelAll())

	require.NoError(t, h.orch.Startup(ctx, h.now))

	got, err := h.orch.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.AdviceReceived)
	_, ok := h.queue.Pending(task.ID)
	assert.True(t, ok)
}
