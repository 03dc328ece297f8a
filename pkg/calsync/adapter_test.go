package calsync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
	"github.com/harrisonrobin/tasksync/pkg/model"
	"github.com/harrisonrobin/tasksync/pkg/testutil"
)

func sampleTask() model.Task {
	task := model.NewTask(model.Draft{
		Title:   "Buy milk",
		DueDate: time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
		Notes:   "semi-skimmed",
	})
	return task
}

func TestEnsureAuthorization_States(t *testing.T) {
	cases := []struct {
		status  calsync.AuthStatus
		granted bool
		err     error
	}{
		{calsync.StatusAuthorizedFull, true, nil},
		{calsync.StatusAuthorizedWriteOnly, true, nil},
		{calsync.StatusDenied, false, calsync.ErrAccessDenied},
		{calsync.StatusRestricted, false, calsync.ErrAccessRestricted},
		{calsync.StatusUnknown, false, calsync.ErrUnknownAuthorization},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			cal := testutil.NewFakeCalendar(tc.status)
			granted, err := calsync.NewAdapter(cal).EnsureAuthorization(context.Background())

			assert.Equal(t, tc.granted, granted)
			if tc.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.err)
			}
			assert.Zero(t, cal.Prompts)
		})
	}
}

func TestEnsureAuthorization_PromptsOnceWhenUndecided(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusNotDetermined)
	cal.Prompt = calsync.StatusDenied
	adapter := calsync.NewAdapter(cal)

	granted, err := adapter.EnsureAuthorization(ctx)
	assert.False(t, granted)
	assert.ErrorIs(t, err, calsync.ErrAccessDenied)
	assert.Equal(t, 1, cal.Prompts)

	// The decision is remembered by the service; no second prompt.
	_, _ = adapter.EnsureAuthorization(ctx)
	assert.Equal(t, 1, cal.Prompts)
}

func TestEnsureAuthorization_SeesRevocation(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	adapter := calsync.NewAdapter(cal)

	granted, err := adapter.EnsureAuthorization(ctx)
	require.NoError(t, err)
	require.True(t, granted)

	cal.SetStatus(calsync.StatusDenied)
	granted, err = adapter.EnsureAuthorization(ctx)
	assert.False(t, granted)
	assert.ErrorIs(t, err, calsync.ErrAccessDenied)
}

func TestCreateEvent_Projection(t *testing.T) {
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	task := sampleTask()

	ref, err := calsync.NewAdapter(cal).CreateEvent(context.Background(), task)
	require.NoError(t, err)

	e, ok := cal.Event(ref)
	require.True(t, ok)
	assert.Equal(t, "Buy milk", e.Title)
	assert.Equal(t, task.ID, e.TaskID)
	assert.Equal(t, "semi-skimmed", e.Notes)
	assert.True(t, e.Start.Equal(task.DueDate))
	assert.Equal(t, time.Hour, e.End.Sub(e.Start))
	assert.False(t, e.Marked)
}

func TestCreateEvent_CompletedGetsMarker(t *testing.T) {
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	task := sampleTask()
	task.IsCompleted = true

	ref, err := calsync.NewAdapter(cal).CreateEvent(context.Background(), task)
	require.NoError(t, err)

	e, _ := cal.Event(ref)
	assert.Equal(t, calsync.CompletedMarker+"Buy milk", e.Title)
	assert.True(t, e.Marked)
}

func TestCreateEvent_SaveFailure(t *testing.T) {
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	cause := errors.New("quota exceeded")
	cal.FailCreate = cause

	ref, err := calsync.NewAdapter(cal).CreateEvent(context.Background(), sampleTask())
	assert.Empty(t, ref)
	assert.ErrorIs(t, err, calsync.ErrEventSaveFailed)
	assert.ErrorIs(t, err, cause)
}

func TestUpdateEvent_RewritesExisting(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	adapter := calsync.NewAdapter(cal)
	task := sampleTask()
	ref, err := adapter.CreateEvent(ctx, task)
	require.NoError(t, err)

	task.Title = "Buy bread"
	task.DueDate = task.DueDate.Add(24 * time.Hour)
	newRef, err := adapter.UpdateEvent(ctx, ref, task)
	require.NoError(t, err)

	assert.Equal(t, ref, newRef)
	assert.Equal(t, 1, cal.Count())
	e, _ := cal.Event(ref)
	assert.Equal(t, "Buy bread", e.Title)
	assert.True(t, e.Start.Equal(task.DueDate))
}

func TestUpdateEvent_SelfHealsMissingEvent(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	adapter := calsync.NewAdapter(cal)
	task := sampleTask()
	ref, err := adapter.CreateEvent(ctx, task)
	require.NoError(t, err)
	cal.DeleteOutOfBand(ref)

	newRef, err := adapter.UpdateEvent(ctx, ref, task)
	require.NoError(t, err)
	assert.NotEqual(t, ref, newRef)
	_, ok := cal.Event(newRef)
	assert.True(t, ok)
	assert.Equal(t, 1, cal.Count())
}

func TestUpdateEvent_SelfHealFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	cal.FailCreate = errors.New("offline")

	_, err := calsync.NewAdapter(cal).UpdateEvent(ctx, "evt-gone", sampleTask())
	assert.ErrorIs(t, err, calsync.ErrEventSaveFailed)
}

func TestUpdateEvent_FetchFailure(t *testing.T) {
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	cal.FailFetch = errors.New("timeout")

	ref, err := calsync.NewAdapter(cal).UpdateEvent(context.Background(), "evt-1", sampleTask())
	assert.Equal(t, "evt-1", ref)
	assert.ErrorIs(t, err, calsync.ErrEventFetchFailed)
}

func TestUpdateEvent_WriteOnlyCannotRead(t *testing.T) {
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedWriteOnly)

	ref, err := calsync.NewAdapter(cal).UpdateEvent(context.Background(), "evt-1", sampleTask())
	assert.Equal(t, "evt-1", ref)
	assert.ErrorIs(t, err, calsync.ErrWriteOnlyAccess)
}

func TestRemoveEvent_Idempotent(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	adapter := calsync.NewAdapter(cal)
	ref, err := adapter.CreateEvent(ctx, sampleTask())
	require.NoError(t, err)

	require.NoError(t, adapter.RemoveEvent(ctx, ref))
	assert.Zero(t, cal.Count())
	assert.NoError(t, adapter.RemoveEvent(ctx, ref))
	assert.NoError(t, adapter.RemoveEvent(ctx, ""))
}

func TestRemoveEvent_Failure(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	adapter := calsync.NewAdapter(cal)
	ref, err := adapter.CreateEvent(ctx, sampleTask())
	require.NoError(t, err)
	cal.FailRemove = errors.New("server error")

	err = adapter.RemoveEvent(ctx, ref)
	assert.ErrorIs(t, err, calsync.ErrEventRemoveFailed)

	var evtErr *calsync.EventError
	require.True(t, errors.As(err, &evtErr))
	assert.Equal(t, ref, evtErr.Ref)
}

func TestRetitleForCompletion_TogglesMarkerOnly(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	adapter := calsync.NewAdapter(cal)
	task := sampleTask()
	ref, err := adapter.CreateEvent(ctx, task)
	require.NoError(t, err)

	// The user moves the event in the calendar app; retitling must keep that.
	e, _ := cal.Event(ref)
	moved := e.Start.Add(3 * time.Hour)
	e.Start, e.End = moved, moved.Add(time.Hour)
	require.NoError(t, cal.SaveEvent(ctx, e))

	task.IsCompleted = true
	_, err = adapter.RetitleForCompletion(ctx, ref, task)
	require.NoError(t, err)
	e, _ = cal.Event(ref)
	assert.Equal(t, calsync.CompletedMarker+"Buy milk", e.Title)
	assert.True(t, e.Start.Equal(moved))

	task.IsCompleted = false
	_, err = adapter.RetitleForCompletion(ctx, ref, task)
	require.NoError(t, err)
	e, _ = cal.Event(ref)
	assert.Equal(t, "Buy milk", e.Title)
	assert.Equal(t, 1, cal.Count())
}

func TestRetitleForCompletion_MissingEventRecreated(t *testing.T) {
	ctx := context.Background()
	cal := testutil.NewFakeCalendar(calsync.StatusAuthorizedFull)
	task := sampleTask()
	task.IsCompleted = true

	ref, err := calsync.NewAdapter(cal).RetitleForCompletion(ctx, "evt-gone", task)
	require.NoError(t, err)
	e, ok := cal.Event(ref)
	require.True(t, ok)
	assert.Equal(t, calsync.CompletedMarker+"Buy milk", e.Title)
}

func TestRetitle_KeepsUserTitleEdits(t *testing.T) {
	// Looks like a marker but was typed by the user.
	e := calsync.Event{Title: calsync.CompletedMarker + "done list", Marked: false}
	assert.Equal(t, calsync.CompletedMarker+calsync.CompletedMarker+"done list", calsync.Retitle(e, true).Title)
	assert.Equal(t, calsync.CompletedMarker+"done list", calsync.Retitle(e, false).Title)

	// Marker added by us, user renamed the rest.
	e = calsync.Event{Title: calsync.CompletedMarker + "renamed", Marked: true}
	got := calsync.Retitle(e, false)
	assert.Equal(t, "renamed", got.Title)
	assert.False(t, got.Marked)

	// Marker added by us but the user removed it by hand.
	e = calsync.Event{Title: "renamed", Marked: true}
	assert.Equal(t, calsync.CompletedMarker+"renamed", calsync.Retitle(e, true).Title)
}

func TestParseAuthStatus(t *testing.T) {
	for _, s := range []calsync.AuthStatus{
		calsync.StatusNotDetermined, calsync.StatusAuthorizedFull, calsync.StatusAuthorizedWriteOnly,
		calsync.StatusDenied, calsync.StatusRestricted,
	} {
		assert.Equal(t, s, calsync.ParseAuthStatus(s.String()))
	}
	assert.Equal(t, calsync.StatusUnknown, calsync.ParseAuthStatus("fullAccessV2"))
}
