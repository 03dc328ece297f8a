package calsync

import (
	"strings"
	"time"

	"github.com/harrisonrobin/tasksync/pkg/model"
)

const (
	// CompletedMarker prefixes the title of a completed task's event.
	CompletedMarker = "✓ "
	// DefaultDuration is the length of a projected event starting at the due date.
	DefaultDuration = time.Hour
)

// Event is the calendar-service view of a projected task.
type Event struct {
	Ref      string
	TaskID   string
	Title    string
	Start    time.Time
	End      time.Time
	Notes    string
	Priority int
	// Marked records out-of-band that Title currently carries CompletedMarker.
	Marked bool
}

// Lookup is the result of fetching an event by ref: either the event was found
// or it is missing, typically because the user deleted it in the calendar app.
type Lookup struct {
	Event Event
	Found bool
}

func Found(e Event) Lookup { return Lookup{Event: e, Found: true} }

func Missing() Lookup { return Lookup{} }

// Project builds the event that mirrors task.
func Project(task model.Task) Event {
	return Event{
		TaskID:   task.ID,
		Title:    markTitle(task.Title, task.IsCompleted),
		Start:    task.DueDate,
		End:      task.DueDate.Add(DefaultDuration),
		Notes:    task.Notes,
		Priority: task.Priority,
		Marked:   task.IsCompleted,
	}
}

func markTitle(title string, completed bool) string {
	if completed {
		return CompletedMarker + title
	}
	return title
}

// Retitle updates only the completion marker of e. The marker is stripped
// only when e.Marked says it was put there and the title still starts with it,
// so a title the user edited in the calendar is otherwise left alone.
func Retitle(e Event, completed bool) Event {
	title := e.Title
	if e.Marked && strings.HasPrefix(title, CompletedMarker) {
		title = strings.TrimPrefix(title, CompletedMarker)
	}
	e.Title = markTitle(title, completed)
	e.Marked = completed
	return e
}
