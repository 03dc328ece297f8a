package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	PriorityLow    = 0
	PriorityMedium = 1
	PriorityHigh   = 2
)

// AdviceRetentionMonths is how long attached advice text is kept after generation.
const AdviceRetentionMonths = 3

// Task is the synchronized to-do record. The record store owns it; the calendar
// event referenced by CalendarRef is only a projection and may vanish at any time.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	DueDate     time.Time `json:"due_date"`
	IsCompleted bool      `json:"is_completed"`
	Notes       string    `json:"notes,omitempty"`
	Priority    int       `json:"priority"`
	CalendarRef string    `json:"calendar_ref,omitempty"`
	// Advice is written by an external generator and only retained here.
	AdviceReceived    bool       `json:"advice_received"`
	AdviceText        []string   `json:"advice_text,omitempty"`
	AdviceGeneratedAt *time.Time `json:"advice_generated_at,omitempty"`
}

// Draft carries the caller supplied fields of a task that does not exist yet.
type Draft struct {
	Title    string
	DueDate  time.Time
	Notes    string
	Priority int
}

// NewID returns a fresh task identifier. Identifiers are never reused.
func NewID() string {
	return uuid.NewString()
}

// NewTask builds a pending task from a draft and assigns it a new id.
func NewTask(d Draft) Task {
	return Task{
		ID:       NewID(),
		Title:    d.Title,
		DueDate:  d.DueDate,
		Notes:    d.Notes,
		Priority: ClampPriority(d.Priority),
	}
}

// ClampPriority keeps a priority inside the low..high range.
func ClampPriority(p int) int {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityHigh {
		return PriorityHigh
	}
	return p
}

// HasCalendarRef reports whether a projection was ever recorded for the task.
func (t Task) HasCalendarRef() bool {
	return t.CalendarRef != ""
}

// Clone returns a deep copy so callers can mutate slices and pointers freely.
func (t Task) Clone() Task {
	c := t
	if t.AdviceText != nil {
		c.AdviceText = append([]string(nil), t.AdviceText...)
	}
	if t.AdviceGeneratedAt != nil {
		at := *t.AdviceGeneratedAt
		c.AdviceGeneratedAt = &at
	}
	return c
}

// WithAdvice attaches generated advice and stamps the generation time.
func (t Task) WithAdvice(text []string, now time.Time) Task {
	c := t.Clone()
	c.AdviceText = append([]string(nil), text...)
	c.AdviceReceived = true
	c.AdviceGeneratedAt = &now
	return c
}

// AdviceExpired reports whether the advice fields are past retention at now.
func (t Task) AdviceExpired(now time.Time) bool {
	if t.AdviceGeneratedAt == nil {
		return false
	}
	return t.AdviceGeneratedAt.Before(AdviceCutoff(now))
}

// ClearAdvice resets only the advice fields to their defaults.
func (t *Task) ClearAdvice() {
	t.AdviceText = nil
	t.AdviceGeneratedAt = nil
	t.AdviceReceived = false
}

// AdviceCutoff is the oldest generation time still retained at now.
func AdviceCutoff(now time.Time) time.Time {
	return now.AddDate(0, -AdviceRetentionMonths, 0)
}
