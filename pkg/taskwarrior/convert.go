package taskwarrior

import (
	"errors"
	"strings"
	"time"

	"github.com/harrisonrobin/tasksync/pkg/model"
)

var (
	ErrSkipped = errors.New("task is not importable")
	ErrNoDate  = errors.New("task has no due or scheduled date")
)

var priorities = map[string]int{
	"L": model.PriorityLow,
	"M": model.PriorityMedium,
	"H": model.PriorityHigh,
}

// ToDraft converts an exported task. Deleted and recurring template tasks are
// skipped. The due date falls back to the scheduled date.
func ToDraft(t Task) (model.Draft, error) {
	switch t.Status {
	case DELETED, RECURRING:
		return model.Draft{}, ErrSkipped
	}
	if strings.TrimSpace(t.Description) == "" {
		return model.Draft{}, ErrSkipped
	}

	var due time.Time
	switch {
	case t.Due.isSet():
		due = t.Due.Time
	case t.Scheduled.isSet():
		due = t.Scheduled.Time
	default:
		return model.Draft{}, ErrNoDate
	}

	return model.Draft{
		Title:    t.Description,
		DueDate:  due.Local(),
		Notes:    notes(t),
		Priority: priorities[t.Priority],
	}, nil
}

// IsCompleted reports whether the exported task was done.
func (t Task) IsCompleted() bool {
	return t.Status == COMPLETED
}

func notes(t Task) string {
	var b strings.Builder
	if t.Project != "" {
		b.WriteString("Project: " + t.Project + "\n")
	}
	if len(t.Tags) > 0 {
		for _, tag := range t.Tags {
			b.WriteString("#" + tag + " ")
		}
		b.WriteString("\n")
	}
	for _, ann := range t.Annotations {
		b.WriteString("‣ " + ann.Description + "\n")
	}
	return strings.TrimRight(b.String(), "\n ")
}
