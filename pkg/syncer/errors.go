package syncer

import (
	"errors"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
	"github.com/harrisonrobin/tasksync/pkg/model"
	"github.com/harrisonrobin/tasksync/pkg/reminder"
)

var (
	// ErrNotFound is the only error that aborts Update, Delete and ToggleCompletion.
	ErrNotFound   = errors.New("task not found")
	ErrEmptyTitle = errors.New("task title must not be empty")
)

// Result is the outcome of an operation whose local write succeeded.
// Warnings lists what did not propagate to the calendar or the reminders.
type Result struct {
	Task     model.Task
	Warnings []error
}

// Warning returns the first non-fatal error, or nil.
func (r Result) Warning() error {
	if len(r.Warnings) == 0 {
		return nil
	}
	return r.Warnings[0]
}

func (r *Result) warn(err error) {
	if err != nil {
		r.Warnings = append(r.Warnings, err)
	}
}

// IsNonFatal reports whether err is a calendar or reminder failure that
// leaves the local record authoritative.
func IsNonFatal(err error) bool {
	return calsync.IsAuthorizationError(err) ||
		errors.Is(err, calsync.ErrEventSaveFailed) ||
		errors.Is(err, calsync.ErrEventRemoveFailed) ||
		errors.Is(err, calsync.ErrEventFetchFailed) ||
		errors.Is(err, reminder.ErrSchedulingFailed)
}
