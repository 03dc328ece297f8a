// Package reminder keeps at most one pending notification per task, firing
// one hour before the task is due.
package reminder

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/harrisonrobin/tasksync/pkg/model"
)

// LeadTime is how long before the due date a reminder fires.
const LeadTime = time.Hour

var ErrSchedulingFailed = errors.New("reminder scheduling failed")

// Notifier is the local notification service contract.
type Notifier interface {
	Schedule(id string, triggerAt time.Time, title, body string) error
	Cancel(id string) error
	CancelAll() error
}

type Scheduler struct {
	notifier Notifier
	now      func() time.Time
}

func NewScheduler(n Notifier, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{notifier: n, now: now}
}

// TriggerTime is when the reminder for task fires.
func TriggerTime(task model.Task) time.Time {
	return task.DueDate.Add(-LeadTime)
}

// Schedule (re)installs the reminder for task. A completed task, or one whose
// trigger time has passed, ends up with no reminder at all. If the old
// reminder cannot be cancelled that is reported, since it may still fire.
func (s *Scheduler) Schedule(task model.Task) error {
	cancelErr := s.notifier.Cancel(task.ID)

	trigger := TriggerTime(task)
	if task.IsCompleted || !trigger.After(s.now()) {
		if cancelErr != nil {
			return fmt.Errorf("%w: cancel %s: %w", ErrSchedulingFailed, task.ID, cancelErr)
		}
		return nil
	}

	body := fmt.Sprintf("Due at %s", task.DueDate.Local().Format("15:04"))
	if err := s.notifier.Schedule(task.ID, trigger, task.Title, body); err != nil {
		return fmt.Errorf("%w: task %s: %w", ErrSchedulingFailed, task.ID, err)
	}
	return nil
}

// Cancel removes any pending reminder for id.
func (s *Scheduler) Cancel(id string) error {
	if err := s.notifier.Cancel(id); err != nil {
		return fmt.Errorf("%w: cancel %s: %w", ErrSchedulingFailed, id, err)
	}
	return nil
}

// RescheduleAll rebuilds the notification queue from tasks. Used on process
// start since pending notifications may not survive a restart.
func (s *Scheduler) RescheduleAll(tasks []model.Task) []error {
	var errs []error
	if err := s.notifier.CancelAll(); err != nil {
		log.Printf("Warning: could not clear reminders: %v", err)
		errs = append(errs, fmt.Errorf("%w: clear: %w", ErrSchedulingFailed, err))
	}
	for _, task := range tasks {
		if err := s.Schedule(task); err != nil {
			log.Printf("Remind: %v", err)
			errs = append(errs, err)
		}
	}
	return errs
}
