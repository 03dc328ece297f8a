// Package syncer is the public task API. Each operation writes the local
// record and then propagates it to the calendar projection and the reminder
// queue, reporting propagation failures without undoing the local write.
package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
	"github.com/harrisonrobin/tasksync/pkg/model"
	"github.com/harrisonrobin/tasksync/pkg/reminder"
	"github.com/harrisonrobin/tasksync/pkg/retention"
	"github.com/harrisonrobin/tasksync/pkg/store"
)

type Orchestrator struct {
	store     store.Store
	calendar  *calsync.Adapter
	reminders *reminder.Scheduler
	sweeper   *retention.Sweeper
	locks     *store.KeyedMutex
}

// New wires an orchestrator. locks must be the same KeyedMutex the sweeper
// uses, so that both serialize writes per task id.
func New(s store.Store, cal *calsync.Adapter, rem *reminder.Scheduler, locks *store.KeyedMutex) *Orchestrator {
	if locks == nil {
		locks = store.NewKeyedMutex()
	}
	return &Orchestrator{
		store:     s,
		calendar:  cal,
		reminders: rem,
		sweeper:   retention.NewSweeper(s, locks),
		locks:     locks,
	}
}

// Sweeper returns the retention sweeper sharing this orchestrator's locks.
func (o *Orchestrator) Sweeper() *retention.Sweeper {
	return o.sweeper
}

// List returns all tasks ordered by due date.
func (o *Orchestrator) List(ctx context.Context) ([]model.Task, error) {
	return o.store.LoadAll(ctx)
}

// Get returns the task with id.
func (o *Orchestrator) Get(ctx context.Context, id string) (model.Task, error) {
	task, found, err := o.store.Find(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if !found {
		return model.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return task, nil
}

// Add creates a task, projecting it onto the calendar when access is granted.
// The task exists once it is saved locally, whatever the calendar said.
func (o *Orchestrator) Add(ctx context.Context, d model.Draft) (Result, error) {
	if strings.TrimSpace(d.Title) == "" {
		return Result{}, ErrEmptyTitle
	}

	task := model.NewTask(d)
	unlock := o.locks.Lock(task.ID)
	defer unlock()

	var res Result
	granted, err := o.calendar.EnsureAuthorization(ctx)
	res.warn(err)
	if granted {
		ref, err := o.calendar.CreateEvent(ctx, task)
		res.warn(err)
		task.CalendarRef = ref
	}

	if err := o.store.Save(ctx, task); err != nil {
		return Result{}, fmt.Errorf("failed to save task: %w", err)
	}
	res.Task = task

	res.warn(o.reminders.Schedule(task))
	o.logWarnings("Add", task.ID, res)
	return res, nil
}

// Update replaces the stored task with task. The calendar ref and id are
// owned by the store; the ones on task are ignored.
func (o *Orchestrator) Update(ctx context.Context, task model.Task) (Result, error) {
	if strings.TrimSpace(task.Title) == "" {
		return Result{}, ErrEmptyTitle
	}
	return o.update(ctx, task.ID, func(model.Task) model.Task {
		return task.Clone()
	})
}

// SetAdvice attaches generated advice to a task through the Update path.
func (o *Orchestrator) SetAdvice(ctx context.Context, id string, text []string, now time.Time) (Result, error) {
	return o.update(ctx, id, func(existing model.Task) model.Task {
		return existing.WithAdvice(text, now)
	})
}

// update runs the load, mutate, save cycle for id while holding its lock.
func (o *Orchestrator) update(ctx context.Context, id string, mutate func(model.Task) model.Task) (Result, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	existing, err := o.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.warn(o.reminders.Cancel(existing.ID))

	next := mutate(existing.Clone())
	next.ID = existing.ID
	next.Priority = model.ClampPriority(next.Priority)
	next.CalendarRef = existing.CalendarRef

	granted, err := o.calendar.EnsureAuthorization(ctx)
	res.warn(err)
	if granted {
		ref, err := o.calendar.UpdateEvent(ctx, existing.CalendarRef, next)
		res.warn(err)
		if ref != "" {
			next.CalendarRef = ref
		}
	}

	if err := o.store.Save(ctx, next); err != nil {
		return Result{}, fmt.Errorf("failed to save task %s: %w", id, err)
	}
	res.Task = next

	res.warn(o.reminders.Schedule(next))
	o.logWarnings("Update", id, res)
	return res, nil
}

// Delete removes the task, its reminder and its calendar event.
func (o *Orchestrator) Delete(ctx context.Context, id string) (Result, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	existing, err := o.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.warn(o.reminders.Cancel(id))

	if existing.HasCalendarRef() {
		granted, err := o.calendar.EnsureAuthorization(ctx)
		res.warn(err)
		if granted {
			res.warn(o.calendar.RemoveEvent(ctx, existing.CalendarRef))
		}
	}

	if err := o.store.Delete(ctx, id); err != nil {
		return Result{}, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	res.Task = existing
	o.logWarnings("Delete", id, res)
	return res, nil
}

// ToggleCompletion flips the completion state, saving locally before the
// reminder and calendar title follow.
func (o *Orchestrator) ToggleCompletion(ctx context.Context, id string) (Result, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	task, err := o.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	task.IsCompleted = !task.IsCompleted
	if err := o.store.Save(ctx, task); err != nil {
		return Result{}, fmt.Errorf("failed to save task %s: %w", id, err)
	}

	var res Result
	if task.IsCompleted {
		res.warn(o.reminders.Cancel(id))
	} else {
		res.warn(o.reminders.Schedule(task))
	}

	if task.HasCalendarRef() {
		granted, err := o.calendar.EnsureAuthorization(ctx)
		res.warn(err)
		if granted {
			ref, err := o.calendar.RetitleForCompletion(ctx, task.CalendarRef, task)
			res.warn(err)
			if ref != "" && ref != task.CalendarRef {
				task.CalendarRef = ref
				if err := o.store.Save(ctx, task); err != nil {
					return Result{}, fmt.Errorf("failed to save healed ref for %s: %w", id, err)
				}
			}
		}
	}

	res.Task = task
	o.logWarnings("Toggle", id, res)
	return res, nil
}

func (o *Orchestrator) logWarnings(op, id string, res Result) {
	for _, w := range res.Warnings {
		log.Printf("Warning: %s %s: %v", op, id, w)
	}
}
