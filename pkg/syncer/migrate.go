package syncer

import (
	"context"
	"fmt"
	"log"
	"time"
)

// MigrationReport summarizes a MigrateUnlinked run.
type MigrationReport struct {
	Migrated int
	Errors   []error
}

// MigrateUnlinked projects every open task that has no calendar event yet.
// Unlike the single-task operations, missing authorization aborts the batch.
func (o *Orchestrator) MigrateUnlinked(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport

	granted, err := o.calendar.EnsureAuthorization(ctx)
	if !granted {
		if err == nil {
			err = fmt.Errorf("calendar access not granted")
		}
		return report, fmt.Errorf("migration aborted: %w", err)
	}

	tasks, err := o.store.LoadAll(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load tasks: %w", err)
	}

	for _, candidate := range tasks {
		if candidate.HasCalendarRef() || candidate.IsCompleted {
			continue
		}
		migrated, err := o.migrateOne(ctx, candidate.ID)
		if err != nil {
			log.Printf("Warning: migrate %s: %v", candidate.ID, err)
			report.Errors = append(report.Errors, err)
			continue
		}
		if migrated {
			report.Migrated++
		}
	}
	return report, nil
}

// migrateOne re-reads the task under its lock, since it may have been
// linked, completed or deleted since the batch was loaded.
func (o *Orchestrator) migrateOne(ctx context.Context, id string) (bool, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	task, found, err := o.store.Find(ctx, id)
	if err != nil {
		return false, err
	}
	if !found || task.HasCalendarRef() || task.IsCompleted {
		return false, nil
	}

	ref, err := o.calendar.CreateEvent(ctx, task)
	if err != nil {
		return false, err
	}
	task.CalendarRef = ref
	if err := o.store.Save(ctx, task); err != nil {
		return false, fmt.Errorf("failed to save ref for %s: %w", id, err)
	}
	return true, nil
}

// Startup runs the per-process housekeeping: the advice retention sweep and
// reinstalling every reminder.
func (o *Orchestrator) Startup(ctx context.Context, now time.Time) error {
	if _, err := o.sweeper.Sweep(ctx, now); err != nil {
		log.Printf("Sweep: %v", err)
	}

	tasks, err := o.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	for _, err := range o.reminders.RescheduleAll(tasks) {
		log.Printf("Remind: %v", err)
	}
	return nil
}

