// Package calsync projects tasks onto an external calendar service. It owns
// the authorization state machine and the create/update/remove bridge,
// tolerating events that were deleted out-of-band.
package calsync

import (
	"context"
	"log"

	"github.com/harrisonrobin/tasksync/pkg/model"
)

// Service is the external calendar service contract.
type Service interface {
	// AuthorizationStatus reports the current state without prompting.
	AuthorizationStatus(ctx context.Context) AuthStatus
	// RequestAccess prompts the user and blocks until they answer.
	RequestAccess(ctx context.Context) (AuthStatus, error)
	CreateEvent(ctx context.Context, e Event) (string, error)
	// FetchEvent returns Missing, not an error, for an unknown ref.
	FetchEvent(ctx context.Context, ref string) (Lookup, error)
	SaveEvent(ctx context.Context, e Event) error
	RemoveEvent(ctx context.Context, e Event) error
}

// Adapter is the calendar side of task synchronization.
type Adapter struct {
	svc Service
}

func NewAdapter(svc Service) *Adapter {
	return &Adapter{svc: svc}
}

// EnsureAuthorization re-queries the service and, only when the user has not
// decided yet, prompts once. Both authorized states are granted.
func (a *Adapter) EnsureAuthorization(ctx context.Context) (bool, error) {
	status := a.svc.AuthorizationStatus(ctx)
	if status == StatusNotDetermined {
		var err error
		status, err = a.svc.RequestAccess(ctx)
		if err != nil {
			log.Printf("Warning: calendar access request failed: %v", err)
			if status == StatusNotDetermined {
				status = StatusUnknown
			}
		}
	}
	if status.Granted() {
		return true, nil
	}
	return false, status.Err()
}

// canRead re-checks that existing events can be fetched.
func (a *Adapter) canRead(ctx context.Context) error {
	return a.svc.AuthorizationStatus(ctx).Err()
}

// CreateEvent projects task as a new event and returns its ref.
func (a *Adapter) CreateEvent(ctx context.Context, task model.Task) (string, error) {
	ref, err := a.svc.CreateEvent(ctx, Project(task))
	if err != nil {
		return "", &EventError{Kind: ErrEventSaveFailed, Err: err}
	}
	return ref, nil
}

// UpdateEvent rewrites the projection behind ref. If ref no longer resolves
// the event is recreated and the new ref returned.
func (a *Adapter) UpdateEvent(ctx context.Context, ref string, task model.Task) (string, error) {
	if ref == "" {
		return a.CreateEvent(ctx, task)
	}
	if err := a.canRead(ctx); err != nil {
		return ref, err
	}

	lookup, err := a.svc.FetchEvent(ctx, ref)
	if err != nil {
		return ref, &EventError{Kind: ErrEventFetchFailed, Ref: ref, Err: err}
	}
	if !lookup.Found {
		log.Printf("Event %s for task %s is gone, recreating", ref, task.ID)
		return a.CreateEvent(ctx, task)
	}

	next := Project(task)
	next.Ref = lookup.Event.Ref
	if next.Ref == "" {
		next.Ref = ref
	}
	if err := a.svc.SaveEvent(ctx, next); err != nil {
		return ref, &EventError{Kind: ErrEventSaveFailed, Ref: ref, Err: err}
	}
	return next.Ref, nil
}

// RemoveEvent deletes the event behind ref. A ref that no longer resolves is
// already removed.
func (a *Adapter) RemoveEvent(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	if err := a.canRead(ctx); err != nil {
		return err
	}

	lookup, err := a.svc.FetchEvent(ctx, ref)
	if err != nil {
		return &EventError{Kind: ErrEventFetchFailed, Ref: ref, Err: err}
	}
	if !lookup.Found {
		return nil
	}
	if err := a.svc.RemoveEvent(ctx, lookup.Event); err != nil {
		return &EventError{Kind: ErrEventRemoveFailed, Ref: ref, Err: err}
	}
	return nil
}

// RetitleForCompletion swaps the completion marker on the event behind ref,
// keeping every other field as the calendar has it. A missing event is
// recreated; the returned ref is the one the task should keep.
func (a *Adapter) RetitleForCompletion(ctx context.Context, ref string, task model.Task) (string, error) {
	if ref == "" {
		return "", nil
	}
	if err := a.canRead(ctx); err != nil {
		return ref, err
	}

	lookup, err := a.svc.FetchEvent(ctx, ref)
	if err != nil {
		return ref, &EventError{Kind: ErrEventFetchFailed, Ref: ref, Err: err}
	}
	if !lookup.Found {
		log.Printf("Event %s for task %s is gone, recreating", ref, task.ID)
		return a.CreateEvent(ctx, task)
	}

	next := Retitle(lookup.Event, task.IsCompleted)
	if next.Ref == "" {
		next.Ref = ref
	}
	if err := a.svc.SaveEvent(ctx, next); err != nil {
		return ref, &EventError{Kind: ErrEventSaveFailed, Ref: ref, Err: err}
	}
	return next.Ref, nil
}
