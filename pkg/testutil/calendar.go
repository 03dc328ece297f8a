// Package testutil provides fakes of the external services for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
)

// FakeCalendar is an in-memory calsync.Service. Status is what the user has
// decided; Prompt is what the user answers when asked while undecided.
type FakeCalendar struct {
	mu      sync.Mutex
	Status  calsync.AuthStatus
	Prompt  calsync.AuthStatus
	Events  map[string]calsync.Event
	Prompts int
	nextID  int

	FailCreate error
	FailSave   error
	FailRemove error
	FailFetch  error
}

func NewFakeCalendar(status calsync.AuthStatus) *FakeCalendar {
	return &FakeCalendar{
		Status: status,
		Prompt: calsync.StatusAuthorizedFull,
		Events: make(map[string]calsync.Event),
	}
}

func (f *FakeCalendar) AuthorizationStatus(ctx context.Context) calsync.AuthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Status
}

func (f *FakeCalendar) RequestAccess(ctx context.Context) (calsync.AuthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts++
	f.Status = f.Prompt
	return f.Status, nil
}

// SetStatus changes the authorization state, e.g. to simulate a revocation.
func (f *FakeCalendar) SetStatus(s calsync.AuthStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Status = s
}

func (f *FakeCalendar) CreateEvent(ctx context.Context, e calsync.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate != nil {
		return "", f.FailCreate
	}
	f.nextID++
	e.Ref = fmt.Sprintf("evt-%d", f.nextID)
	f.Events[e.Ref] = e
	return e.Ref, nil
}

func (f *FakeCalendar) FetchEvent(ctx context.Context, ref string) (calsync.Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetch != nil {
		return calsync.Missing(), f.FailFetch
	}
	e, ok := f.Events[ref]
	if !ok {
		return calsync.Missing(), nil
	}
	return calsync.Found(e), nil
}

func (f *FakeCalendar) SaveEvent(ctx context.Context, e calsync.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSave != nil {
		return f.FailSave
	}
	f.Events[e.Ref] = e
	return nil
}

func (f *FakeCalendar) RemoveEvent(ctx context.Context, e calsync.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRemove != nil {
		return f.FailRemove
	}
	delete(f.Events, e.Ref)
	return nil
}

// DeleteOutOfBand removes an event the way a user would in the calendar app.
func (f *FakeCalendar) DeleteOutOfBand(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Events, ref)
}

// Event returns the stored event for ref.
func (f *FakeCalendar) Event(ref string) (calsync.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.Events[ref]
	return e, ok
}

// Count returns how many events exist.
func (f *FakeCalendar) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Events)
}
