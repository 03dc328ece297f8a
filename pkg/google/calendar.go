package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/tasksync/pkg/calsync"
)

const (
	taskIDProperty = "tasksync_id"
	markerProperty = "tasksync_marker"
)

// CalendarClient is a Google Calendar API client bound to one calendar.
type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
}

// NewCalendarClient creates a new Google Calendar client.
func NewCalendarClient(srv *calendar.Service, calendarID string) *CalendarClient {
	return &CalendarClient{srv: srv, calendarID: calendarID}
}

// CreateEvent inserts the projection of a task. An event already tagged with
// the task id is reused and patched instead, so retries never duplicate it.
func (c *CalendarClient) CreateEvent(ctx context.Context, e calsync.Event) (string, error) {
	target := toCalendarEvent(e)

	existing, err := c.GetEventByTaskID(ctx, e.TaskID)
	if err != nil {
		return "", fmt.Errorf("error searching for event: %w", err)
	}
	if existing != nil {
		patch, err := EventNeedsUpdate(existing, target)
		if err != nil {
			return "", err
		}
		if patch != nil {
			if _, err := c.PatchEvent(ctx, existing.Id, patch); err != nil {
				return "", err
			}
		}
		return existing.Id, nil
	}

	created, err := c.srv.Events.Insert(c.calendarID, target).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// FetchEvent gets the event behind ref. Deleted events come back Missing.
func (c *CalendarClient) FetchEvent(ctx context.Context, ref string) (calsync.Lookup, error) {
	event, err := c.srv.Events.Get(c.calendarID, ref).Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return calsync.Missing(), nil
		}
		return calsync.Missing(), err
	}
	if event.Status == "cancelled" {
		return calsync.Missing(), nil
	}
	e, err := fromCalendarEvent(event)
	if err != nil {
		return calsync.Missing(), err
	}
	return calsync.Found(e), nil
}

// SaveEvent writes every projected field of e onto the event e.Ref.
func (c *CalendarClient) SaveEvent(ctx context.Context, e calsync.Event) error {
	patch := toCalendarEvent(e)
	patch.ForceSendFields = []string{"Description", "Summary"}
	_, err := c.PatchEvent(ctx, e.Ref, patch)
	return err
}

// RemoveEvent deletes the event. One that is already gone counts as removed.
func (c *CalendarClient) RemoveEvent(ctx context.Context, e calsync.Event) error {
	if err := c.srv.Events.Delete(c.calendarID, e.Ref).Context(ctx).Do(); err != nil && !isGone(err) {
		return err
	}
	return nil
}

// PatchEvent performs a partial update on an event.
func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	return c.srv.Events.Patch(c.calendarID, eventID, patch).Context(ctx).Do()
}

// GetEventByTaskID searches for a live event tagged with the given task id.
func (c *CalendarClient) GetEventByTaskID(ctx context.Context, taskID string) (*calendar.Event, error) {
	if taskID == "" {
		return nil, nil
	}
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", taskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	for _, item := range events.Items {
		if item.Status != "cancelled" {
			return item, nil
		}
	}
	return nil, nil
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}

// priorityColors maps task priority to calendar color ids (lavender, banana, tomato).
var priorityColors = map[int]string{0: "1", 1: "5", 2: "11"}

func toCalendarEvent(e calsync.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     e.Title,
		Description: e.Notes,
		ColorId:     priorityColors[e.Priority],
		Start: &calendar.EventDateTime{
			DateTime: e.Start.UTC().Format(time.RFC3339),
		},
		End: &calendar.EventDateTime{
			DateTime: e.End.UTC().Format(time.RFC3339),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				taskIDProperty: e.TaskID,
				markerProperty: strconv.FormatBool(e.Marked),
			},
		},
	}
}

func fromCalendarEvent(ev *calendar.Event) (calsync.Event, error) {
	e := calsync.Event{
		Ref:   ev.Id,
		Title: ev.Summary,
		Notes: ev.Description,
	}
	for p, color := range priorityColors {
		if color == ev.ColorId {
			e.Priority = p
		}
	}
	if ev.ExtendedProperties != nil {
		e.TaskID = ev.ExtendedProperties.Private[taskIDProperty]
		e.Marked, _ = strconv.ParseBool(ev.ExtendedProperties.Private[markerProperty])
	}

	var err error
	if e.Start, err = parseEventTime(ev.Start); err != nil {
		return calsync.Event{}, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	if e.End, err = parseEventTime(ev.End); err != nil {
		return calsync.Event{}, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	return e, nil
}

func parseEventTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, nil
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		return time.ParseInLocation("2006-01-02", dt.Date, time.Local)
	}
	return time.Time{}, nil
}

// EventNeedsUpdate returns a patch holding the fields where target differs
// from existing, or nil when they already match.
func EventNeedsUpdate(existing, target *calendar.Event) (*calendar.Event, error) {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		patch.ForceSendFields = append(patch.ForceSendFields, "Description")
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	existingStart, err := parseEventTime(existing.Start)
	if err != nil {
		return nil, err
	}
	targetStart, err := parseEventTime(target.Start)
	if err != nil {
		return nil, err
	}
	existingEnd, err := parseEventTime(existing.End)
	if err != nil {
		return nil, err
	}
	targetEnd, err := parseEventTime(target.End)
	if err != nil {
		return nil, err
	}
	if !existingStart.Equal(targetStart) || !existingEnd.Equal(targetEnd) {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if existing.ExtendedProperties == nil ||
		existing.ExtendedProperties.Private[markerProperty] != target.ExtendedProperties.Private[markerProperty] {
		patch.ExtendedProperties = target.ExtendedProperties
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}
