// Package google implements the calendar service contract on top of the
// Google Calendar API.
package google

import (
	"context"
	"fmt"
	"log"
	"sync"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/tasksync/pkg/auth"
	"github.com/harrisonrobin/tasksync/pkg/calsync"
)

// Service is a calsync.Service backed by a named Google calendar. The API
// client is built on first use, after the user has granted access.
type Service struct {
	auth         *auth.Authorizer
	calendarName string

	mu     sync.Mutex
	client *CalendarClient
}

func NewService(a *auth.Authorizer, calendarName string) *Service {
	return &Service{auth: a, calendarName: calendarName}
}

func (s *Service) AuthorizationStatus(ctx context.Context) calsync.AuthStatus {
	return s.auth.Status()
}

func (s *Service) RequestAccess(ctx context.Context) (calsync.AuthStatus, error) {
	status, err := s.auth.RequestAccess(ctx)
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return status, err
}

func (s *Service) CreateEvent(ctx context.Context, e calsync.Event) (string, error) {
	c, err := s.calendarClient(ctx)
	if err != nil {
		return "", err
	}
	return c.CreateEvent(ctx, e)
}

func (s *Service) FetchEvent(ctx context.Context, ref string) (calsync.Lookup, error) {
	c, err := s.calendarClient(ctx)
	if err != nil {
		return calsync.Missing(), err
	}
	return c.FetchEvent(ctx, ref)
}

func (s *Service) SaveEvent(ctx context.Context, e calsync.Event) error {
	c, err := s.calendarClient(ctx)
	if err != nil {
		return err
	}
	return c.SaveEvent(ctx, e)
}

func (s *Service) RemoveEvent(ctx context.Context, e calsync.Event) error {
	c, err := s.calendarClient(ctx)
	if err != nil {
		return err
	}
	return c.RemoveEvent(ctx, e)
}

func (s *Service) calendarClient(ctx context.Context) (*CalendarClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	httpClient, err := s.auth.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}

	calendarID := "primary"
	if s.auth.Status() == calsync.StatusAuthorizedFull {
		calendarID, err = FindCalendarID(ctx, srv, s.calendarName)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("Warning: calendar list is not readable, using the primary calendar instead of '%s'", s.calendarName)
	}

	s.client = NewCalendarClient(srv, calendarID)
	return s.client, nil
}

// FindCalendarID resolves a calendar's display name to its id.
func FindCalendarID(ctx context.Context, srv *calendar.Service, calendarName string) (string, error) {
	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve calendar list: %w", err)
	}

	for _, item := range calendarList.Items {
		if item.Summary == calendarName {
			return item.Id, nil
		}
	}
	return "", fmt.Errorf("calendar '%s' not found", calendarName)
}
