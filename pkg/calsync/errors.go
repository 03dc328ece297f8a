package calsync

import (
	"errors"
	"fmt"
)

var (
	ErrAccessDenied         = errors.New("calendar access denied")
	ErrAccessRestricted     = errors.New("calendar access restricted")
	ErrWriteOnlyAccess      = errors.New("calendar access is write-only")
	ErrUnknownAuthorization = errors.New("unknown calendar authorization status")

	ErrEventSaveFailed   = errors.New("calendar event save failed")
	ErrEventRemoveFailed = errors.New("calendar event remove failed")
	ErrEventFetchFailed  = errors.New("calendar event fetch failed")
)

// EventError wraps an underlying calendar service failure with its kind
// (ErrEventSaveFailed, ErrEventRemoveFailed or ErrEventFetchFailed).
type EventError struct {
	Kind error
	Ref  string
	Err  error
}

func (e *EventError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v (event %s): %v", e.Kind, e.Ref, e.Err)
}

func (e *EventError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsAuthorizationError reports whether err stems from the authorization state.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrAccessRestricted) ||
		errors.Is(err, ErrWriteOnlyAccess) ||
		errors.Is(err, ErrUnknownAuthorization)
}
