package calsync

import "fmt"

// AuthStatus is the calendar service's authorization state as reported right now.
// It is re-derived on every call and never cached.
type AuthStatus int

const (
	StatusNotDetermined AuthStatus = iota
	StatusAuthorizedFull
	StatusAuthorizedWriteOnly
	StatusDenied
	StatusRestricted
	StatusUnknown
)

func (s AuthStatus) String() string {
	switch s {
	case StatusNotDetermined:
		return "notDetermined"
	case StatusAuthorizedFull:
		return "authorizedFull"
	case StatusAuthorizedWriteOnly:
		return "authorizedWriteOnly"
	case StatusDenied:
		return "denied"
	case StatusRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// ParseAuthStatus maps a persisted status name back to its value. Anything
// unrecognized is StatusUnknown.
func ParseAuthStatus(s string) AuthStatus {
	switch s {
	case "notDetermined", "":
		return StatusNotDetermined
	case "authorizedFull":
		return StatusAuthorizedFull
	case "authorizedWriteOnly":
		return StatusAuthorizedWriteOnly
	case "denied":
		return StatusDenied
	case "restricted":
		return StatusRestricted
	default:
		return StatusUnknown
	}
}

// Granted reports whether events may be created in this state.
func (s AuthStatus) Granted() bool {
	return s == StatusAuthorizedFull || s == StatusAuthorizedWriteOnly
}

// Err returns the typed error for a state that cannot read existing events,
// or nil for authorizedFull.
func (s AuthStatus) Err() error {
	switch s {
	case StatusAuthorizedFull:
		return nil
	case StatusAuthorizedWriteOnly:
		return ErrWriteOnlyAccess
	case StatusDenied:
		return ErrAccessDenied
	case StatusRestricted:
		return ErrAccessRestricted
	case StatusNotDetermined:
		return fmt.Errorf("%w: authorization still not determined", ErrAccessDenied)
	default:
		return ErrUnknownAuthorization
	}
}
