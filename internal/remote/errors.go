// Package remote implements the typed client for the versioned document
// store and session backend. The client performs no retries of its own;
// retry policy belongs to the callers.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a well-formed non-2xx rejection from the backend. Transport
// failures (unreachable host, timeout) are returned as plain wrapped
// errors instead, so callers can distinguish the two with errors.As.
type Error struct {
	Status  int
	Message string

	// CurrentVersion carries the authoritative version on a 409 when the
	// backend included one.
	CurrentVersion    int64
	HasCurrentVersion bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote: status %d", e.Status)
}

// IsNotFound reports whether err is a 404 rejection.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

// IsConflict reports whether err is a 409 optimistic-concurrency
// rejection.
func IsConflict(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Status == http.StatusConflict
}

// IsGone reports whether err belongs to the class that latches the remote
// integration off for the rest of the session: the resource route is gone
// or the verb is not served.
func IsGone(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	return re.Status == http.StatusNotFound || re.Status == http.StatusMethodNotAllowed
}

// ConflictVersion extracts the authoritative version from a 409
// rejection, when the backend supplied one.
func ConflictVersion(err error) (int64, bool) {
	var re *Error
	if errors.As(err, &re) && re.Status == http.StatusConflict && re.HasCurrentVersion {
		return re.CurrentVersion, true
	}
	return 0, false
}

// IsRejection reports whether err is any well-formed backend rejection,
// as opposed to a transport failure.
func IsRejection(err error) bool {
	var re *Error
	return errors.As(err, &re)
}
