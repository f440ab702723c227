package models

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Every failure surfaced by the pipeline wraps one of these.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrGeocodeFailed       = errors.New("failed to get geocode")
	ErrPlaceSearchFailed   = errors.New("failed to find place")
)

// APIError describes a non-success answer from an upstream maps endpoint
type APIError struct {
	Endpoint   string
	HTTPStatus int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		if e.Message != "" {
			return fmt.Sprintf("%s: API status %s: %s", e.Endpoint, e.Status, e.Message)
		}
		return fmt.Sprintf("%s: API status %s", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.HTTPStatus, e.Message)
}

// IsCancelled reports whether err came from a superseded request or a closed scope.
// Such errors are never shown to the user.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
