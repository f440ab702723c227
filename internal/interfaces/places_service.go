package interfaces

import (
	"context"

	"github.com/ternarybob/waypoint/internal/models"
)

// MapsClient talks to the reverse-geocoding and text-search HTTP endpoints
type MapsClient interface {
	// ReverseGeocode converts a coordinate into ordered place candidates.
	// Any status other than OK is a failure wrapping models.ErrGeocodeFailed.
	ReverseGeocode(ctx context.Context, coord models.Coordinate) ([]models.PlaceCandidate, error)

	// TextSearch runs one page of a free-text place search biased by near when non-nil.
	// OK and ZERO_RESULTS are both successful outcomes.
	TextSearch(ctx context.Context, req TextSearchRequest) (*models.SearchPage, error)
}

// TextSearchRequest holds the parameters of one text search page
type TextSearchRequest struct {
	Query     string
	Near      *models.Coordinate
	PageToken string
}
