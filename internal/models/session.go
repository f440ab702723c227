package models

import "time"

// SearchSnapshot is a read-only copy of a place search session
type SearchSnapshot struct {
	Query     string           `json:"query"`
	PageToken string           `json:"page_token,omitempty"`
	Results   []PlaceCandidate `json:"results"`
	Exhausted bool             `json:"exhausted"`
	Searching bool             `json:"searching"`
	Err       error            `json:"-"`
	Error     string           `json:"error,omitempty"`
	// Blocking is true when the failure happened with no results on screen
	Blocking bool `json:"blocking"`
}

// PersistedSession is the state that survives a cold start.
// Loading flags, errors and search results are deliberately absent.
type PersistedSession struct {
	Current    *Coordinate     `json:"current,omitempty"`
	Selected   *Coordinate     `json:"selected,omitempty"`
	Permission PermissionState `json:"permission"`
	Accuracy   float64         `json:"accuracy"`
	SavedAt    time.Time       `json:"saved_at"`
}
