// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 10:12:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// Coordinate is an immutable latitude/longitude pair. Equality is exact.
type Coordinate struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Equal compares two coordinates without any epsilon
func (c Coordinate) Equal(o Coordinate) bool {
	return c.Latitude == o.Latitude && c.Longitude == o.Longitude
}

// LatLng formats the coordinate the way the Google APIs expect it
func (c Coordinate) LatLng() string {
	return fmt.Sprintf("%f,%f", c.Latitude, c.Longitude)
}

// Position is what the device location provider reports
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Accuracy in meters; 0 when the platform did not report one
	Accuracy  float64   `json:"accuracy"`
	Altitude  float64   `json:"altitude,omitempty"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Coordinate drops everything but latitude and longitude
func (p Position) Coordinate() Coordinate {
	return Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

// AccuracyLevel buckets a fix by its reported accuracy
type AccuracyLevel string

const (
	AccuracyHigh    AccuracyLevel = "high"
	AccuracyMed     AccuracyLevel = "med"
	AccuracyLow     AccuracyLevel = "low"
	AccuracyUnknown AccuracyLevel = "unknown"
)

// PermissionState is the platform permission status normalized across platforms
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionBlocked PermissionState = "blocked"
)

// Slot names one of the three independent location roles
type Slot string

const (
	SlotCurrent     Slot = "current"
	SlotSelected    Slot = "selected"
	SlotDestination Slot = "destination"
)

// AllSlots lists every slot in a stable order
var AllSlots = []Slot{SlotCurrent, SlotSelected, SlotDestination}

// Valid reports whether s is one of the known slots
func (s Slot) Valid() bool {
	switch s {
	case SlotCurrent, SlotSelected, SlotDestination:
		return true
	}
	return false
}

// SlotStatus is the per-slot resolution state
type SlotStatus string

const (
	SlotIdle    SlotStatus = "idle"
	SlotLoading SlotStatus = "loading"
	SlotReady   SlotStatus = "ready"
	SlotError   SlotStatus = "error"
)

// PointContext tells the UI how to label the selected point
type PointContext string

const (
	ContextBrowse PointContext = "browse"
	ContextPickup PointContext = "pickup"
)

// SlotSnapshot is a read-only copy of one slot's state
type SlotSnapshot struct {
	Slot       Slot             `json:"slot"`
	Status     SlotStatus       `json:"status"`
	Coordinate *Coordinate      `json:"coordinate,omitempty"`
	Candidates []PlaceCandidate `json:"candidates"`
	Names      DerivedNames     `json:"names"`
	Err        error            `json:"-"`
	Error      string           `json:"error,omitempty"`
	// Blocking is true when the slot failed before any candidates were loaded
	Blocking  bool      `json:"blocking"`
	UpdatedAt time.Time `json:"updated_at"`
}
