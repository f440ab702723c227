package places

import "github.com/ternarybob/waypoint/internal/models"

// Google API status values
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// GeocodeResponse represents the Google Geocoding API response
type GeocodeResponse struct {
	Results      []PlaceResult `json:"results"`
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// TextSearchResponse represents the Google Places Text Search API response
type TextSearchResponse struct {
	HTMLAttributions []string      `json:"html_attributions"`
	Results          []PlaceResult `json:"results"`
	Status           string        `json:"status"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	NextPageToken    string        `json:"next_page_token,omitempty"`
}

// PlaceResult is the union of the geocode and text search result shapes
type PlaceResult struct {
	AddressComponents []AddressComponent `json:"address_components,omitempty"`
	FormattedAddress  string             `json:"formatted_address,omitempty"`
	Geometry          *Geometry          `json:"geometry,omitempty"`
	Name              string             `json:"name,omitempty"`
	PlaceID           string             `json:"place_id"`
	PlusCode          *PlusCode          `json:"plus_code,omitempty"`
	Types             []string           `json:"types,omitempty"`
}

// AddressComponent represents one structured address part
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Geometry represents the geometry information of a place
type Geometry struct {
	Location     *LatLng `json:"location,omitempty"`
	LocationType string  `json:"location_type,omitempty"`
	Viewport     *Bounds `json:"viewport,omitempty"`
}

// LatLng represents a geographic coordinate
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds represents a geographic bounding box
type Bounds struct {
	Northeast *LatLng `json:"northeast,omitempty"`
	Southwest *LatLng `json:"southwest,omitempty"`
}

// PlusCode represents a plus code (Open Location Code)
type PlusCode struct {
	CompoundCode string `json:"compound_code,omitempty"`
	GlobalCode   string `json:"global_code,omitempty"`
}

// toCandidate converts an API result to the pipeline's PlaceCandidate model
func toCandidate(place PlaceResult) models.PlaceCandidate {
	candidate := models.PlaceCandidate{
		PlaceID:           place.PlaceID,
		Name:              place.Name,
		FormattedAddress:  place.FormattedAddress,
		Types:             place.Types,
		AddressComponents: make([]models.AddressComponent, 0, len(place.AddressComponents)),
	}

	for _, c := range place.AddressComponents {
		candidate.AddressComponents = append(candidate.AddressComponents, models.AddressComponent{
			LongName:  c.LongName,
			ShortName: c.ShortName,
			Types:     c.Types,
		})
	}

	if place.Geometry != nil && place.Geometry.Location != nil {
		candidate.Geometry = &models.Coordinate{
			Latitude:  place.Geometry.Location.Lat,
			Longitude: place.Geometry.Location.Lng,
		}
	}

	return candidate
}

func toCandidates(results []PlaceResult) []models.PlaceCandidate {
	candidates := make([]models.PlaceCandidate, len(results))
	for i, place := range results {
		candidates[i] = toCandidate(place)
	}
	return candidates
}
