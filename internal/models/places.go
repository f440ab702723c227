package models

// Address component and result types used by the geocoding and search APIs.
const (
	TypeAdminAreaLevel2 = "administrative_area_level_2"
	TypeAdminAreaLevel4 = "administrative_area_level_4"
	TypeRoute           = "route"
	TypePointOfInterest = "point_of_interest"
)

// AddressComponent is one element of a candidate's structured address
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// HasType reports whether the component is tagged with t
func (c AddressComponent) HasType(t string) bool {
	return containsType(c.Types, t)
}

// PlaceCandidate is a single reverse-geocode or text-search result
type PlaceCandidate struct {
	PlaceID           string             `json:"place_id,omitempty"`
	Name              string             `json:"name,omitempty"`
	FormattedAddress  string             `json:"formatted_address"`
	AddressComponents []AddressComponent `json:"address_components"`
	Types             []string           `json:"types"`
	Geometry          *Coordinate        `json:"geometry,omitempty"`
}

// HasType reports whether the candidate itself is tagged with t
func (p PlaceCandidate) HasType(t string) bool {
	return containsType(p.Types, t)
}

// Component returns the first address component tagged with t
func (p PlaceCandidate) Component(t string) (AddressComponent, bool) {
	for _, c := range p.AddressComponents {
		if c.HasType(t) {
			return c, true
		}
	}
	return AddressComponent{}, false
}

// DerivedNames are the human-readable labels computed from a candidate list
type DerivedNames struct {
	CityName  string `json:"city_name"`
	RouteName string `json:"route_name"`
	PlaceName string `json:"place_name"`
}

// SearchPage is one page of a text search
type SearchPage struct {
	Results       []PlaceCandidate `json:"results"`
	NextPageToken string           `json:"next_page_token,omitempty"`
	Status        string           `json:"status"`
}

func containsType(types []string, t string) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}
