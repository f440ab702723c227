package geocode

import "github.com/ternarybob/waypoint/internal/models"

// placeholder shown when no place name can be derived
const noPlaceName = "-"

// DeriveNames computes the display labels for a candidate list.
// An empty list yields empty names.
func DeriveNames(candidates []models.PlaceCandidate) models.DerivedNames {
	if len(candidates) == 0 {
		return models.DerivedNames{}
	}
	return models.DerivedNames{
		CityName:  CityName(candidates),
		RouteName: RouteName(candidates),
		PlaceName: PlaceName(candidates),
	}
}

// CityName returns the short name of the level 2 administrative area.
// The first candidate typed administrative_area_level_2 wins; without one the
// lookup is retried against candidates[0] only.
func CityName(candidates []models.PlaceCandidate) string {
	if len(candidates) == 0 {
		return ""
	}

	source := candidates[0]
	for _, c := range candidates {
		if c.HasType(models.TypeAdminAreaLevel2) {
			source = c
			break
		}
	}

	if component, ok := source.Component(models.TypeAdminAreaLevel2); ok {
		return component.ShortName
	}
	return ""
}

// RouteName returns the street the coordinate sits on.
// Order: candidate typed route, any candidate with a route component,
// then candidates[0]'s first component.
func RouteName(candidates []models.PlaceCandidate) string {
	if len(candidates) == 0 {
		return ""
	}

	for _, c := range candidates {
		if !c.HasType(models.TypeRoute) {
			continue
		}
		if component, ok := c.Component(models.TypeRoute); ok {
			return component.ShortName
		}
	}

	for _, c := range candidates {
		if component, ok := c.Component(models.TypeRoute); ok {
			return component.ShortName
		}
	}

	if len(candidates[0].AddressComponents) > 0 {
		return candidates[0].AddressComponents[0].ShortName
	}
	return ""
}

// PlaceName is the label used by the search and ride flows.
// A point_of_interest component wins, then the first component of the first
// administrative_area_level_4 candidate, then "-".
func PlaceName(candidates []models.PlaceCandidate) string {
	for _, c := range candidates {
		if !c.HasType(models.TypePointOfInterest) {
			continue
		}
		if component, ok := c.Component(models.TypePointOfInterest); ok && component.ShortName != "" {
			return component.ShortName
		}
		break
	}

	for _, c := range candidates {
		if !c.HasType(models.TypeAdminAreaLevel4) {
			continue
		}
		if len(c.AddressComponents) > 0 {
			return c.AddressComponents[0].ShortName
		}
		break
	}

	return noPlaceName
}
