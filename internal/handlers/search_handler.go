package handlers

import (
	"net/http"

	"github.com/ternarybob/waypoint/internal/models"
)

type typeRequest struct {
	Query string `json:"query" validate:"max=256"`
}

type selectRequest struct {
	PlaceID string `json:"place_id" validate:"required"`
	// Ride routes the pick through the ride flow instead of moving the selected point
	Ride bool `json:"ride"`
}

// SearchHandler returns (GET) or resets (DELETE) the screen's search session
func (h *LocationHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	switch r.Method {
	case "GET":
		WriteJSON(w, http.StatusOK, s.search.Snapshot())
	case "DELETE":
		s.search.Reset()
		WriteSuccess(w, "Search reset")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// SearchTypeHandler feeds one keystroke into the debounced search
func (h *LocationHandler) SearchTypeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	var req typeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	s.search.Type(req.Query)
	WriteStarted(w, "Search scheduled")
}

// SearchMoreHandler loads the next page when one is available
func (h *LocationHandler) SearchMoreHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	if !s.search.LoadMore() {
		WriteError(w, http.StatusConflict, "No further results to load")
		return
	}
	WriteStarted(w, "Loading more results")
}

// SearchRetryHandler re-sends the last search request
func (h *LocationHandler) SearchRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	if !s.search.Retry() {
		WriteError(w, http.StatusConflict, "Nothing to retry")
		return
	}
	WriteStarted(w, "Retrying search")
}

// SearchSelectHandler applies a search result to the slots and clears the search
func (h *LocationHandler) SearchSelectHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	var req selectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var picked *models.PlaceCandidate
	for _, result := range s.search.Snapshot().Results {
		if result.PlaceID == req.PlaceID {
			picked = &result
			break
		}
	}
	if picked == nil {
		WriteError(w, http.StatusNotFound, "Result not found in current search")
		return
	}
	if picked.Geometry == nil {
		WriteError(w, http.StatusUnprocessableEntity, "Result has no location")
		return
	}

	slot := models.SlotSelected
	var err error
	if req.Ride {
		slot, err = h.reconciler.CommitRidePoint(s.scope, *picked.Geometry)
	} else {
		err = h.reconciler.EditLocation(s.scope, *picked.Geometry)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Debug().
		Str("screen_id", s.scope.ID()).
		Str("place_id", req.PlaceID).
		Str("slot", string(slot)).
		Msg("Search result selected")

	s.search.Reset()
	h.writeSlot(w, http.StatusAccepted, slot)
}
