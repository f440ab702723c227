// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 4:40:52 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/models"
	"github.com/ternarybob/waypoint/internal/services/location"
	"github.com/ternarybob/waypoint/internal/services/permission"
	"github.com/ternarybob/waypoint/internal/services/reconciler"
	"github.com/ternarybob/waypoint/internal/services/search"
)

// screen is one consumer of the pipeline: a cancellation scope plus its own
// place search session
type screen struct {
	scope    *reconciler.Scope
	search   *search.Session
	openedAt time.Time
}

// LocationHandler exposes the slot reconciler, the device acquisition flow
// and per-screen search sessions over JSON
type LocationHandler struct {
	ctx        context.Context
	reconciler *reconciler.Reconciler
	searches   *search.Factory
	acquirer   *location.Acquirer
	gate       *permission.Gate
	logger     arbor.ILogger

	mu      sync.RWMutex
	screens map[string]*screen
}

// NewLocationHandler creates the handler. Screens opened through it live until
// closed or until ctx is done.
func NewLocationHandler(
	ctx context.Context,
	rec *reconciler.Reconciler,
	searches *search.Factory,
	acquirer *location.Acquirer,
	gate *permission.Gate,
	logger arbor.ILogger,
) *LocationHandler {
	return &LocationHandler{
		ctx:        ctx,
		reconciler: rec,
		searches:   searches,
		acquirer:   acquirer,
		gate:       gate,
		logger:     logger,
		screens:    make(map[string]*screen),
	}
}

var _ FeedSource = (*LocationHandler)(nil)

// coordinateRequest carries a coordinate; both fields must be present
type coordinateRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

func (c coordinateRequest) coordinate() models.Coordinate {
	return models.Coordinate{Latitude: *c.Latitude, Longitude: *c.Longitude}
}

// State assembles the view pushed to observers
func (h *LocationHandler) State() StateView {
	h.mu.RLock()
	searches := make(map[string]models.SearchSnapshot, len(h.screens))
	for id, s := range h.screens {
		searches[id] = s.search.Snapshot()
	}
	h.mu.RUnlock()

	accuracy := models.AccuracyUnknown
	if h.acquirer != nil {
		accuracy = h.acquirer.AccuracyLevel()
	}

	return StateView{
		Slots:      h.reconciler.Snapshots(),
		Context:    h.reconciler.PointContext(),
		Permission: h.reconciler.Permission(),
		Accuracy:   accuracy,
		Searches:   searches,
	}
}

// StateHandler returns the full state snapshot
func (h *LocationHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.State())
}

// OpenScreenHandler opens a scope and a search session for a new screen
func (h *LocationHandler) OpenScreenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	scope := h.reconciler.NewScope(h.ctx)
	s := &screen{
		scope:    scope,
		search:   h.searches.Open(scope.Context(), scope.ID()),
		openedAt: time.Now(),
	}

	h.mu.Lock()
	h.screens[scope.ID()] = s
	count := len(h.screens)
	h.mu.Unlock()

	h.logger.Info().Str("screen_id", scope.ID()).Int("open_screens", count).Msg("Screen opened")

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        scope.ID(),
		"opened_at": s.openedAt,
	})
}

// CloseScreenHandler tears a screen down; its in-flight work is cancelled
func (h *LocationHandler) CloseScreenHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	id := r.PathValue("id")
	h.mu.Lock()
	s, ok := h.screens[id]
	delete(h.screens, id)
	h.mu.Unlock()

	if !ok {
		WriteError(w, http.StatusNotFound, "Screen not found")
		return
	}

	s.scope.Close()
	h.logger.Info().Str("screen_id", id).Dur("open_for", time.Since(s.openedAt)).Msg("Screen closed")
	WriteSuccess(w, "Screen closed")
}

// CloseAll closes every open screen
func (h *LocationHandler) CloseAll() {
	h.mu.Lock()
	screens := h.screens
	h.screens = make(map[string]*screen)
	h.mu.Unlock()

	for _, s := range screens {
		s.scope.Close()
	}
}

// lookup resolves {id}; it writes a 404 or 410 and returns nil on failure
func (h *LocationHandler) lookup(w http.ResponseWriter, r *http.Request) *screen {
	id := r.PathValue("id")

	h.mu.RLock()
	s, ok := h.screens[id]
	h.mu.RUnlock()

	if !ok {
		WriteError(w, http.StatusNotFound, "Screen not found")
		return nil
	}
	if s.scope.Closed() {
		h.mu.Lock()
		delete(h.screens, id)
		h.mu.Unlock()
		WriteError(w, http.StatusGone, "Screen is closed")
		return nil
	}
	return s
}

// SelectedHandler moves the selected (browse or pickup) point
func (h *LocationHandler) SelectedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	var req coordinateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.reconciler.EditLocation(s.scope, req.coordinate()); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeSlot(w, http.StatusAccepted, models.SlotSelected)
}

// DestinationHandler sets (POST) or clears (DELETE) the ride destination
func (h *LocationHandler) DestinationHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s := h.lookup(w, r)
		if s == nil {
			return
		}
		var req coordinateRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		if err := h.reconciler.SetDestination(s.scope, req.coordinate()); err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeSlot(w, http.StatusAccepted, models.SlotDestination)
	case "DELETE":
		if h.lookup(w, r) == nil {
			return
		}
		h.reconciler.LeaveRideFlow()
		h.writeSlot(w, http.StatusOK, models.SlotDestination)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// CommitHandler stores a ride flow pick into destination or pickup
func (h *LocationHandler) CommitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	var req coordinateRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	slot, err := h.reconciler.CommitRidePoint(s.scope, req.coordinate())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeSlot(w, http.StatusAccepted, slot)
}

// UseCurrentHandler copies the device coordinate into selected
func (h *LocationHandler) UseCurrentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	if err := h.reconciler.UseCurrentLocation(s.scope); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeSlot(w, http.StatusAccepted, models.SlotSelected)
}

// RetrySlotHandler re-resolves one slot after an error
func (h *LocationHandler) RetrySlotHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	slot := models.Slot(r.PathValue("slot"))
	if !slot.Valid() {
		WriteError(w, http.StatusBadRequest, "Unknown slot: "+string(slot))
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	if err := h.reconciler.Retry(s.scope, slot); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeSlot(w, http.StatusAccepted, slot)
}

// ResolveAllHandler re-resolves every slot holding a coordinate and waits
func (h *LocationHandler) ResolveAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	s := h.lookup(w, r)
	if s == nil {
		return
	}

	if err := h.reconciler.ResolveAll(s.scope); err != nil && !models.IsCancelled(err) {
		h.logger.Warn().Err(err).Str("screen_id", s.scope.ID()).Msg("Resolve all finished with errors")
	}
	WriteJSON(w, http.StatusOK, h.reconciler.Snapshots())
}

// AcquireHandler runs the permission and fix flow for the device
func (h *LocationHandler) AcquireHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	fix, err := h.acquirer.Acquire(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"fix":      fix,
		"accuracy": h.acquirer.AccuracyLevel(),
	})
}

// PermissionHandler asks for location permission (POST) or checks it (GET)
func (h *LocationHandler) PermissionHandler(w http.ResponseWriter, r *http.Request) {
	var (
		state models.PermissionState
		err   error
	)
	switch r.Method {
	case "GET":
		state, err = h.gate.Check(r.Context())
	case "POST":
		state, err = h.gate.RequestPermission(r.Context())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"permission": string(state)})
}

func (h *LocationHandler) writeSlot(w http.ResponseWriter, status int, slot models.Slot) {
	WriteJSON(w, status, h.reconciler.Snapshot(slot))
}

// writeServiceError maps pipeline errors onto HTTP statuses
func (h *LocationHandler) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconciler.ErrClosedScope), errors.Is(err, search.ErrSessionClosed):
		status = http.StatusGone
	case errors.Is(err, reconciler.ErrNoCoordinate):
		status = http.StatusConflict
	case errors.Is(err, models.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrLocationUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, models.ErrGeocodeFailed), errors.Is(err, models.ErrPlaceSearchFailed):
		status = http.StatusBadGateway
	case models.IsCancelled(err):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("Request failed")
	} else {
		h.logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	WriteError(w, status, err.Error())
}
