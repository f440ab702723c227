// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 5:31:02 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - state feed for observers
	mux.HandleFunc("/ws", s.app.StateFeed.HandleWebSocket)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/state", s.app.LocationHandler.StateHandler) // GET - slots, context, permission, searches

	// API routes - Device acquisition
	mux.HandleFunc("/api/location/acquire", s.app.LocationHandler.AcquireHandler) // POST - permission + fix
	mux.HandleFunc("/api/permission", s.app.LocationHandler.PermissionHandler)    // GET (check), POST (request)

	// API routes - Screens (one cancellation scope + search session each)
	mux.HandleFunc("POST /api/screens", s.app.LocationHandler.OpenScreenHandler)
	mux.HandleFunc("DELETE /api/screens/{id}", s.app.LocationHandler.CloseScreenHandler)
	mux.HandleFunc("/api/screens/{id}/selected", s.app.LocationHandler.SelectedHandler)       // POST
	mux.HandleFunc("/api/screens/{id}/destination", s.app.LocationHandler.DestinationHandler) // POST, DELETE
	mux.HandleFunc("/api/screens/{id}/commit", s.app.LocationHandler.CommitHandler)           // POST - ride flow pick
	mux.HandleFunc("/api/screens/{id}/use-current", s.app.LocationHandler.UseCurrentHandler)  // POST
	mux.HandleFunc("/api/screens/{id}/resolve", s.app.LocationHandler.ResolveAllHandler)      // POST
	mux.HandleFunc("/api/screens/{id}/retry/{slot}", s.app.LocationHandler.RetrySlotHandler)  // POST

	// API routes - Place search
	mux.HandleFunc("/api/screens/{id}/search", s.app.LocationHandler.SearchHandler) // GET, DELETE
	mux.HandleFunc("/api/screens/{id}/search/type", s.app.LocationHandler.SearchTypeHandler)
	mux.HandleFunc("/api/screens/{id}/search/more", s.app.LocationHandler.SearchMoreHandler)
	mux.HandleFunc("/api/screens/{id}/search/retry", s.app.LocationHandler.SearchRetryHandler)
	mux.HandleFunc("/api/screens/{id}/search/select", s.app.LocationHandler.SearchSelectHandler)

	// API routes - Headless device controls
	mux.HandleFunc("/api/device/fix", s.app.DeviceHandler.FixHandler)
	mux.HandleFunc("/api/device/permission", s.app.DeviceHandler.PermissionHandler)
	mux.HandleFunc("/api/device/stats", s.app.DeviceHandler.StatsHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
