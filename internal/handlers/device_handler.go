package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/models"
	"github.com/ternarybob/waypoint/internal/platform"
)

// DeviceHandler drives the headless device: fix, permission status and prompt stats
type DeviceHandler struct {
	device *platform.Device
	logger arbor.ILogger
}

func NewDeviceHandler(device *platform.Device, logger arbor.ILogger) *DeviceHandler {
	return &DeviceHandler{
		device: device,
		logger: logger,
	}
}

type fixRequest struct {
	coordinateRequest
	Accuracy float64 `json:"accuracy" validate:"gte=0"`
}

type devicePermissionRequest struct {
	Status string `json:"status" validate:"required"`
}

// FixHandler replaces the position the device reports
func (h *DeviceHandler) FixHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req fixRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	h.device.SetFix(models.Position{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: time.Now(),
	})
	WriteSuccess(w, "Device fix updated")
}

// PermissionHandler sets the raw platform permission status
func (h *DeviceHandler) PermissionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req devicePermissionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	h.device.SetPermission(req.Status)
	h.logger.Debug().Str("status", req.Status).Msg("Device permission status changed")
	WriteSuccess(w, "Device permission updated")
}

// StatsHandler reports how often the device prompted the user
func (h *DeviceHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	prompts, settingsOpened := h.device.Stats()
	WriteJSON(w, http.StatusOK, map[string]int{
		"prompts":         prompts,
		"settings_opened": settingsOpened,
	})
}
