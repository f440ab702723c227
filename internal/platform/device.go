package platform

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

// ErrNoFix is returned when the simulated device has no position to report
var ErrNoFix = errors.New("no position fix available")

// Device is a headless stand-in for the phone's location and permission APIs.
// Its fix, permission status and prompt answers can be changed at runtime.
type Device struct {
	mu             sync.RWMutex
	fix            *models.Position
	permission     string
	acceptRetry    bool
	acceptSettings bool
	settingsOpened int
	prompts        int
	logger         arbor.ILogger
}

// NewDevice builds a device from the [device] section
func NewDevice(config common.DeviceConfig, logger arbor.ILogger) *Device {
	d := &Device{
		permission:     config.Permission,
		acceptRetry:    config.AcceptRetryPrompts,
		acceptSettings: config.AcceptSettingsPrompt,
		logger:         logger,
	}
	if config.Latitude != 0 || config.Longitude != 0 {
		d.fix = &models.Position{
			Latitude:  config.Latitude,
			Longitude: config.Longitude,
			Accuracy:  config.Accuracy,
		}
	}
	return d
}

var (
	_ interfaces.PositionProvider   = (*Device)(nil)
	_ interfaces.PermissionProvider = (*Device)(nil)
	_ interfaces.Prompter           = (*Device)(nil)
)

// GetCurrentPosition returns the configured fix stamped with the current time
func (d *Device) GetCurrentPosition(ctx context.Context) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.fix == nil {
		return models.Position{}, ErrNoFix
	}
	fix := *d.fix
	fix.Timestamp = time.Now()
	return fix, nil
}

// SetFix moves the simulated device
func (d *Device) SetFix(fix models.Position) {
	d.mu.Lock()
	d.fix = &fix
	d.mu.Unlock()

	d.logger.Debug().
		Float64("latitude", fix.Latitude).
		Float64("longitude", fix.Longitude).
		Float64("accuracy", fix.Accuracy).
		Msg("Simulated device moved")
}

// Check returns the raw platform permission status
func (d *Device) Check(ctx context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.permission, nil
}

// Request returns the raw status; a headless device never shows a system dialog
func (d *Device) Request(ctx context.Context) (string, error) {
	return d.Check(ctx)
}

// SetPermission changes the raw status reported by Check and Request
func (d *Device) SetPermission(raw string) {
	d.mu.Lock()
	d.permission = raw
	d.mu.Unlock()
}

// OpenSettings records that the settings screen was requested
func (d *Device) OpenSettings(ctx context.Context) error {
	d.mu.Lock()
	d.settingsOpened++
	d.mu.Unlock()

	d.logger.Info().Msg("Open location settings requested")
	return nil
}

// PromptOpenSettings answers with the configured choice
func (d *Device) PromptOpenSettings(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts++
	return d.acceptSettings, nil
}

// PromptLowAccuracy answers with the configured choice
func (d *Device) PromptLowAccuracy(ctx context.Context, accuracy float64) (bool, error) {
	d.mu.Lock()
	d.prompts++
	accept := d.acceptRetry
	d.mu.Unlock()

	d.logger.Info().
		Float64("accuracy", accuracy).
		Bool("accepted", accept).
		Msg("Low accuracy prompt raised")
	return accept, nil
}

// Stats reports how many prompts were raised and settings opened
func (d *Device) Stats() (prompts int, settingsOpened int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prompts, d.settingsOpened
}
