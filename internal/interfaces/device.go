package interfaces

import (
	"context"

	"github.com/ternarybob/waypoint/internal/models"
)

// PositionProvider is the platform's one-shot location API.
// It fails asynchronously on timeout or denial and owns its own timeout.
type PositionProvider interface {
	GetCurrentPosition(ctx context.Context) (models.Position, error)
}

// PermissionProvider is the platform permission API. Statuses are raw platform
// strings such as "granted", "denied", "blocked" or "never_ask_again".
type PermissionProvider interface {
	Check(ctx context.Context) (string, error)
	Request(ctx context.Context) (string, error)
	OpenSettings(ctx context.Context) error
}

// Prompter raises user-facing dialogs on behalf of the pipeline
type Prompter interface {
	// PromptOpenSettings asks the user to enable location in system settings.
	// Returns true when the user chose to open settings.
	PromptOpenSettings(ctx context.Context) (bool, error)

	// PromptLowAccuracy offers a manual retry after a coarse fix.
	// Returns true when the user wants to retry.
	PromptLowAccuracy(ctx context.Context, accuracy float64) (bool, error)
}

// FixSink receives fresh device fixes
type FixSink interface {
	SetCurrentFix(ctx context.Context, fix models.Position)
}

// NearProvider supplies the coordinate used to bias text searches
type NearProvider interface {
	Current() (models.Coordinate, bool)
}

// PermissionSink records the normalized permission state in process-wide state
type PermissionSink interface {
	SetPermission(ctx context.Context, state models.PermissionState)
}

// PermissionGate requests and tracks the location permission
type PermissionGate interface {
	RequestPermission(ctx context.Context) (models.PermissionState, error)
	State() models.PermissionState
}
