package permission

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/singleflight"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

const requestKey = "location"

// Normalize maps a raw platform permission status onto PermissionState
func Normalize(raw string) models.PermissionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "granted", "limited", "authorized", "authorized_when_in_use", "authorized_always":
		return models.PermissionGranted
	case "blocked", "never_ask_again", "restricted":
		return models.PermissionBlocked
	case "denied", "unavailable":
		return models.PermissionDenied
	default:
		return models.PermissionUnknown
	}
}

// Gate implements interfaces.PermissionGate over the platform permission API.
// Concurrent RequestPermission calls share one platform round trip and at most
// one settings prompt.
type Gate struct {
	provider interfaces.PermissionProvider
	prompter interfaces.Prompter
	sink     interfaces.PermissionSink
	events   interfaces.EventService
	logger   arbor.ILogger

	group singleflight.Group
	mu    sync.RWMutex
	state models.PermissionState
}

// NewGate creates a gate. sink and events may be nil.
func NewGate(
	provider interfaces.PermissionProvider,
	prompter interfaces.Prompter,
	sink interfaces.PermissionSink,
	events interfaces.EventService,
	logger arbor.ILogger,
) *Gate {
	return &Gate{
		provider: provider,
		prompter: prompter,
		sink:     sink,
		events:   events,
		logger:   logger,
		state:    models.PermissionUnknown,
	}
}

var _ interfaces.PermissionGate = (*Gate)(nil)

// State returns the last normalized state
func (g *Gate) State() models.PermissionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Check reads the current status without prompting and records it
func (g *Gate) Check(ctx context.Context) (models.PermissionState, error) {
	raw, err := g.provider.Check(ctx)
	if err != nil {
		return g.State(), fmt.Errorf("permission check failed: %w", err)
	}
	state := Normalize(raw)
	g.record(ctx, raw, state)
	return state, nil
}

// RequestPermission is one explicit permission trigger.
// Granted short-circuits the platform request. Blocked never re-requests;
// it raises the open settings prompt once for this trigger instead.
func (g *Gate) RequestPermission(ctx context.Context) (models.PermissionState, error) {
	v, err, shared := g.group.Do(requestKey, func() (interface{}, error) {
		return g.request(ctx)
	})
	if shared {
		g.logger.Debug().Msg("Permission request joined in-flight request")
	}
	if err != nil {
		return g.State(), err
	}
	return v.(models.PermissionState), nil
}

func (g *Gate) request(ctx context.Context) (models.PermissionState, error) {
	raw, err := g.provider.Check(ctx)
	if err != nil {
		return g.State(), fmt.Errorf("permission check failed: %w", err)
	}
	state := Normalize(raw)

	if state != models.PermissionGranted && state != models.PermissionBlocked {
		raw, err = g.provider.Request(ctx)
		if err != nil {
			return g.State(), fmt.Errorf("permission request failed: %w", err)
		}
		state = Normalize(raw)
	}

	g.record(ctx, raw, state)

	if state == models.PermissionBlocked {
		g.promptSettings(ctx)
	}

	return state, nil
}

func (g *Gate) promptSettings(ctx context.Context) {
	open, err := g.prompter.PromptOpenSettings(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Open settings prompt failed")
		return
	}
	if !open {
		g.logger.Debug().Msg("User dismissed open settings prompt")
		return
	}
	if err := g.provider.OpenSettings(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to open system settings")
	}
}

// record stores state on every explicit check; it is never cleared implicitly
func (g *Gate) record(ctx context.Context, raw string, state models.PermissionState) {
	g.mu.Lock()
	previous := g.state
	g.state = state
	g.mu.Unlock()

	g.logger.Info().
		Str("raw_status", raw).
		Str("state", string(state)).
		Str("previous", string(previous)).
		Msg("Location permission checked")

	if g.sink != nil {
		g.sink.SetPermission(ctx, state)
	}
	if g.events != nil && previous != state {
		if err := g.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventPermissionChanged,
			Payload: state,
		}); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to publish permission change")
		}
	}
}
