package search

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
)

// Factory opens one Session per consuming screen with shared collaborators
type Factory struct {
	client interfaces.MapsClient
	near   interfaces.NearProvider
	events interfaces.EventService
	config common.SearchConfig
	logger arbor.ILogger
}

// NewFactory creates a session factory
func NewFactory(
	client interfaces.MapsClient,
	near interfaces.NearProvider,
	events interfaces.EventService,
	config common.SearchConfig,
	logger arbor.ILogger,
) *Factory {
	return &Factory{
		client: client,
		near:   near,
		events: events,
		config: config,
		logger: logger,
	}
}

// Open starts a session bound to ctx; cancelling ctx closes it
func (f *Factory) Open(ctx context.Context, scopeID string) *Session {
	logger := f.logger
	if scopeID != "" {
		logger = f.logger.WithCorrelationId(scopeID)
	}

	logger.Debug().
		Dur("debounce", f.config.Debounce).
		Int("radius_meters", f.config.RadiusMeters).
		Msg("Opening place search session")

	return NewSession(ctx, f.client, f.near, f.events, f.config.Debounce, logger)
}
