package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Waypoint", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Str("maps_base_url", config.Maps.BaseURL).
		Bool("maps_key_set", config.Maps.APIKey != "").
		Dur("search_debounce", config.Search.Debounce).
		Int("search_radius", config.Search.RadiusMeters).
		Msg("Configuration loaded")
}
