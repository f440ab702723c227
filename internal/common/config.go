package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/waypoint/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Maps        MapsAPIConfig   `toml:"maps"`
	Search      SearchConfig    `toml:"search"`
	Location    LocationConfig  `toml:"location"`
	Device      DeviceConfig    `toml:"device"` // Static device collaborators used by the headless harness
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Type       string       `toml:"type" validate:"oneof=badger redis"` // "badger" (embedded) or "redis"
	SessionKey string       `toml:"session_key" validate:"required"`    // Namespaced key holding the persisted session
	Badger     BadgerConfig `toml:"badger"`
	Redis      RedisConfig  `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory"`        // Nothing touches disk; the session is lost on exit
}

// RedisConfig represents the remote key/value backend
type RedisConfig struct {
	URL       string `toml:"url"`        // e.g. redis://localhost:6379/0
	KeyPrefix string `toml:"key_prefix"` // Prepended to every key
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Output     []string `toml:"output"` // "stdout", "file"
	TimeFormat string   `toml:"time_format"`
	Dir        string   `toml:"dir"` // File output directory; empty means ./logs beside the binary
}

// MapsAPIConfig contains Google Maps Geocoding / Places API configuration
type MapsAPIConfig struct {
	APIKey            string        `toml:"api_key"`
	BaseURL           string        `toml:"base_url" validate:"required,url"`
	RequestsPerSecond int           `toml:"requests_per_second" validate:"gte=0"` // 0 disables client-side limiting
	RequestTimeout    time.Duration `toml:"request_timeout"`                      // 0 = no timeout, requests end on cancellation only
}

// SearchConfig contains place search tuning. Both values are fixed product constants.
type SearchConfig struct {
	Debounce     time.Duration `toml:"debounce" validate:"gt=0"`
	RadiusMeters int           `toml:"radius_meters" validate:"gt=0"`
}

// LocationConfig contains fix quality thresholds (meters)
type LocationConfig struct {
	HighAccuracyMax         float64 `toml:"high_accuracy_max" validate:"gt=0"`
	MedAccuracyMax          float64 `toml:"med_accuracy_max" validate:"gtfield=HighAccuracyMax"`
	LowAccuracyPrompt       float64 `toml:"low_accuracy_prompt" validate:"gt=0"` // Accuracy at or above this raises the retry prompt
	SeedSelectedFromCurrent bool    `toml:"seed_selected_from_current"`
}

// DeviceConfig describes the static device the harness pretends to be
type DeviceConfig struct {
	Latitude             float64 `toml:"latitude" validate:"gte=-90,lte=90"`
	Longitude            float64 `toml:"longitude" validate:"gte=-180,lte=180"`
	Accuracy             float64 `toml:"accuracy" validate:"gte=0"`
	Permission           string  `toml:"permission"`             // Raw platform status returned by the permission API
	AcceptRetryPrompts   bool    `toml:"accept_retry_prompts"`   // Auto-answer for the low accuracy prompt
	AcceptSettingsPrompt bool    `toml:"accept_settings_prompt"` // Auto-answer for the open settings prompt
}

// WebSocketConfig contains configuration for the state feed
type WebSocketConfig struct {
	// Minimum interval between two broadcasts of the same event type, e.g. "100ms". Empty disables throttling.
	ThrottleInterval string `toml:"throttle_interval"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8086,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type:       "badger",
			SessionKey: "waypoint:session",
			Badger: BadgerConfig{
				Path: "./data/waypoint",
			},
			Redis: RedisConfig{
				URL:       "redis://localhost:6379/0",
				KeyPrefix: "",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		Maps: MapsAPIConfig{
			APIKey:            "", // User must provide API key in config file or env
			BaseURL:           "https://maps.googleapis.com/maps/api",
			RequestsPerSecond: 10,
			RequestTimeout:    0,
		},
		Search: SearchConfig{
			Debounce:     800 * time.Millisecond,
			RadiusMeters: 20000,
		},
		Location: LocationConfig{
			HighAccuracyMax:         20,
			MedAccuracyMax:          100,
			LowAccuracyPrompt:       100,
			SeedSelectedFromCurrent: true,
		},
		Device: DeviceConfig{
			Latitude:             -6.200000,
			Longitude:            106.816666,
			Accuracy:             15,
			Permission:           "granted",
			AcceptRetryPrompts:   false,
			AcceptSettingsPrompt: false,
		},
		WebSocket: WebSocketConfig{
			ThrottleInterval: "100ms",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> .env -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// .env only fills variables that are not already set in the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// envPrefix namespaces every environment override
const envPrefix = "WAYPOINT_"

// applyEnvOverrides lets WAYPOINT_* variables win over the config files.
// Values that fail to parse are ignored and the file value stays.
func applyEnvOverrides(config *Config) {
	if env, ok := lookupEnv("ENV"); ok {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	envInt("SERVER_PORT", &config.Server.Port)
	envString("SERVER_HOST", &config.Server.Host)

	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("SESSION_KEY", &config.Storage.SessionKey)
	envString("BADGER_PATH", &config.Storage.Badger.Path)
	envBool("BADGER_IN_MEMORY", &config.Storage.Badger.InMemory)
	envString("REDIS_URL", &config.Storage.Redis.URL)

	envString("LOG_LEVEL", &config.Logging.Level)
	envList("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_DIR", &config.Logging.Dir)

	envString("MAPS_API_KEY", &config.Maps.APIKey)
	envString("MAPS_BASE_URL", &config.Maps.BaseURL)
	envInt("MAPS_REQUESTS_PER_SECOND", &config.Maps.RequestsPerSecond)
	envDuration("MAPS_REQUEST_TIMEOUT", &config.Maps.RequestTimeout)

	envDuration("SEARCH_DEBOUNCE", &config.Search.Debounce)
	envInt("SEARCH_RADIUS_METERS", &config.Search.RadiusMeters)

	envString("DEVICE_PERMISSION", &config.Device.Permission)
	envString("WEBSOCKET_THROTTLE_INTERVAL", &config.WebSocket.ThrottleInterval)
}

func lookupEnv(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + name))
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := lookupEnv(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookupEnv(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// envList reads a comma separated list, dropping blanks
func envList(name string, dst *[]string) {
	v, ok := lookupEnv(name)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) > 0 {
		*dst = items
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct tags on the whole configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ResolveAPIKey resolves the maps API key.
// Resolution order: WAYPOINT_MAPS_API_KEY → KV store → config fallback → error
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	if envValue, ok := lookupEnv("MAPS_API_KEY"); ok {
		return envValue, nil
	}

	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment, KV store, or config", name)
}
