// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 5:18:33 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/handlers"
	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
	"github.com/ternarybob/waypoint/internal/platform"
	"github.com/ternarybob/waypoint/internal/services/events"
	"github.com/ternarybob/waypoint/internal/services/geocode"
	"github.com/ternarybob/waypoint/internal/services/location"
	"github.com/ternarybob/waypoint/internal/services/permission"
	"github.com/ternarybob/waypoint/internal/services/places"
	"github.com/ternarybob/waypoint/internal/services/reconciler"
	"github.com/ternarybob/waypoint/internal/services/search"
	"github.com/ternarybob/waypoint/internal/services/session"
	"github.com/ternarybob/waypoint/internal/storage"
)

// mapsKeyName is the KV entry consulted for the maps API key
const mapsKeyName = "google_maps_api_key"

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc
	warmup    errgroup.Group

	// Persistence
	KVStorage    interfaces.KeyValueStorage
	SessionStore interfaces.SessionStore

	// Event-driven services
	EventService interfaces.EventService

	// Location pipeline
	MapsClient     *places.Client
	Resolver       *geocode.Resolver
	Reconciler     *reconciler.Reconciler
	RootScope      *reconciler.Scope
	Device         *platform.Device
	PermissionGate *permission.Gate
	Acquirer       *location.Acquirer
	SearchFactory  *search.Factory

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	LocationHandler *handlers.LocationHandler
	DeviceHandler   *handlers.DeviceHandler
	StateFeed       *handlers.StateFeedHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initStorage(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to subscribe event logger")
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	app.StateFeed.Start(app.ctx)
	app.startWarmup()

	logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("permission", string(app.Reconciler.Permission())).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initStorage() error {
	kv, err := storage.NewKeyValueStorage(a.ctx, a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.KVStorage = kv

	// Config strings may reference KV entries as {key-name}
	if err := common.ApplyKVReferences(a.ctx, a.Config, kv, a.Logger); err != nil {
		return fmt.Errorf("failed to resolve config key references: %w", err)
	}

	a.SessionStore = session.NewService(kv, a.Config.Storage.SessionKey, a.Logger)

	a.Logger.Debug().
		Str("type", a.Config.Storage.Type).
		Str("session_key", a.Config.Storage.SessionKey).
		Msg("Storage initialized")
	return nil
}

func (a *App) initServices() error {
	apiKey, err := common.ResolveAPIKey(a.ctx, a.KVStorage, mapsKeyName, a.Config.Maps.APIKey)
	if err != nil {
		// Requests still go out; the maps API answers REQUEST_DENIED and slots show the error
		a.Logger.Warn().Err(err).Msg("Maps API key not configured")
	}

	opts := []places.ClientOption{
		places.WithBaseURL(a.Config.Maps.BaseURL),
		places.WithRateLimit(a.Config.Maps.RequestsPerSecond),
		places.WithRadius(a.Config.Search.RadiusMeters),
	}
	if a.Config.Maps.RequestTimeout > 0 {
		a.MapsClient = places.NewClientWithTimeout(apiKey, a.Config.Maps.RequestTimeout, a.Logger, opts...)
	} else {
		a.MapsClient = places.NewClient(apiKey, a.Logger, opts...)
	}

	a.Resolver = geocode.NewResolver(a.MapsClient, a.Logger)
	a.Reconciler = reconciler.New(
		a.Resolver,
		a.SessionStore,
		a.EventService,
		reconciler.Options{SeedSelectedFromCurrent: a.Config.Location.SeedSelectedFromCurrent},
		a.Logger,
	)
	if err := a.Reconciler.Restore(a.ctx); err != nil {
		// A corrupt session is not fatal; start clean
		a.Logger.Warn().Err(err).Msg("Discarding persisted session")
		if err := a.SessionStore.Clear(a.ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to clear persisted session")
		}
	}

	// The root scope outlives every screen and receives device fixes
	a.RootScope = a.Reconciler.NewScope(a.ctx)

	a.Device = platform.NewDevice(a.Config.Device, a.Logger)
	a.PermissionGate = permission.NewGate(a.Device, a.Device, a.Reconciler, a.EventService, a.Logger)
	a.Acquirer = location.NewAcquirer(
		a.PermissionGate,
		a.Device,
		a.Device,
		a.Reconciler.FixSink(a.RootScope),
		a.EventService,
		location.ThresholdsFromConfig(a.Config.Location),
		a.Logger,
	)

	a.SearchFactory = search.NewFactory(a.MapsClient, a.Reconciler, a.EventService, a.Config.Search, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.LocationHandler = handlers.NewLocationHandler(
		a.ctx,
		a.Reconciler,
		a.SearchFactory,
		a.Acquirer,
		a.PermissionGate,
		a.Logger,
	)
	a.DeviceHandler = handlers.NewDeviceHandler(a.Device, a.Logger)
	a.StateFeed = handlers.NewStateFeedHandler(a.EventService, a.LocationHandler, a.Logger, &a.Config.WebSocket)
}

// startWarmup resolves restored coordinates and takes the first device fix
func (a *App) startWarmup() {
	a.warmup.Go(func() error {
		if err := a.Reconciler.ResolveAll(a.RootScope); err != nil && !models.IsCancelled(err) {
			a.Logger.Warn().Err(err).Msg("Restored slots did not resolve")
		}
		return nil
	})

	a.warmup.Go(func() error {
		fix, err := a.Acquirer.Acquire(a.ctx)
		if err != nil {
			if !models.IsCancelled(err) {
				a.Logger.Warn().Err(err).Msg("Initial location acquisition failed")
			}
			return nil
		}
		a.Logger.Info().
			Float64("accuracy", fix.Accuracy).
			Str("level", string(a.Acquirer.AccuracyLevel())).
			Msg("Initial location acquired")
		return nil
	})
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background work")
		a.cancelCtx()
	}
	a.warmup.Wait()

	if a.StateFeed != nil {
		a.StateFeed.Close()
	}
	if a.LocationHandler != nil {
		a.LocationHandler.CloseAll()
	}

	// Waits for in-flight resolves to settle their final state
	if a.Reconciler != nil {
		a.Reconciler.Close()
	}
	if a.Resolver != nil {
		a.Resolver.CancelAll()
	}

	var errs []error

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.KVStorage != nil {
		if err := a.KVStorage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		} else {
			a.Logger.Info().Msg("Storage closed")
		}
	}

	return errors.Join(errs...)
}
