package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
)

// AllEventTypes lists every event the pipeline publishes
var AllEventTypes = []interfaces.EventType{
	interfaces.EventSlotChanged,
	interfaces.EventSearchChanged,
	interfaces.EventPermissionChanged,
	interfaces.EventAccuracyChanged,
}

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case models.SlotSnapshot:
			logEvent = logEvent.
				Str("slot", string(payload.Slot)).
				Str("status", string(payload.Status)).
				Int("candidates", len(payload.Candidates))
			if payload.Names.CityName != "" {
				logEvent = logEvent.Str("city", payload.Names.CityName)
			}
			if payload.Error != "" {
				logEvent = logEvent.Str("error", payload.Error)
			}
		case models.SearchSnapshot:
			logEvent = logEvent.
				Str("query", payload.Query).
				Int("results", len(payload.Results)).
				Bool("exhausted", payload.Exhausted).
				Bool("searching", payload.Searching)
		case models.PermissionState:
			logEvent = logEvent.Str("permission", string(payload))
		case models.AccuracyLevel:
			logEvent = logEvent.Str("accuracy", string(payload))
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range AllEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(AllEventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
