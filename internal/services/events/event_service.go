package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
)

// ErrServiceClosed is returned when publishing or subscribing after Close
var ErrServiceClosed = errors.New("event service closed")

// Service is an in-process pub/sub bus keyed by event type
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	closed      bool
	logger      arbor.ILogger
}

func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return errors.New("event handler is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

func (s *Service) handlersFor(eventType interfaces.EventType) ([]interfaces.EventHandler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrServiceClosed
	}

	handlers := s.subscribers[eventType]
	out := make([]interfaces.EventHandler, len(handlers))
	copy(out, handlers)
	return out, nil
}

// Publish hands the event to each subscriber on its own goroutine and returns at once.
// Slot and search events fire on every keystroke and fix, so this logs at trace.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers, err := s.handlersFor(event.Type)
	if err != nil || len(handlers) == 0 {
		return err
	}

	s.logger.Trace().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event")

	for _, h := range handlers {
		common.SafeGo(s.logger, "event:"+string(event.Type), func() {
			s.deliver(ctx, h, event)
		})
	}
	return nil
}

// PublishSync delivers to every subscriber concurrently and joins their errors.
// A panicking handler is reported as an error instead of crashing the publisher.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers, err := s.handlersFor(event.Type)
	if err != nil || len(handlers) == 0 {
		return err
	}

	s.logger.Trace().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event synchronously")

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("handler panic: %v", r)
				}
			}()
			errs[i] = s.deliver(ctx, h, event)
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("event handlers failed: %w", err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, h interfaces.EventHandler, event interfaces.Event) error {
	err := h(ctx, event)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Event handler failed")
	}
	return err
}

// Close drops every subscriber; later calls fail with ErrServiceClosed
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.logger.Info().Msg("Event service closed")

	return nil
}
