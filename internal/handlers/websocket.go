// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 4:02:17 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/waypoint/internal/common"
	"github.com/ternarybob/waypoint/internal/interfaces"
	"github.com/ternarybob/waypoint/internal/models"
	"github.com/ternarybob/waypoint/internal/services/events"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every frame on the feed
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StateView is everything a screen renders from
type StateView struct {
	Slots      []models.SlotSnapshot            `json:"slots"`
	Context    models.PointContext              `json:"context"`
	Permission models.PermissionState           `json:"permission"`
	Accuracy   models.AccuracyLevel             `json:"accuracy"`
	Searches   map[string]models.SearchSnapshot `json:"searches"`
}

// StateUpdate is sent after a batch of changes; Topics lists what moved
type StateUpdate struct {
	Topics    []string  `json:"topics"`
	State     StateView `json:"state"`
	Timestamp string    `json:"timestamp"`
}

// FeedSource supplies the current state when the feed flushes
type FeedSource interface {
	State() StateView
}

// StateFeedHandler pushes state to websocket observers. Events only mark
// topics dirty; the state sent is always read fresh from the source.
type StateFeedHandler struct {
	logger           arbor.ILogger
	source           FeedSource
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	aggregator       *events.ChangeAggregator // nil = broadcast on every event
	serverInstanceID string                   // Clients use it to detect a server restart

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStateFeedHandler(eventService interfaces.EventService, source FeedSource, logger arbor.ILogger, config *common.WebSocketConfig) *StateFeedHandler {
	h := &StateFeedHandler{
		logger:           logger,
		source:           source,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.ThrottleInterval != "" {
		if interval, err := time.ParseDuration(config.ThrottleInterval); err == nil {
			h.aggregator = events.NewChangeAggregator(interval, h.broadcastState, logger)
			logger.Debug().Str("interval", config.ThrottleInterval).Msg("State feed throttling enabled")
		} else {
			logger.Warn().
				Err(err).
				Str("interval", config.ThrottleInterval).
				Msg("Failed to parse throttle interval - throttling disabled")
		}
	}

	if eventService != nil {
		h.subscribe(eventService)
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("State feed initialized")
	return h
}

// Start runs the flush loop until ctx is done or Close is called
func (h *StateFeedHandler) Start(ctx context.Context) {
	if h.aggregator == nil || h.done != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		h.aggregator.Run(ctx)
	}()
}

// Close stops the flush loop and drops every client
func (h *StateFeedHandler) Close() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()
}

func (h *StateFeedHandler) subscribe(eventService interfaces.EventService) {
	handler := func(ctx context.Context, event interfaces.Event) error {
		topic := topicFor(event)
		if h.aggregator != nil {
			h.aggregator.Record(topic)
			return nil
		}
		h.broadcastState(ctx, []string{topic})
		return nil
	}

	for _, eventType := range events.AllEventTypes {
		if err := eventService.Subscribe(eventType, handler); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe state feed")
		}
	}
}

// topicFor maps an event to its feed topic: the slot name, "search",
// "permission" or "accuracy"
func topicFor(event interfaces.Event) string {
	if snap, ok := event.Payload.(models.SlotSnapshot); ok {
		return string(snap.Slot)
	}
	switch event.Type {
	case interfaces.EventSearchChanged:
		return "search"
	case interfaces.EventPermissionChanged:
		return "permission"
	case interfaces.EventAccuracyChanged:
		return "accuracy"
	}
	return string(event.Type)
}

// HandleWebSocket upgrades the connection, sends a hello and the current
// state, then keeps reading until the client goes away. A client frame of
// type "refresh" resends the state.
func (h *StateFeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.send(conn, mutex, WSMessage{
		Type:    "hello",
		Payload: map[string]string{"server_instance_id": h.serverInstanceID},
	})
	h.send(conn, mutex, h.stateMessage(nil))

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "refresh" {
			h.send(conn, mutex, h.stateMessage(nil))
		}
	}
}

// ClientCount returns the number of connected observers
func (h *StateFeedHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StateFeedHandler) stateMessage(topics []string) WSMessage {
	if topics == nil {
		topics = []string{}
	}
	return WSMessage{
		Type: "state",
		Payload: StateUpdate{
			Topics:    topics,
			State:     h.source.State(),
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
	}
}

// broadcastState sends fresh state to every client
func (h *StateFeedHandler) broadcastState(ctx context.Context, topics []string) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	h.mu.RUnlock()

	data, err := json.Marshal(h.stateMessage(topics))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal state message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if err := h.write(conn, mutexes[i], data); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send state to client")
		}
	}

	h.logger.Trace().Strs("topics", topics).Int("clients", len(clients)).Msg("State broadcast")
}

func (h *StateFeedHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal message")
		return
	}
	if err := h.write(conn, mutex, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message")
	}
}

func (h *StateFeedHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) error {
	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
