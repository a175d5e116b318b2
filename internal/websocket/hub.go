package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"cardauth/internal/events"
	"cardauth/internal/infrastructure"
)

// TypeConnection is sent to a client once it is registered
const TypeConnection = "connection"

const broadcastBuffer = 64

// Hub maintains the set of active clients and fans session events out to them
type Hub struct {
	clients map[*Client]struct{}

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	done chan struct{}
}

type outbound struct {
	eventType string
	payload   []byte
}

// NewHub creates a Hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Run is the hub loop. It returns when ctx is done, after closing every
// client's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.recordConnect(ctx)
			h.logger.Info("client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))
			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				h.metrics.recordDisconnect(ctx, time.Since(client.connectedAt))
				h.logger.Info("client unregistered",
					slog.String("client_id", client.id),
					slog.Int("total_clients", count),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case msg := <-h.broadcast:
			h.fanOut(ctx, msg)
		}
	}
}

func (h *Hub) greet(client *Client) {
	payload, err := json.Marshal(events.Event{
		Type:      TypeConnection,
		Timestamp: h.now().UTC(),
		Data: map[string]any{
			"status":    "connected",
			"client_id": client.id,
		},
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("client buffer full, connection message dropped", slog.String("client_id", client.id))
	}
}

func (h *Hub) fanOut(ctx context.Context, msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for client := range h.clients {
		select {
		case client.send <- msg.payload:
			delivered++
		default:
			close(client.send)
			delete(h.clients, client)
			h.metrics.recordDropped(ctx, "client")
			h.logger.Warn("client send buffer full, disconnecting", slog.String("client_id", client.id))
		}
	}
	h.metrics.recordSent(ctx, msg.eventType, delivered)
	h.logger.Debug("event broadcast",
		slog.String("event_type", msg.eventType),
		slog.Int("clients", delivered))
}

// Broadcast queues event for every client. It never blocks; when the queue
// is full the event is dropped.
func (h *Hub) Broadcast(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("error marshaling event",
			slog.String("event_type", event.Type),
			slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- outbound{eventType: event.Type, payload: payload}:
	default:
		h.metrics.recordDropped(context.Background(), "hub")
		h.logger.Warn("broadcast queue full, event dropped", slog.String("event_type", event.Type))
	}
}

// Subscribe forwards every session event on bus to the hub's clients
func (h *Hub) Subscribe(bus *events.Bus) error {
	return bus.SubscribeAll(h.Broadcast)
}

// Register adds client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Done is closed when Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
