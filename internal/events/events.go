// Package events carries session lifecycle notifications between the
// session monitor, the command layer and websocket clients.
package events

import (
	"log/slog"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// Session topics
const (
	TopicLoggedIn       = "session.logged_in"
	TopicVerified       = "session.verified"
	TopicLoggedOut      = "session.logged_out"
	TopicMonitorStopped = "session.monitor_stopped"
	TopicTerminated     = "session.terminated"
)

// Topics lists every topic published by the session layer
var Topics = []string{
	TopicLoggedIn,
	TopicVerified,
	TopicLoggedOut,
	TopicMonitorStopped,
	TopicTerminated,
}

// Event is the envelope delivered to subscribers
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher publishes session events
type Publisher interface {
	Publish(topic string, data map[string]any)
}

// Handler receives events for a topic
type Handler func(Event)

// Bus wraps an EventBus instance. Each Bus is independent; there is no
// process-wide singleton.
type Bus struct {
	bus    evbus.Bus
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	handlers map[string][]func(Event)
}

// NewBus creates a Bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		bus:      evbus.New(),
		logger:   logger.With(slog.String("component", "events")),
		now:      time.Now,
		handlers: make(map[string][]func(Event)),
	}
}

// Publish delivers an event to every subscriber of topic
func (b *Bus) Publish(topic string, data map[string]any) {
	event := Event{
		Type:      topic,
		Timestamp: b.now().UTC(),
		Data:      data,
	}
	b.logger.Debug("publishing event",
		slog.String("topic", topic),
		slog.Bool("has_subscribers", b.bus.HasCallback(topic)))
	b.bus.Publish(topic, event)
}

// Subscribe registers fn for topic. A panicking handler is logged and does
// not affect other subscribers.
func (b *Bus) Subscribe(topic string, fn Handler) error {
	wrapped := func(event Event) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					slog.String("topic", event.Type),
					slog.Any("panic", r))
			}
		}()
		fn(event)
	}
	if err := b.bus.Subscribe(topic, wrapped); err != nil {
		return err
	}
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], wrapped)
	b.mu.Unlock()
	return nil
}

// SubscribeAll registers fn for every session topic
func (b *Bus) SubscribeAll(fn Handler) error {
	for _, topic := range Topics {
		if err := b.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

// Close unsubscribes every handler registered through this Bus
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, handlers := range b.handlers {
		for _, h := range handlers {
			if err := b.bus.Unsubscribe(topic, h); err != nil {
				b.logger.Warn("unsubscribe failed", slog.String("topic", topic), slog.String("error", err.Error()))
			}
		}
	}
	b.handlers = make(map[string][]func(Event))
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(string, map[string]any) {}
