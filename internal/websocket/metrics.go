package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records event stream activity. A nil *Metrics records nothing.
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesSent       metric.Int64Counter
	droppedMessages    metric.Int64Counter
}

// NewMetrics creates the websocket instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesSent, err := meter.Int64Counter(
		"websocket_messages_sent_total",
		metric.WithDescription("Session events delivered to WebSocket clients"),
	)
	if err != nil {
		return nil, err
	}

	droppedMessages, err := meter.Int64Counter(
		"websocket_messages_dropped_total",
		metric.WithDescription("Session events dropped because a queue was full"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesSent:       messagesSent,
		droppedMessages:    droppedMessages,
	}, nil
}

func (m *Metrics) recordConnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *Metrics) recordDisconnect(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

func (m *Metrics) recordSent(ctx context.Context, eventType string, clients int) {
	if m == nil || clients == 0 {
		return
	}
	m.messagesSent.Add(ctx, int64(clients), metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) recordDropped(ctx context.Context, where string) {
	if m == nil {
		return
	}
	m.droppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", where)))
}
