package websocket

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
)

// Handler upgrades GET /api/events requests and attaches them to a hub
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler. Requests with an Origin header must match
// one of allowedOrigins unless it contains "*".
func NewHandler(hub *Hub, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = hub.logger
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: logger.With(slog.String("handler", "websocket")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("origin", r.Header.Get("Origin")))
		return
	}

	client := NewClient(h.hub, WrapConnection(conn), h.logger)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}
