package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"cardauth/internal/services"
)

// HealthHandler handles health and app info requests
type HealthHandler struct {
	service *services.HealthService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.HealthCheck(r.Context()))
}

// ReadinessCheck handles GET /readyz
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.ReadinessCheck(r.Context())
	if err != nil {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}

// AppInfo handles GET /api/app-info
func (h *HealthHandler) AppInfo(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.AppInfo())
}
