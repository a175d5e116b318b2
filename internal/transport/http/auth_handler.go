package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "cardauth/internal/errors"
	"cardauth/internal/license"
	"cardauth/internal/middleware"
	"cardauth/internal/services"
)

// CredentialRequest carries the card key. An empty key is passed through so
// the login protocol reports it with its own message.
type CredentialRequest struct {
	Password string `json:"password" validate:"max=512"`
}

// StatusRequest overwrites the session state
type StatusRequest struct {
	IsLoggedIn *bool          `json:"is_logged_in" validate:"required"`
	UserInfo   map[string]any `json:"user_info"`
}

// MonitorResponse reports whether a monitor was started
type MonitorResponse struct {
	Started bool `json:"started"`
}

// AuthHandler handles the session commands
type AuthHandler struct {
	service      services.AuthService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler
func NewAuthHandler(service services.AuthService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "auth")),
	}
}

// Routes returns the /api/auth router. loginLimit, when set, wraps the login
// and monitor routes.
func (h *AuthHandler) Routes(loginLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Group(func(r chi.Router) {
		if loginLimit != nil {
			r.Use(loginLimit)
		}
		r.Post("/login", h.Login)
		r.Post("/monitor", h.StartMonitor)
	})
	r.Get("/status", h.GetStatus)
	r.Put("/status", h.SetStatus)
	r.Post("/logout", h.Logout)
	return r
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	result, err := h.service.Login(ctx, req.Password)
	if err != nil {
		span.SetAttributes(
			attribute.Bool("auth.granted", false),
			attribute.String("auth.reason", license.KindOf(err).String()))
		h.handleError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.Bool("auth.granted", true),
		attribute.Int64("auth.expires_at", result.ExpirationTimestamp))

	render.JSON(w, r, result)
}

// StartMonitor handles POST /api/auth/monitor
func (h *AuthHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	started, err := h.service.StartSessionMonitor(r.Context(), req.Password)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, MonitorResponse{Started: started})
}

// GetStatus handles GET /api/auth/status
func (h *AuthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.GetLoginStatus(r.Context()))
}

// SetStatus handles PUT /api/auth/status
func (h *AuthHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.service.SetLoginStatus(r.Context(), *req.IsLoggedIn, req.UserInfo)
	w.WriteHeader(http.StatusNoContent)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	problem, ok := authErrorProblem(err, r.URL.Path)
	if !ok {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.logger.WarnContext(r.Context(), "auth request failed",
		slog.String("path", r.URL.Path),
		slog.String("reason", license.KindOf(err).String()),
		slog.Int("status", problem.Status))
	h.errorHandler.Render(w, r, problem)
}
