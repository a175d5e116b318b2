package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "cardauth/internal/errors"
	"cardauth/internal/middleware"
	"cardauth/internal/services"
	"cardauth/internal/userdata"
)

// DataHandler serves the user data document
type DataHandler struct {
	service      services.DataService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewDataHandler creates a DataHandler
func NewDataHandler(service services.DataService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *DataHandler {
	return &DataHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "data")),
	}
}

// Routes returns the /api/data router
func (h *DataHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/", h.Load)
	r.Put("/", h.Save)
	return r
}

// Load handles GET /api/data
func (h *DataHandler) Load(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.LoadData(r.Context())
	if err != nil {
		h.errorHandler.Render(w, r, storageProblem(r, err))
		return
	}
	render.JSON(w, r, doc)
}

// Save handles PUT /api/data
func (h *DataHandler) Save(w http.ResponseWriter, r *http.Request) {
	var doc userdata.Document
	if err := h.validator.Decode(r, &doc); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if err := h.service.SaveData(r.Context(), doc); err != nil {
		h.errorHandler.Render(w, r, storageProblem(r, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func storageProblem(r *http.Request, err error) *apierrors.ProblemDetails {
	return apierrors.NewProblemDetails(
		http.StatusInternalServerError,
		"/errors/storage",
		"User Data Unavailable",
		err.Error(),
		r.URL.Path,
	)
}
