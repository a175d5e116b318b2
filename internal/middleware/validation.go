package middleware

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "cardauth/internal/errors"
)

// DefaultMaxBodySize caps decoded request bodies
const DefaultMaxBodySize = 1 << 20

// Validator decodes JSON request bodies and validates them with struct tags
type Validator struct {
	validator   *validator.Validate
	logger      *slog.Logger
	maxBodySize int64
}

// NewValidator creates a Validator that reports fields by their JSON names
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{
		validator:   v,
		logger:      logger.With(slog.String("component", "validation")),
		maxBodySize: DefaultMaxBodySize,
	}
}

// DecodeAndValidate decodes the JSON body of r into dst and validates it.
// Failures are returned as *apierrors.ProblemDetails.
func (v *Validator) DecodeAndValidate(r *http.Request, dst interface{}) error {
	if err := v.Decode(r, dst); err != nil {
		return err
	}
	return v.ValidateStruct(r, dst)
}

// Decode decodes the JSON body of r into dst within the body size limit
func (v *Validator) Decode(r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, v.maxBodySize)
	if err := render.DecodeJSON(body, dst); err != nil {
		v.logger.DebugContext(r.Context(), "request body rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apierrors.NewProblemDetails(
				http.StatusRequestEntityTooLarge,
				apierrors.TypeValidation,
				"Payload Too Large",
				fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit),
				r.URL.Path,
			)
		}
		detail := "Request body contains invalid JSON"
		if errors.Is(err, io.EOF) {
			detail = "Request body is empty"
		}
		return apierrors.NewProblemDetails(
			http.StatusBadRequest,
			apierrors.TypeValidation,
			"Invalid Request",
			detail,
			r.URL.Path,
		)
	}
	return nil
}

// ValidateStruct validates s and converts failures to a validation problem
func (v *Validator) ValidateStruct(r *http.Request, s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationProblem(r.URL.Path, fields)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, err.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// ContentTypeJSON rejects bodies that are not declared as JSON
func ContentTypeJSON(handler *apierrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodDelete ||
				r.Method == http.MethodOptions || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				handler.Render(w, r, apierrors.NewProblemDetails(
					http.StatusUnsupportedMediaType,
					apierrors.TypeValidation,
					"Unsupported Media Type",
					"Content-Type must be application/json",
					r.URL.Path,
				))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
