package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMetrics holds the shell API instruments
type HTTPMetrics struct {
	RequestsTotal   metric.Int64Counter
	RequestDuration metric.Float64Histogram
	ActiveRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the shell API instruments on meter
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requests, err := meter.Int64Counter("cardauth_http_requests_total",
		metric.WithDescription("Shell API requests by route and status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	duration, err := meter.Float64Histogram("cardauth_http_request_duration_seconds",
		metric.WithDescription("Shell API request latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	active, err := meter.Int64UpDownCounter("cardauth_http_active_requests",
		metric.WithDescription("Shell API requests in flight"))
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	return &HTTPMetrics{RequestsTotal: requests, RequestDuration: duration, ActiveRequests: active}, nil
}

// Telemetry wraps each request in a server span and records HTTP metrics
func Telemetry(tracer trace.Tracer, metrics *HTTPMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginalKey.String(r.UserAgent()),
				),
			)
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			metrics.ActiveRequests.Add(ctx, 1)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			metrics.ActiveRequests.Add(ctx, -1)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			attrs := metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.Int("status_code", status),
			)
			metrics.RequestsTotal.Add(ctx, 1, attrs)
			metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)

			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(status),
			)
			if status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

// routePattern returns the matched chi pattern, falling back to the raw path
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
