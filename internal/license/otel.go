package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"cardauth/internal/infrastructure"
)

// TracerName names the tracer used for verification spans
const TracerName = "cardauth/license"

// Metrics holds the card verification instruments
type Metrics struct {
	VerificationAttempts metric.Int64Counter
	VerificationSuccess  metric.Int64Counter
	VerificationFailures metric.Int64Counter
	VerificationDuration metric.Float64Histogram
	ConnectivityProbes   metric.Int64Counter
	SessionRemaining     metric.Float64Histogram
}

// InitializeMetrics creates the verification instruments on meter
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.VerificationAttempts, err = meter.Int64Counter(
		"card_verification_attempts_total",
		metric.WithDescription("Total number of card verification attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification attempts counter: %w", err)
	}

	m.VerificationSuccess, err = meter.Int64Counter(
		"card_verification_success_total",
		metric.WithDescription("Total number of accepted card verifications"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification success counter: %w", err)
	}

	m.VerificationFailures, err = meter.Int64Counter(
		"card_verification_failures_total",
		metric.WithDescription("Total number of failed card verifications by failure kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification failures counter: %w", err)
	}

	m.VerificationDuration, err = meter.Float64Histogram(
		"card_verification_duration_seconds",
		metric.WithDescription("Card verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.ConnectivityProbes, err = meter.Int64Counter(
		"card_authority_probes_total",
		metric.WithDescription("Connectivity probes against the card authority by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectivity probe counter: %w", err)
	}

	m.SessionRemaining, err = meter.Float64Histogram(
		"card_session_remaining_seconds",
		metric.WithDescription("Session time left at each successful verification"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session remaining histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordVerification(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}

	labels := metric.WithAttributes(attribute.String("operation", "verification"))
	m.VerificationAttempts.Add(ctx, 1, labels)
	m.VerificationDuration.Record(ctx, duration.Seconds(), labels)

	if err == nil {
		m.VerificationSuccess.Add(ctx, 1, labels)
		return
	}
	m.VerificationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", "verification"),
		attribute.String("kind", KindOf(err).String()),
	))
}

func (m *Metrics) recordProbe(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ConnectivityProbes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordRemaining(ctx context.Context, remaining time.Duration) {
	if m == nil {
		return
	}
	m.SessionRemaining.Record(ctx, remaining.Seconds())
}

// traceVerification wraps one authentication in a span and records its metrics
func (a *Authenticator) traceVerification(ctx context.Context, key string, fn func(ctx context.Context) (*VerificationResult, error)) (*VerificationResult, error) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "card.verification",
		trace.WithAttributes(
			attribute.String("card.operation", "verification"),
			attribute.String("card.key_masked", maskKey(key)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	a.metrics.recordVerification(ctx, duration, err)

	span.SetAttributes(
		attribute.Float64("card.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("card.granted", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("card.failure_kind", KindOf(err).String()))
		return nil, err
	}

	span.SetStatus(codes.Ok, "card verified")
	infrastructure.AddSpanEvent(ctx, "card.verification.granted",
		attribute.String("card.key_hash", hashKey(key)),
		attribute.Int64("card.expires_at", result.ExpiresAt),
	)
	return result, nil
}
