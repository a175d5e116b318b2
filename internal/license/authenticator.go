package license

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cardauth/internal/security"
)

// Transport reaches the card authority
type Transport interface {
	ProbeConnectivity(ctx context.Context) bool
	VerifyKey(ctx context.Context, key, fingerprint string) ([]byte, error)
}

// Authenticator runs the card login protocol: fingerprint the machine,
// verify the key with the authority, check the card status and expiry.
type Authenticator struct {
	transport   Transport
	fingerprint security.FingerprintProvider
	evaluator   *Evaluator
	metrics     *Metrics
	logger      *slog.Logger
}

// AuthenticatorOption customizes an Authenticator
type AuthenticatorOption func(*Authenticator)

// WithClock sets the local clock used when the authority sends no time
func WithClock(now Clock) AuthenticatorOption {
	return func(a *Authenticator) {
		a.evaluator = NewEvaluator(now)
	}
}

// WithMetrics records verification metrics
func WithMetrics(metrics *Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithAuthLogger sets the authenticator logger
func WithAuthLogger(logger *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(transport Transport, fingerprint security.FingerprintProvider, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		transport:   transport,
		fingerprint: fingerprint,
		evaluator:   NewEvaluator(nil),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "license"))
	return a
}

// ProbeConnectivity reports whether the authority is reachable
func (a *Authenticator) ProbeConnectivity(ctx context.Context) bool {
	ok := a.transport.ProbeConnectivity(ctx)
	a.metrics.recordProbe(ctx, ok)
	return ok
}

// Authenticate verifies key against the authority. On success the result is
// granted and carries the expiry; every failure is an *AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*VerificationResult, error) {
	if key == "" {
		err := newError(KindEmptyCredential, MsgEmptyCredential, nil)
		a.metrics.recordVerification(ctx, 0, err)
		return nil, err
	}
	return a.traceVerification(ctx, key, func(ctx context.Context) (*VerificationResult, error) {
		return a.authenticate(ctx, key)
	})
}

func (a *Authenticator) authenticate(ctx context.Context, key string) (*VerificationResult, error) {
	a.logAction(ctx, slog.LevelInfo, "card_verification", "started",
		slog.String("key_masked", maskKey(key)),
		slog.String("key_hash", hashKey(key)))

	fp := a.fingerprint.Fingerprint(ctx)
	if fp == "" {
		err := newError(KindHardwareIDUnavailable, MsgHardwareIDUnavailable, nil)
		a.logFailure(ctx, "hardware_fingerprint", err)
		return nil, err
	}
	a.logAction(ctx, slog.LevelDebug, "hardware_fingerprint", "success", slog.String("hwid", fp))

	body, err := a.transport.VerifyKey(ctx, key, fp)
	if err != nil {
		a.logFailure(ctx, "card_verification", err)
		return nil, err
	}

	var resp VerifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		authErr := malformedError(err)
		a.logFailure(ctx, "card_verification", authErr, slog.Int("bytes", len(body)))
		return nil, authErr
	}

	if !resp.Success {
		var serverMessage string
		if resp.Error != nil {
			serverMessage = *resp.Error
		}
		authErr := rejectedError(serverMessage)
		a.logFailure(ctx, "card_verification", authErr)
		return nil, authErr
	}

	card := resp.Card
	if card == nil {
		authErr := newError(KindMissingCardInfo, MsgMissingCardInfo, nil)
		a.logFailure(ctx, "card_verification", authErr)
		return nil, authErr
	}

	if err := checkStatus(card.Status); err != nil {
		a.logFailure(ctx, "card_status", err, slog.String("status", card.Status))
		return nil, err
	}

	if card.ExpiredAt == nil {
		authErr := newError(KindMissingExpiry, MsgMissingExpiry, nil)
		a.logFailure(ctx, "card_expiry", authErr)
		return nil, authErr
	}
	expiredAt, err := time.Parse(time.RFC3339, *card.ExpiredAt)
	if err != nil {
		authErr := newError(KindExpiryUnparseable, MsgExpiryUnparseable, err)
		a.logFailure(ctx, "card_expiry", authErr, slog.String("expired_at", *card.ExpiredAt))
		return nil, authErr
	}

	expiresAt, err := a.evaluator.Evaluate(expiredAt.Unix(), resp.ServerTime)
	if err != nil {
		a.logFailure(ctx, "session_expiry", err,
			slog.Int64("expires_at", expiredAt.Unix()),
			slog.Bool("server_time", resp.ServerTime != nil))
		return nil, err
	}

	remaining := a.evaluator.Remaining(expiresAt, resp.ServerTime)
	a.metrics.recordRemaining(ctx, remaining)
	a.logSuccess(ctx, "card_verification",
		slog.String("expired_at", *card.ExpiredAt),
		slog.Int64("expires_at", expiresAt),
		slog.Duration("remaining", remaining),
		slog.Bool("server_time", resp.ServerTime != nil))

	return &VerificationResult{
		Granted:    true,
		ExpiresAt:  expiresAt,
		ServerTime: resp.ServerTime,
		CardID:     card.ID,
	}, nil
}

// checkStatus accepts only cards the authority reports as in use
func checkStatus(status string) error {
	switch status {
	case CardStatusUsed:
		return nil
	case CardStatusUnused:
		return newError(KindCardUnused, MsgCardUnused, nil)
	case CardStatusExpired:
		return newError(KindCardExpired, MsgCardExpired, nil)
	default:
		return newError(KindInvalidStatus, MsgInvalidStatus, nil)
	}
}
