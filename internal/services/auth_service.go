package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cardauth/internal/events"
	"cardauth/internal/infrastructure"
	"cardauth/internal/license"
	"cardauth/internal/session"
)

// Authenticator runs the card login protocol
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*license.VerificationResult, error)
}

// SessionMonitor spawns re-verification tasks
type SessionMonitor interface {
	Start(key string) (*session.Handle, bool)
	Restart(key string) *session.Handle
}

// AuthService exposes the session commands
type AuthService interface {
	Login(ctx context.Context, key string) (*LoginResult, error)
	StartSessionMonitor(ctx context.Context, key string) (bool, error)
	GetLoginStatus(ctx context.Context) session.State
	SetLoginStatus(ctx context.Context, loggedIn bool, userInfo map[string]any)
	Logout(ctx context.Context) error
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Success             bool   `json:"success"`
	ExpirationTimestamp int64  `json:"expiration_timestamp"`
	MonitorID           string `json:"-"`
}

type authService struct {
	authenticator Authenticator
	store         *session.Store
	monitor       SessionMonitor
	publisher     events.Publisher
	logger        *slog.Logger
	now           func() time.Time
}

// NewAuthService creates the session command service
func NewAuthService(authenticator Authenticator, store *session.Store, monitor SessionMonitor, publisher events.Publisher, logger *slog.Logger) AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &authService{
		authenticator: authenticator,
		store:         store,
		monitor:       monitor,
		publisher:     publisher,
		logger:        logger.With(slog.String("service", "auth")),
		now:           time.Now,
	}
}

// Login authenticates key, records the session and starts its monitor.
// A monitor left over from an earlier login is replaced.
func (s *authService) Login(ctx context.Context, key string) (*LoginResult, error) {
	start := s.now()
	traceID := infrastructure.GetTraceID(ctx)

	s.logger.InfoContext(ctx, "login started",
		slog.String("trace_id", traceID),
		slog.String("operation", "login"))

	result, err := s.authenticator.Authenticate(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "login failed",
			slog.String("trace_id", traceID),
			slog.String("operation", "login"),
			slog.String("reason", license.KindOf(err).String()),
			slog.String("error", err.Error()),
			slog.Duration("latency", time.Since(start)))
		return nil, fmt.Errorf("login failed: %w", err)
	}

	s.store.SetAuthenticated(session.AuthenticatedUserInfo(key, result.ExpiresAt, s.now()))
	handle := s.monitor.Restart(key)

	s.logger.InfoContext(ctx, "login succeeded",
		slog.String("trace_id", traceID),
		slog.String("operation", "login"),
		slog.Int64("expiration_timestamp", result.ExpiresAt),
		slog.String("monitor_id", handle.ID()),
		slog.Duration("latency", time.Since(start)))
	s.publisher.Publish(events.TopicLoggedIn, map[string]any{
		"expiration_timestamp": result.ExpiresAt,
		"monitor_id":           handle.ID(),
	})

	return &LoginResult{
		Success:             true,
		ExpirationTimestamp: result.ExpiresAt,
		MonitorID:           handle.ID(),
	}, nil
}

// StartSessionMonitor starts monitoring key unless a monitor is already
// attached. It reports whether a new monitor was started.
func (s *authService) StartSessionMonitor(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("start session monitor: %w", license.ErrEmptyCredential)
	}

	handle, started := s.monitor.Start(key)
	attrs := []any{
		slog.String("operation", "start_session_monitor"),
		slog.Bool("started", started),
	}
	if handle != nil {
		attrs = append(attrs, slog.String("monitor_id", handle.ID()))
	}
	s.logger.InfoContext(ctx, "session monitor requested", attrs...)
	return started, nil
}

// GetLoginStatus returns a snapshot of the session
func (s *authService) GetLoginStatus(ctx context.Context) session.State {
	return s.store.Snapshot()
}

// SetLoginStatus overwrites the session flag and user info. A running
// monitor notices a false flag on its next tick and stops.
func (s *authService) SetLoginStatus(ctx context.Context, loggedIn bool, userInfo map[string]any) {
	s.store.SetStatus(loggedIn, userInfo)

	s.logger.InfoContext(ctx, "login status set",
		slog.String("operation", "set_login_status"),
		slog.Bool("is_logged_in", loggedIn),
		slog.Int("user_info_fields", len(userInfo)))
	if !loggedIn {
		s.publisher.Publish(events.TopicLoggedOut, map[string]any{"reason": "status"})
	}
}

// Logout stops the monitor and clears the session
func (s *authService) Logout(ctx context.Context) error {
	wasLoggedIn := s.store.Logout()

	s.logger.InfoContext(ctx, "logout",
		slog.String("operation", "logout"),
		slog.Bool("was_logged_in", wasLoggedIn))
	s.publisher.Publish(events.TopicLoggedOut, map[string]any{"reason": "logout"})
	return nil
}
