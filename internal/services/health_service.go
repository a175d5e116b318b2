package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"cardauth/internal/session"
)

// Prober checks that the card authority is reachable
type Prober interface {
	ProbeConnectivity(ctx context.Context) bool
}

// ClientCounter reports connected event stream clients
type ClientCounter interface {
	ClientCount() int
}

// AppInfo identifies the application
type AppInfo struct {
	App     string `json:"app"`
	Version string `json:"version"`
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Runtime   map[string]any `json:"runtime,omitempty"`
	Services  map[string]any `json:"services,omitempty"`
}

// Health states
const (
	StatusHealthy  = "healthy"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// HealthService provides health checks and application info
type HealthService struct {
	info      AppInfo
	prober    Prober
	store     *session.Store
	clients   ClientCounter
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a HealthService. clients may be nil.
func NewHealthService(info AppInfo, prober Prober, store *session.Store, clients ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		info:      info,
		prober:    prober,
		store:     store,
		clients:   clients,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// AppInfo returns the application name and version
func (s *HealthService) AppInfo() AppInfo {
	return s.info
}

// HealthCheck reports process liveness and session state without network calls
func (s *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	snap := s.store.Snapshot()
	services := map[string]any{
		"session": map[string]any{
			"logged_in":  snap.IsLoggedIn,
			"monitoring": snap.MonitorID != "",
		},
	}
	if s.clients != nil {
		services["websocket"] = map[string]any{"clients": s.clients.ClientCount()}
	}

	return HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   s.info.Version,
		Runtime: map[string]any{
			"uptime_seconds": time.Since(s.startTime).Seconds(),
			"goroutines":     runtime.NumGoroutine(),
			"go_version":     runtime.Version(),
			"os":             runtime.GOOS,
			"arch":           runtime.GOARCH,
		},
		Services: services,
	}
}

// ReadinessCheck probes the card authority. The error is ErrBackendDown when
// the probe fails.
func (s *HealthService) ReadinessCheck(ctx context.Context) (HealthStatus, error) {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now().UTC(),
		Version:   s.info.Version,
	}
	reachable := s.prober.ProbeConnectivity(ctx)
	status.Services = map[string]any{"backend": map[string]any{"reachable": reachable}}
	if !reachable {
		status.Status = StatusNotReady
		s.logger.WarnContext(ctx, "readiness check failed", slog.String("reason", ErrBackendDown.Error()))
		return status, ErrBackendDown
	}
	return status, nil
}
