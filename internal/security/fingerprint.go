package security

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// Fingerprint sources
const (
	SourceAuto    = "auto"
	SourceMonitor = "monitor"
	SourceHost    = "host"
	SourceNone    = "none"
)

// MonitorQuery selects the instance id of the first attached display
const MonitorQuery = "Get-PnpDevice -Class Monitor | Select-Object -First 1 -ExpandProperty InstanceId"

// FingerprintProvider yields a stable identifier for the current machine.
// An empty string means no identifier could be derived; it is never an error.
type FingerprintProvider interface {
	Fingerprint(ctx context.Context) string
}

// CommandRunner executes a program and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec. A non-zero exit status is an error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	configureCommand(cmd)
	return cmd.Output()
}

// HashIdentifier returns the lowercase hex MD5 of the trimmed raw identifier,
// or "" when nothing is left after trimming.
func HashIdentifier(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MonitorFingerprint derives the identifier from the primary display's PnP
// instance id, read through PowerShell.
type MonitorFingerprint struct {
	run    CommandRunner
	logger *slog.Logger
}

// NewMonitorFingerprint creates a display-based provider. A nil runner uses ExecRunner.
func NewMonitorFingerprint(run CommandRunner, logger *slog.Logger) *MonitorFingerprint {
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorFingerprint{run: run, logger: logger}
}

// Fingerprint implements FingerprintProvider
func (m *MonitorFingerprint) Fingerprint(ctx context.Context) string {
	out, err := m.run(ctx, "powershell", "-NoProfile", "-Command", MonitorQuery)
	if err != nil {
		m.logger.WarnContext(ctx, "display instance id query failed",
			slog.String("error", err.Error()))
		return ""
	}

	fp := HashIdentifier(string(out))
	if fp == "" {
		m.logger.WarnContext(ctx, "display instance id query returned nothing")
	}
	return fp
}

// HostIDFunc returns the operating system's host identifier
type HostIDFunc func(ctx context.Context) (string, error)

// HostFingerprint derives the identifier from the OS host id
// (machine-id on Linux, IOPlatformUUID on macOS).
type HostFingerprint struct {
	hostID HostIDFunc
	logger *slog.Logger
}

// NewHostFingerprint creates a host-id provider. A nil lookup uses gopsutil.
func NewHostFingerprint(hostID HostIDFunc, logger *slog.Logger) *HostFingerprint {
	if hostID == nil {
		hostID = host.HostIDWithContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HostFingerprint{hostID: hostID, logger: logger}
}

// Fingerprint implements FingerprintProvider
func (h *HostFingerprint) Fingerprint(ctx context.Context) string {
	id, err := h.hostID(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "host id lookup failed", slog.String("error", err.Error()))
		return ""
	}
	return HashIdentifier(id)
}

// StaticFingerprint always returns the same identifier
type StaticFingerprint string

// Fingerprint implements FingerprintProvider
func (s StaticFingerprint) Fingerprint(context.Context) string {
	return string(s)
}

// NoopFingerprint never yields an identifier
type NoopFingerprint struct{}

// Fingerprint implements FingerprintProvider
func (NoopFingerprint) Fingerprint(context.Context) string {
	return ""
}

// NewPlatformFingerprint picks a provider for source on the running OS.
// SourceAuto uses the display id on Windows and the host id on Linux and macOS.
func NewPlatformFingerprint(source string, logger *slog.Logger) FingerprintProvider {
	return newFingerprintFor(runtime.GOOS, source, logger)
}

func newFingerprintFor(goos, source string, logger *slog.Logger) FingerprintProvider {
	switch source {
	case SourceMonitor:
		return NewMonitorFingerprint(nil, logger)
	case SourceHost:
		return NewHostFingerprint(nil, logger)
	case SourceNone:
		return NoopFingerprint{}
	}

	switch goos {
	case "windows":
		return NewMonitorFingerprint(nil, logger)
	case "linux", "darwin":
		return NewHostFingerprint(nil, logger)
	default:
		if logger != nil {
			logger.Warn("no fingerprint source for platform", slog.String("os", goos))
		}
		return NoopFingerprint{}
	}
}

// FingerprintManager caches the last non-empty fingerprint of a provider
type FingerprintManager struct {
	provider      FingerprintProvider
	cacheDuration time.Duration
	now           func() time.Time

	mu          sync.Mutex
	cached      string
	cacheExpiry time.Time
}

// NewFingerprintManager wraps provider with a cache of the given lifetime
func NewFingerprintManager(provider FingerprintProvider, cacheDuration time.Duration) *FingerprintManager {
	return &FingerprintManager{
		provider:      provider,
		cacheDuration: cacheDuration,
		now:           time.Now,
	}
}

// Fingerprint implements FingerprintProvider. Empty results are not cached.
func (fm *FingerprintManager) Fingerprint(ctx context.Context) string {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.cached != "" && fm.now().Before(fm.cacheExpiry) {
		return fm.cached
	}

	fp := fm.provider.Fingerprint(ctx)
	if fp != "" {
		fm.cached = fp
		fm.cacheExpiry = fm.now().Add(fm.cacheDuration)
	}
	return fp
}
