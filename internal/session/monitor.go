package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cardauth/internal/events"
	"cardauth/internal/infrastructure"
	"cardauth/internal/license"
)

// DefaultInterval is the time between re-verifications
const DefaultInterval = 10 * time.Second

// MonitorState is the lifecycle state of one monitor task
type MonitorState int32

// Monitor states
const (
	StateIdle MonitorState = iota
	StateRunning
	StateCancelled
	StateTerminated
)

func (s MonitorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("MonitorState(%d)", int32(s))
	}
}

// Stop reasons reported on session.monitor_stopped
const (
	StopCancelled = "cancelled"
	StopLoggedOut = "logged_out"
	StopShutdown  = "shutdown"
)

// Verifier re-checks a credential with the authority
type Verifier interface {
	Authenticate(ctx context.Context, key string) (*license.VerificationResult, error)
}

// Terminator ends the process after a failed re-verification
type Terminator interface {
	Terminate(reason error)
}

// ProcessTerminator logs the reason and exits with status 1
type ProcessTerminator struct {
	Logger *slog.Logger
	// Exit defaults to os.Exit.
	Exit func(code int)
}

// Terminate implements Terminator
func (p ProcessTerminator) Terminate(reason error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("session validation failed, exiting",
		slog.String("error", reason.Error()),
		slog.String("reason", license.KindOf(reason).String()))
	exit := p.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(1)
}

// Handle is the cancellation handle of one monitor task
type Handle struct {
	id        string
	stop      chan struct{}
	done      chan struct{}
	state     atomic.Int32
	startedAt time.Time
}

func newHandle(now time.Time) *Handle {
	return &Handle{
		id:        uuid.New().String(),
		stop:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		startedAt: now,
	}
}

// ID identifies the task
func (h *Handle) ID() string { return h.id }

// StartedAt is when the task was spawned
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// State returns the current state
func (h *Handle) State() MonitorState { return MonitorState(h.state.Load()) }

// Done is closed when the task has exited
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the task to stop. It never blocks and is safe to call repeatedly.
func (h *Handle) Cancel() {
	select {
	case h.stop <- struct{}{}:
	default:
	}
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithInterval sets the re-verification interval
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTerminator sets the failure action
func WithTerminator(t Terminator) MonitorOption {
	return func(m *Monitor) { m.terminator = t }
}

// WithPublisher sets the event publisher
func WithPublisher(p events.Publisher) MonitorOption {
	return func(m *Monitor) { m.publisher = p }
}

// WithBaseContext bounds every monitor task by ctx
func WithBaseContext(ctx context.Context) MonitorOption {
	return func(m *Monitor) { m.baseCtx = ctx }
}

// WithMonitorLogger sets the logger
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// Monitor spawns background tasks that periodically re-verify the logged-in
// credential. At most one task is attached to the store at a time.
type Monitor struct {
	store      *Store
	verifier   Verifier
	terminator Terminator
	publisher  events.Publisher
	interval   time.Duration
	baseCtx    context.Context
	logger     *slog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// NewMonitor creates a Monitor bound to store
func NewMonitor(store *Store, verifier Verifier, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:     store,
		verifier:  verifier,
		publisher: events.NopPublisher{},
		interval:  DefaultInterval,
		baseCtx:   context.Background(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = infrastructure.WithComponent(m.logger, "session_monitor")
	if m.terminator == nil {
		m.terminator = ProcessTerminator{Logger: m.logger}
	}
	return m
}

// Interval returns the re-verification interval
func (m *Monitor) Interval() time.Duration { return m.interval }

// Start spawns a task for key unless one is already attached, in which case
// the attached handle is returned with started false.
func (m *Monitor) Start(key string) (*Handle, bool) {
	h := newHandle(m.now())
	if !m.store.AttachMonitor(h) {
		return m.store.Monitor(), false
	}
	m.launch(h, key)
	return h, true
}

// Restart spawns a task for key and cancels any task it displaces
func (m *Monitor) Restart(key string) *Handle {
	h := newHandle(m.now())
	if old := m.store.ReplaceMonitor(h); old != nil {
		old.Cancel()
		m.logger.Info("replacing session monitor",
			slog.String("previous_monitor", old.ID()),
			slog.String("monitor_id", h.ID()))
	}
	m.launch(h, key)
	return h
}

// Wait blocks until every spawned task has exited or ctx is done
func (m *Monitor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) launch(h *Handle, key string) {
	h.state.Store(int32(StateRunning))
	m.wg.Add(1)
	m.logger.Info("session monitor started",
		slog.String("monitor_id", h.ID()),
		slog.Duration("interval", m.interval))
	go m.run(h, key)
}

func (m *Monitor) run(h *Handle, key string) {
	defer m.wg.Done()
	defer close(h.done)
	defer m.store.Detach(h)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			m.stop(h, StopCancelled)
			return
		case <-m.baseCtx.Done():
			m.stop(h, StopShutdown)
			return
		case <-ticker.C:
			if reason, ok := m.interrupted(h); ok {
				m.stop(h, reason)
				return
			}
			if !m.store.IsLoggedIn() {
				m.stop(h, StopLoggedOut)
				return
			}
			if err := m.verify(h, key); err != nil {
				// Only a failure of the session still being watched is fatal.
				if reason, ok := m.interrupted(h); ok {
					m.stop(h, reason)
					return
				}
				if !m.store.IsLoggedIn() {
					m.stop(h, StopLoggedOut)
					return
				}
				m.terminate(h, err)
				return
			}
		}
	}
}

// interrupted reports the stop reason when h no longer owns a live session
// watch: the base context ended, h was cancelled, or another task replaced it.
func (m *Monitor) interrupted(h *Handle) (string, bool) {
	if m.baseCtx.Err() != nil {
		return StopShutdown, true
	}
	select {
	case <-h.stop:
		return StopCancelled, true
	default:
	}
	if m.store.Monitor() != h {
		if !m.store.IsLoggedIn() {
			return StopLoggedOut, true
		}
		return StopCancelled, true
	}
	return "", false
}

func (m *Monitor) verify(h *Handle, key string) error {
	ctx := infrastructure.WithTraceID(m.baseCtx, infrastructure.GenerateTraceID())
	start := m.now()

	result, err := m.verifier.Authenticate(ctx, key)
	if err != nil {
		return err
	}
	if result == nil || !result.Granted {
		return license.ErrRejected
	}

	verifiedAt := m.now()
	if !m.store.RecordVerification(h, result.ExpiresAt, verifiedAt) {
		return nil
	}
	m.logger.DebugContext(ctx, "session re-verified",
		slog.String("monitor_id", h.ID()),
		slog.Int64("expires_at", result.ExpiresAt),
		slog.Duration("duration", verifiedAt.Sub(start)))
	m.publisher.Publish(events.TopicVerified, map[string]any{
		"monitor_id":           h.ID(),
		"expiration_timestamp": result.ExpiresAt,
		"verified_at":          verifiedAt.Unix(),
	})
	return nil
}

func (m *Monitor) stop(h *Handle, reason string) {
	h.state.Store(int32(StateCancelled))
	m.logger.Info("session monitor stopped",
		slog.String("monitor_id", h.ID()),
		slog.String("reason", reason))
	m.publisher.Publish(events.TopicMonitorStopped, map[string]any{
		"monitor_id": h.ID(),
		"reason":     reason,
	})
}

func (m *Monitor) terminate(h *Handle, err error) {
	h.state.Store(int32(StateTerminated))
	kind := license.KindOf(err)
	m.logger.Error("session re-verification failed",
		slog.String("monitor_id", h.ID()),
		slog.String("reason", kind.String()),
		slog.String("error", err.Error()))
	m.publisher.Publish(events.TopicTerminated, map[string]any{
		"monitor_id": h.ID(),
		"reason":     kind.String(),
		"message":    err.Error(),
	})
	m.terminator.Terminate(err)
}
