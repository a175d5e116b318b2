package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cardauth/internal/events"
	"cardauth/internal/license"
)

const testInterval = 5 * time.Millisecond

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Authenticate(ctx context.Context, key string) (*license.VerificationResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(*license.VerificationResult), args.Error(1)
}

type recordingTerminator struct {
	mu      sync.Mutex
	reasons []error
}

func (r *recordingTerminator) Terminate(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingTerminator) calls() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.reasons...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	data   []map[string]any
}

func (p *recordingPublisher) Publish(topic string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.data = append(p.data, data)
}

func (p *recordingPublisher) published(topic string) []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []map[string]any
	for i, t := range p.topics {
		if t == topic {
			out = append(out, p.data[i])
		}
	}
	return out
}

type monitorFixture struct {
	store      *Store
	verifier   *mockVerifier
	terminator *recordingTerminator
	publisher  *recordingPublisher
	monitor    *Monitor
}

func newMonitorFixture(t *testing.T, opts ...MonitorOption) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		store:      NewStore(),
		verifier:   &mockVerifier{},
		terminator: &recordingTerminator{},
		publisher:  &recordingPublisher{},
	}
	base := []MonitorOption{
		WithInterval(testInterval),
		WithTerminator(f.terminator),
		WithPublisher(f.publisher),
		WithMonitorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.monitor = NewMonitor(f.store, f.verifier, append(base, opts...)...)
	t.Cleanup(func() {
		f.store.Logout()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, f.monitor.Wait(ctx))
	})
	return f
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("monitor %s did not exit, state %s", h.ID(), h.State())
	}
}

func granted(expiresAt int64) *license.VerificationResult {
	return &license.VerificationResult{Granted: true, ExpiresAt: expiresAt}
}

func TestMonitor_StartIsIdempotent(t *testing.T) {
	f := newMonitorFixture(t)
	f.store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))
	f.verifier.On("Authenticate", mock.Anything, "VALID1").Return(granted(32503680000), nil).Maybe()

	first, started := f.monitor.Start("VALID1")
	require.True(t, started)
	second, started := f.monitor.Start("VALID1")

	assert.False(t, started)
	assert.Same(t, first, second)
	assert.Same(t, first, f.store.Monitor())
	assert.Equal(t, StateRunning, first.State())
}

func TestMonitor_ReverificationRefreshesExpiry(t *testing.T) {
	f := newMonitorFixture(t)
	f.store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 100, time.Now()))
	f.verifier.On("Authenticate", mock.Anything, "VALID1").Return(granted(32503680000), nil)

	_, started := f.monitor.Start("VALID1")
	require.True(t, started)

	assert.Eventually(t, func() bool {
		info := f.store.Snapshot().UserInfo
		_, verified := info[KeyLastVerified]
		return verified && info[KeyExpirationTimestamp] == int64(32503680000)
	}, 2*time.Second, testInterval)

	assert.Eventually(t, func() bool {
		return len(f.publisher.published(events.TopicVerified)) > 0
	}, 2*time.Second, testInterval)
	assert.Empty(t, f.terminator.calls())
}

func TestMonitor_LogoutCancels(t *testing.T) {
	f := newMonitorFixture(t)
	f.store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))
	f.verifier.On("Authenticate", mock.Anything, "VALID1").Return(granted(32503680000), nil).Maybe()

	h, _ := f.monitor.Start("VALID1")
	f.store.Logout()
	waitDone(t, h)

	assert.Equal(t, StateCancelled, h.State())
	assert.Nil(t, f.store.Monitor())
	assert.Empty(t, f.terminator.calls())
	require.NotEmpty(t, f.publisher.published(events.TopicMonitorStopped))
}

func TestMonitor_StopsWhenLoggedOutByStatus(t *testing.T) {
	f := newMonitorFixture(t)
	f.store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))
	f.verifier.On("Authenticate", mock.Anything, "VALID1").Return(granted(32503680000), nil).Maybe()

	h, _ := f.monitor.Start("VALID1")
	f.store.SetStatus(false, nil)
	waitDone(t, h)

	assert.Equal(t, StateCancelled, h.State())
	assert.Nil(t, f.store.Monitor(), "monitor detaches itself on exit")
	stopped := f.publisher.published(events.TopicMonitorStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, StopLoggedOut, stopped[0]["reason"])
	assert.Empty(t, f.terminator.calls())

	_, started := f.monitor.Start("VALID1")
	assert.True(t, started, "a new monitor can start once the old one detached")
}

func TestMonitor_FailureTerminates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind license.Kind
	}{
		{"card revoked", license.ErrCardExpired, license.KindCardExpired},
		{"session expired", license.ErrAlreadyExpired, license.KindAlreadyExpired},
		{"network failure", &license.AuthError{Kind: license.KindNetwork, Message: "网络请求失败: timeout"}, license.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMonitorFixture(t)
			f.store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))
			f.verifier.On("Authenticate", mock.Anything, "VALID1").Return((*license.VerificationResult)(nil), tt.err).Once()

			h, _ := f.monitor.Start("VALID1")
			waitDone(t, h)

			assert.Equal(t, StateTerminated, h.State())
			calls := f.terminator.calls()
			require.Len(t, calls, 1)
			assert.ErrorIs(t, calls[0], tt.err)

			terminated := f.publisher.published(events.TopicTerminated)
			require.Len(t, terminated, 1)
			assert.Equal(t, tt.kind.String(), terminated[0]["reason"])
			f.verifier.AssertExpectations(t)
		})
	}
}

func TestMonitor_ReplaceCancelsPrevious(t *testing.T) {
	f := newMonitorFixture(t)
	f.store.SetAuthenticated(AuthenticatedUserInfo("NEW", 32503680000, time.Now()))
	f.verifier.On("Authenticate", mock.Anything, mock.Anything).Return(granted(32503680000), nil).Maybe()

	old, _ := f.monitor.Start("OLD")
	replacement := f.monitor.Restart("NEW")
	waitDone(t, old)

	assert.Equal(t, StateCancelled, old.State())
	assert.Same(t, replacement, f.store.Monitor())
	assert.Equal(t, StateRunning, replacement.State())
}

func TestMonitor_BaseContextShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newMonitorFixture(t, WithBaseContext(ctx))
	f.store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))
	f.verifier.On("Authenticate", mock.Anything, "VALID1").Return(granted(32503680000), nil).Maybe()

	h, _ := f.monitor.Start("VALID1")
	cancel()
	waitDone(t, h)

	assert.Equal(t, StateCancelled, h.State())
	assert.True(t, f.store.IsLoggedIn(), "shutdown leaves the session untouched")
}

// gatedVerifier blocks verifications of one key until released or until the
// request context ends; every other key is granted immediately.
type gatedVerifier struct {
	key     string
	fail    error
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedVerifier(key string, fail error) *gatedVerifier {
	return &gatedVerifier{
		key:     key,
		fail:    fail,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedVerifier) Authenticate(ctx context.Context, key string) (*license.VerificationResult, error) {
	if key != g.key {
		return granted(32503680000), nil
	}
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil, g.fail
	case <-ctx.Done():
		return nil, &license.AuthError{Kind: license.KindNetwork, Message: "网络请求失败: " + ctx.Err().Error(), Cause: ctx.Err()}
	}
}

func (g *gatedVerifier) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("verification never started")
	}
}

func newGatedMonitor(t *testing.T, v *gatedVerifier, opts ...MonitorOption) (*Monitor, *Store, *recordingTerminator, *recordingPublisher) {
	t.Helper()
	store := NewStore()
	term := &recordingTerminator{}
	pub := &recordingPublisher{}
	base := []MonitorOption{
		WithInterval(testInterval),
		WithTerminator(term),
		WithPublisher(pub),
		WithMonitorLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	m := NewMonitor(store, v, append(base, opts...)...)
	t.Cleanup(func() {
		store.Logout()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, m.Wait(ctx))
	})
	return m, store, term, pub
}

func TestMonitor_StaleFailureAfterCancelIsNotFatal(t *testing.T) {
	tests := []struct {
		name      string
		interrupt func(m *Monitor, h *Handle)
	}{
		{"replaced by a new login", func(m *Monitor, _ *Handle) { m.Restart("NEW") }},
		{"cancelled while attached", func(_ *Monitor, h *Handle) { h.Cancel() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newGatedVerifier("OLD", license.ErrCardExpired)
			m, store, term, pub := newGatedMonitor(t, v)
			store.SetAuthenticated(AuthenticatedUserInfo("OLD", 32503680000, time.Now()))

			old := m.Restart("OLD")
			v.waitEntered(t)

			tt.interrupt(m, old)
			close(v.release)
			waitDone(t, old)

			assert.Equal(t, StateCancelled, old.State())
			assert.Empty(t, term.calls())
			assert.Empty(t, pub.published(events.TopicTerminated))
			assert.True(t, store.IsLoggedIn())
		})
	}
}

func TestMonitor_ShutdownDuringVerificationIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	v := newGatedVerifier("VALID1", license.ErrCardExpired)
	m, store, term, pub := newGatedMonitor(t, v, WithBaseContext(ctx))
	store.SetAuthenticated(AuthenticatedUserInfo("VALID1", 32503680000, time.Now()))

	h, started := m.Start("VALID1")
	require.True(t, started)
	v.waitEntered(t)

	cancel()
	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, m.Wait(waitCtx))

	assert.Equal(t, StateCancelled, h.State())
	assert.Empty(t, term.calls())
	assert.Empty(t, pub.published(events.TopicTerminated))
	stopped := pub.published(events.TopicMonitorStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, StopShutdown, stopped[0]["reason"])
}

func TestHandle_CancelNeverBlocks(t *testing.T) {
	h := newHandle(time.Now())
	assert.Equal(t, StateIdle, h.State())

	done := make(chan struct{})
	go func() {
		h.Cancel()
		h.Cancel()
		h.Cancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked")
	}
	assert.Len(t, h.stop, 1)
}

func TestProcessTerminator(t *testing.T) {
	code := -1
	term := ProcessTerminator{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Exit:   func(c int) { code = c },
	}

	term.Terminate(license.ErrCardExpired)

	assert.Equal(t, 1, code)
}

func TestMonitorState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "MonitorState(9)", MonitorState(9).String())
}
