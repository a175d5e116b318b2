package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cardauth/internal/events"
	"cardauth/internal/license"
	"cardauth/internal/session"
)

type authFixture struct {
	auth      *MockAuthenticator
	store     *session.Store
	monitor   *session.Monitor
	publisher *recordingPublisher
	service   AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		auth:      &MockAuthenticator{},
		store:     session.NewStore(),
		publisher: &recordingPublisher{},
	}
	f.monitor = session.NewMonitor(f.store, f.auth,
		session.WithInterval(time.Hour),
		session.WithTerminator(nopTerminator{}),
		session.WithMonitorLogger(discardLogger()))
	f.service = NewAuthService(f.auth, f.store, f.monitor, f.publisher, discardLogger())
	t.Cleanup(func() {
		f.store.Logout()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, f.monitor.Wait(ctx))
	})
	return f
}

func TestAuthService_LoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	f.auth.On("Authenticate", mock.Anything, "VALID1").
		Return(&license.VerificationResult{Granted: true, ExpiresAt: 32503680000}, nil).Once()

	result, err := f.service.Login(context.Background(), "VALID1")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(32503680000), result.ExpirationTimestamp)

	state := f.service.GetLoginStatus(context.Background())
	assert.True(t, state.IsLoggedIn)
	assert.Equal(t, "VALID1", state.UserInfo[session.KeyPassword])
	assert.Equal(t, int64(32503680000), state.UserInfo[session.KeyExpirationTimestamp])
	assert.Contains(t, state.UserInfo, session.KeyLoginTime)
	assert.Equal(t, result.MonitorID, state.MonitorID)

	assert.Equal(t, []string{events.TopicLoggedIn}, f.publisher.published())
	f.auth.AssertExpectations(t)
}

func TestAuthService_LoginFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.auth.On("Authenticate", mock.Anything, "BAD").
		Return((*license.VerificationResult)(nil), license.ErrCardUnused).Once()

	result, err := f.service.Login(context.Background(), "BAD")

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, license.ErrCardUnused))
	var authErr *license.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, license.MsgCardUnused, authErr.Message)

	state := f.service.GetLoginStatus(context.Background())
	assert.False(t, state.IsLoggedIn)
	assert.Empty(t, state.MonitorID)
	assert.Empty(t, f.publisher.published())
}

func TestAuthService_ReloginReplacesMonitor(t *testing.T) {
	f := newAuthFixture(t)
	f.auth.On("Authenticate", mock.Anything, mock.Anything).
		Return(&license.VerificationResult{Granted: true, ExpiresAt: 32503680000}, nil)

	first, err := f.service.Login(context.Background(), "KEY1")
	require.NoError(t, err)
	oldHandle := f.store.Monitor()
	require.NotNil(t, oldHandle)

	second, err := f.service.Login(context.Background(), "KEY2")
	require.NoError(t, err)

	assert.NotEqual(t, first.MonitorID, second.MonitorID)
	select {
	case <-oldHandle.Done():
	case <-time.After(time.Second):
		t.Fatal("previous monitor still running")
	}
	assert.Equal(t, session.StateCancelled, oldHandle.State())
	assert.Equal(t, second.MonitorID, f.store.Monitor().ID())
	assert.Equal(t, "KEY2", f.store.Snapshot().UserInfo[session.KeyPassword])
}

func TestAuthService_StartSessionMonitor(t *testing.T) {
	f := newAuthFixture(t)
	f.store.SetAuthenticated(map[string]any{session.KeyPassword: "VALID1"})

	started, err := f.service.StartSessionMonitor(context.Background(), "VALID1")
	require.NoError(t, err)
	assert.True(t, started)
	attached := f.store.Monitor()

	started, err = f.service.StartSessionMonitor(context.Background(), "VALID1")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Same(t, attached, f.store.Monitor())

	_, err = f.service.StartSessionMonitor(context.Background(), "")
	assert.True(t, errors.Is(err, license.ErrEmptyCredential))
}

func TestAuthService_SetLoginStatus(t *testing.T) {
	f := newAuthFixture(t)

	f.service.SetLoginStatus(context.Background(), true, map[string]any{"name": "shell"})
	state := f.service.GetLoginStatus(context.Background())
	assert.True(t, state.IsLoggedIn)
	assert.Equal(t, "shell", state.UserInfo["name"])

	f.service.SetLoginStatus(context.Background(), false, nil)
	state = f.service.GetLoginStatus(context.Background())
	assert.False(t, state.IsLoggedIn)
	assert.Nil(t, state.UserInfo)
	assert.Equal(t, []string{events.TopicLoggedOut}, f.publisher.published())
}

func TestAuthService_Logout(t *testing.T) {
	f := newAuthFixture(t)
	f.auth.On("Authenticate", mock.Anything, "VALID1").
		Return(&license.VerificationResult{Granted: true, ExpiresAt: 32503680000}, nil)

	_, err := f.service.Login(context.Background(), "VALID1")
	require.NoError(t, err)
	handle := f.store.Monitor()

	require.NoError(t, f.service.Logout(context.Background()))

	state := f.service.GetLoginStatus(context.Background())
	assert.False(t, state.IsLoggedIn)
	assert.Nil(t, state.UserInfo)
	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on logout")
	}
	assert.Equal(t, []string{events.TopicLoggedIn, events.TopicLoggedOut}, f.publisher.published())

	require.NoError(t, f.service.Logout(context.Background()), "logout is idempotent")
}
