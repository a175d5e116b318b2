package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/config"
	"cardauth/internal/events"
	"cardauth/internal/security"
	"cardauth/internal/services"
	"cardauth/internal/shared/testutil"
)

type recordingTerminator struct {
	mu      sync.Mutex
	reasons []error
}

func (r *recordingTerminator) Terminate(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingTerminator) Reasons() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.reasons...)
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BackendURL = backendURL
	cfg.Monitor.Interval = 20 * time.Millisecond
	cfg.HTTP.Timeout = 2 * time.Second
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Telemetry.MetricExporter = "none"
	cfg.Paths.DataFile = filepath.Join(t.TempDir(), "data.yml")
	return &cfg
}

func newTestApp(t *testing.T, cfg *config.Config, term *recordingTerminator) *Application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(cfg, logger, nil,
		WithTerminator(term),
		WithFingerprint(security.StaticFingerprint("abc123")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp, out
}

func TestApplication_LoginMonitorLogout(t *testing.T) {
	authority := testutil.NewAuthority(t)
	term := &recordingTerminator{}
	a := newTestApp(t, testConfig(t, authority.URL), term)

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	resp, body := call(t, srv, http.MethodPost, "/api/auth/login", `{"password":"VALID1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(32503680000), body["expiration_timestamp"])

	reqs := authority.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "VALID1", reqs[0].Key)
	assert.Equal(t, "abc123", reqs[0].HWID)

	// The monitor keeps re-verifying in the background.
	assert.Eventually(t, func() bool { return authority.VerifyCount() >= 3 }, 2*time.Second, 10*time.Millisecond)

	_, status := call(t, srv, http.MethodGet, "/api/auth/status", "")
	assert.Equal(t, true, status["is_logged_in"])
	userInfo, ok := status["user_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "VALID1", userInfo["password"])

	resp, _ = call(t, srv, http.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, status = call(t, srv, http.MethodGet, "/api/auth/status", "")
	assert.Equal(t, false, status["is_logged_in"])
	assert.Nil(t, status["user_info"])

	assert.Eventually(t, func() bool { return a.Store.Monitor() == nil }, time.Second, 10*time.Millisecond)
	settled := authority.VerifyCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, authority.VerifyCount(), "no verification after logout")
	assert.Empty(t, term.Reasons())
}

func TestApplication_RevokedCardTerminates(t *testing.T) {
	authority := testutil.NewAuthority(t)
	term := &recordingTerminator{}
	a := newTestApp(t, testConfig(t, authority.URL), term)

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	resp, _ := call(t, srv, http.MethodPost, "/api/auth/login", `{"password":"VALID1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	authority.Respond(testutil.CardWithStatus("expired"))

	assert.Eventually(t, func() bool { return len(term.Reasons()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "卡密已过期", term.Reasons()[0].Error())
}

func TestApplication_LoginFailureIsNotFatal(t *testing.T) {
	authority := testutil.NewAuthority(t)
	authority.Respond(testutil.Rejected("bad key"))
	term := &recordingTerminator{}
	a := newTestApp(t, testConfig(t, authority.URL), term)

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	resp, body := call(t, srv, http.MethodPost, "/api/auth/login", `{"password":"NOPE"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "bad key", body["detail"])
	assert.Equal(t, "rejected", body["reason"])

	assert.False(t, a.Store.IsLoggedIn())
	assert.Nil(t, a.Store.Monitor())
	assert.Empty(t, term.Reasons())
}

func TestApplication_StartMonitorIsIdempotent(t *testing.T) {
	authority := testutil.NewAuthority(t)
	a := newTestApp(t, testConfig(t, authority.URL), &recordingTerminator{})
	a.Store.SetAuthenticated(map[string]any{"password": "VALID1"})

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	resp, body := call(t, srv, http.MethodPost, "/api/auth/monitor", `{"password":"VALID1"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["started"])
	first := a.Store.Monitor()
	require.NotNil(t, first)

	resp, body = call(t, srv, http.MethodPost, "/api/auth/monitor", `{"password":"VALID1"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, false, body["started"])
	assert.Same(t, first, a.Store.Monitor())
}

func TestApplication_UserData(t *testing.T) {
	authority := testutil.NewAuthority(t)
	a := newTestApp(t, testConfig(t, authority.URL), &recordingTerminator{})

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	_, doc := call(t, srv, http.MethodGet, "/api/data", "")
	assert.Empty(t, doc)

	resp, _ := call(t, srv, http.MethodPut, "/api/data", `{"theme":"dark","recent":["a","b"]}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, doc = call(t, srv, http.MethodGet, "/api/data", "")
	assert.Equal(t, "dark", doc["theme"])
	assert.Equal(t, []any{"a", "b"}, doc["recent"])
}

func TestApplication_AppInfoAndHealth(t *testing.T) {
	authority := testutil.NewAuthority(t)
	a := newTestApp(t, testConfig(t, authority.URL), &recordingTerminator{})

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	_, info := call(t, srv, http.MethodGet, "/api/app-info", "")
	assert.Equal(t, AppName, info["app"])
	assert.NotEmpty(t, info["version"])

	resp, health := call(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, services.StatusHealthy, health["status"])

	resp, _ = call(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplication_CheckBackend(t *testing.T) {
	t.Run("reachable authority", func(t *testing.T) {
		authority := testutil.NewAuthority(t)
		term := &recordingTerminator{}
		cfg := testConfig(t, authority.URL)
		cfg.Mode = config.ModeRelease
		a := newTestApp(t, cfg, term)

		assert.True(t, a.CheckBackend(context.Background()))
		assert.Equal(t, 1, authority.ProbeCount())
		assert.Empty(t, term.Reasons())
	})

	t.Run("development mode only warns", func(t *testing.T) {
		authority := testutil.NewAuthority(t)
		authority.Close()
		term := &recordingTerminator{}
		a := newTestApp(t, testConfig(t, authority.URL), term)

		assert.False(t, a.CheckBackend(context.Background()))
		assert.Empty(t, term.Reasons())
	})

	t.Run("release mode terminates", func(t *testing.T) {
		authority := testutil.NewAuthority(t)
		authority.Close()
		term := &recordingTerminator{}
		cfg := testConfig(t, authority.URL)
		cfg.Mode = config.ModeRelease
		a := newTestApp(t, cfg, term)

		assert.False(t, a.CheckBackend(context.Background()))
		reasons := term.Reasons()
		require.Len(t, reasons, 1)
		assert.ErrorIs(t, reasons[0], services.ErrBackendDown)
	})
}

func TestApplication_EventStream(t *testing.T) {
	authority := testutil.NewAuthority(t)
	a := newTestApp(t, testConfig(t, authority.URL), &recordingTerminator{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.WebSocketHub.Run(ctx)

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var greeting events.Event
	require.NoError(t, conn.ReadJSON(&greeting))
	assert.Equal(t, "connection", greeting.Type)

	resp, _ := call(t, srv, http.MethodPost, "/api/auth/login", `{"password":"VALID1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		var event events.Event
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == events.TopicLoggedIn {
			assert.Equal(t, float64(32503680000), event.Data["expiration_timestamp"])
			return
		}
	}
}
