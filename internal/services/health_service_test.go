package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cardauth/internal/session"
)

type staticCounter int

func (c staticCounter) ClientCount() int { return int(c) }

func TestHealthService_HealthCheck(t *testing.T) {
	store := session.NewStore()
	store.SetAuthenticated(map[string]any{session.KeyPassword: "k"})
	svc := NewHealthService(AppInfo{App: "cardauth", Version: "1.2.3"}, &MockProber{}, store, staticCounter(2), discardLogger())

	status := svc.HealthCheck(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, map[string]any{"logged_in": true, "monitoring": false}, status.Services["session"])
	assert.Equal(t, map[string]any{"clients": 2}, status.Services["websocket"])
	assert.Contains(t, status.Runtime, "goroutines")
}

func TestHealthService_ReadinessCheck(t *testing.T) {
	tests := []struct {
		name      string
		reachable bool
		want      string
		wantErr   error
	}{
		{"backend reachable", true, StatusReady, nil},
		{"backend down", false, StatusNotReady, ErrBackendDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &MockProber{}
			prober.On("ProbeConnectivity", mock.Anything).Return(tt.reachable).Once()
			svc := NewHealthService(AppInfo{}, prober, session.NewStore(), nil, discardLogger())

			status, err := svc.ReadinessCheck(context.Background())

			assert.Equal(t, tt.want, status.Status)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NotContains(t, status.Services, "websocket")
			prober.AssertExpectations(t)
		})
	}
}

func TestHealthService_AppInfo(t *testing.T) {
	svc := NewHealthService(AppInfo{App: "cardauth", Version: "0.1.0"}, &MockProber{}, session.NewStore(), nil, nil)
	assert.Equal(t, AppInfo{App: "cardauth", Version: "0.1.0"}, svc.AppInfo())
}
