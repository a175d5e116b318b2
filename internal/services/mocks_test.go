package services

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"cardauth/internal/license"
	"cardauth/internal/userdata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, key string) (*license.VerificationResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(*license.VerificationResult), args.Error(1)
}

type MockDocumentStore struct {
	mock.Mock
}

func (m *MockDocumentStore) Load() (userdata.Document, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

func (m *MockDocumentStore) Save(doc userdata.Document) error {
	return m.Called(doc).Error(0)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) ProbeConnectivity(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic string, _ map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type nopTerminator struct{}

func (nopTerminator) Terminate(error) {}
