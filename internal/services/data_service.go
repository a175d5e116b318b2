package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cardauth/internal/userdata"
)

// DocumentStore persists the user data document
type DocumentStore interface {
	Load() (userdata.Document, error)
	Save(doc userdata.Document) error
}

// DataService exposes load_data and save_data
type DataService interface {
	LoadData(ctx context.Context) (userdata.Document, error)
	SaveData(ctx context.Context, doc userdata.Document) error
}

type dataService struct {
	store  DocumentStore
	logger *slog.Logger
	// mu serializes file access
	mu sync.Mutex
}

// NewDataService creates the user data service
func NewDataService(store DocumentStore, logger *slog.Logger) DataService {
	if logger == nil {
		logger = slog.Default()
	}
	return &dataService{
		store:  store,
		logger: logger.With(slog.String("service", "data")),
	}
}

// LoadData reads the user document
func (s *dataService) LoadData(ctx context.Context) (userdata.Document, error) {
	start := time.Now()
	s.mu.Lock()
	doc, err := s.store.Load()
	s.mu.Unlock()
	if err != nil {
		s.logger.ErrorContext(ctx, "load user data failed",
			slog.String("operation", "load_data"),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.logger.DebugContext(ctx, "user data loaded",
		slog.String("operation", "load_data"),
		slog.Duration("latency", time.Since(start)))
	return doc, nil
}

// SaveData replaces the user document
func (s *dataService) SaveData(ctx context.Context, doc userdata.Document) error {
	start := time.Now()
	s.mu.Lock()
	err := s.store.Save(doc)
	s.mu.Unlock()
	if err != nil {
		s.logger.ErrorContext(ctx, "save user data failed",
			slog.String("operation", "save_data"),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	s.logger.InfoContext(ctx, "user data saved",
		slog.String("operation", "save_data"),
		slog.Duration("latency", time.Since(start)))
	return nil
}
