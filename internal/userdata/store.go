// Package userdata persists the shell's free-form user document as YAML.
package userdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Document is a JSON-compatible value: nil, bool, float64, int, string,
// []any or map[string]any
type Document = any

// Store loads and saves one YAML file
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store for path
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With(slog.String("component", "userdata")),
	}
}

// Path returns the file backing the store
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing or empty file yields an empty object.
func (s *Store) Load() (Document, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("user data file not found, using empty document", slog.String("path", s.path))
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user data file: %w", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return map[string]any{}, nil
	}

	var raw any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse user data YAML: %w", err)
	}
	doc, err := toJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert user data to JSON: %w", err)
	}

	s.logger.Debug("user data loaded",
		slog.String("path", s.path),
		slog.Int("size_bytes", len(content)))
	return doc, nil
}

// Save writes doc as YAML, replacing the file atomically
func (s *Store) Save(doc Document) error {
	normalized, err := normalize(doc)
	if err != nil {
		return fmt.Errorf("failed to convert user data: %w", err)
	}
	content, err := yaml.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to encode user data as YAML: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create user data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write user data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync user data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to save user data file: %w", err)
	}

	s.logger.Info("user data saved",
		slog.String("path", s.path),
		slog.Int("size_bytes", len(content)))
	return nil
}

// toJSONValue converts the map[interface{}]interface{} trees produced by
// yaml.v2 into map[string]any
func toJSONValue(v any) (any, error) {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			converted, err := toJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			converted, err := toJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			converted, err := toJSONValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return val, nil
	}
}

// normalize round-trips doc through JSON so that only JSON-representable
// values reach the YAML encoder
func normalize(doc Document) (any, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
