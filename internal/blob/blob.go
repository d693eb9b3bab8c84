// Package blob provides durable artifact storage for generated renders and
// documents. Completion handlers persist artifacts here before an entity is
// allowed to transition to ready.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates no artifact exists under the given key.
var ErrNotFound = errors.New("artifact not found")

// Store persists binary artifacts under opaque keys and returns a stable
// URL for each write.
type Store interface {
	// Put durably writes an artifact and returns its URL. Writes are
	// idempotent per key: a retried job overwrites its own artifact.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get reads an artifact back by key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore is a filesystem-backed Store. Artifacts live under a root
// directory; URLs are formed from a configured base URL.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileStore{
		root:    dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Put writes the artifact via a temp file rename so a crashed write never
// leaves a partial artifact under the final key.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	return s.baseURL + "/" + url.PathEscape(key), nil
}

// Get reads an artifact back by key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// path maps a key to a filesystem path, rejecting traversal.
func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
