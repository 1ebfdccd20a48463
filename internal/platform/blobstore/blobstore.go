// Package blobstore provides access to stored resume files by opaque
// reference. Parse task payloads carry references, never file contents.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates the reference does not resolve to a stored blob.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidRef indicates a malformed or unsafe reference.
var ErrInvalidRef = errors.New("invalid blob reference")

// Store reads and writes blobs by reference.
type Store interface {
	// Get returns the blob's contents. Returns ErrNotFound if the
	// reference does not resolve.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Put stores contents under the reference, overwriting any prior blob.
	Put(ctx context.Context, ref string, data []byte) error
}

// FileStore is a Store backed by a local directory. References are
// slash-separated relative paths under the root.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FileStore{root: dir}, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", ref, err)
	}
	return data, nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, ref string, data []byte) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", ref, err)
	}
	return nil
}

// resolve maps a reference to an absolute path, rejecting anything that
// would escape the root.
func (s *FileStore) resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidRef
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	return filepath.Join(s.root, clean), nil
}

var _ Store = (*FileStore)(nil)
