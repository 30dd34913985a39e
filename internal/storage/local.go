package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that CacheStorage implements Storage.
var _ Storage = (*CacheStorage)(nil)

// CacheStorage implements Storage on a local cache directory.
type CacheStorage struct {
	dir string
}

// DefaultCacheDir returns the per-user cache directory for the application,
// falling back to the system temp directory when none is defined.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "filteredvideo")
}

// NewCacheStorage creates a CacheStorage rooted at dir.
// If dir is empty, DefaultCacheDir() is used.
// The directory is created if it doesn't exist.
func NewCacheStorage(dir string) (*CacheStorage, error) {
	if dir == "" {
		dir = DefaultCacheDir()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &CacheStorage{dir: dir}, nil
}

// Dir returns the cache directory path.
func (s *CacheStorage) Dir() string {
	return s.dir
}

// OutputPath returns <cache>/video.mp4.
func (s *CacheStorage) OutputPath() string {
	return filepath.Join(s.dir, OutputName)
}

// SaveTemp saves data to a uniquely named file in the cache directory.
// The extension of name is kept so the file is still recognised as a movie.
func (s *CacheStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "upload"
	}

	f, err := os.CreateTemp(s.dir, stem+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// LoadTemp opens a stored file for reading.
func (s *CacheStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}
	return f, nil
}

// CleanupTemp removes the specified files, returning the first error encountered.
func (s *CacheStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}
		if err := s.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Remove deletes path, ignoring a missing file.
func (s *CacheStorage) Remove(path string) error {
	return RemoveFile(path)
}
