// Package storage provides the cache directory that holds uploads and the export
// output, and an S3 object store used by the media library.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// OutputName is the file name of the single export output in the cache directory.
const OutputName = "video.mp4"

// Storage defines the cache-class file storage used by the session.
// Its contents may be purged at any time; nothing in it is authoritative.
type Storage interface {
	// SaveTemp saves data to a new file and returns its path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a stored file.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// OutputPath returns the well-known export destination.
	OutputPath() string

	// Remove deletes path if it exists. A missing file is not an error.
	Remove(path string) error
}

// ObjectStore puts objects into remote storage.
type ObjectStore interface {
	// Put uploads data under key and returns the object URL.
	Put(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

// Remover deletes files. A missing file is not an error.
type Remover interface {
	Remove(path string) error
}

// RemoverFunc adapts a function to Remover.
type RemoverFunc func(path string) error

// Remove calls f(path).
func (f RemoverFunc) Remove(path string) error {
	return f(path)
}

// FileRemover removes files with RemoveFile.
var FileRemover Remover = RemoverFunc(RemoveFile)

// RemoveFile deletes path, ignoring a missing file.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
