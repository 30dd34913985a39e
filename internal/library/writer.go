package library

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/filteredvideo/internal/storage"
)

// File is an opened export. *os.File satisfies it.
type File interface {
	io.Reader
	Name() string
	Stat() (fs.FileInfo, error)
}

// Writer stores a file as a new library asset.
type Writer interface {
	Write(ctx context.Context, src File) (Asset, error)
}

// Compile-time checks.
var (
	_ File   = (*os.File)(nil)
	_ Writer = (*DirWriter)(nil)
	_ Writer = (*S3Writer)(nil)
)

// DirWriter copies files into a library directory.
type DirWriter struct {
	dir   string
	index *Index
}

// NewDirWriter creates a DirWriter rooted at dir, creating it if needed.
func NewDirWriter(dir string, index *Index) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}
	return &DirWriter{dir: dir, index: index}, nil
}

// Write copies src to <dir>/<asset id><ext> and records it.
func (w *DirWriter) Write(ctx context.Context, src File) (Asset, error) {
	a := newAsset(src.Name(), BackendDir)
	dst := filepath.Join(w.dir, a.ID+filepath.Ext(src.Name()))

	tmp, err := os.CreateTemp(w.dir, ".incoming_*")
	if err != nil {
		return Asset{}, fmt.Errorf("create library file: %w", err)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Asset{}, fmt.Errorf("copy to library: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return Asset{}, fmt.Errorf("move into library: %w", err)
	}

	a.Location = dst
	a.Size = n
	if err := w.index.Record(ctx, a); err != nil {
		_ = os.Remove(dst)
		return Asset{}, err
	}
	return a, nil
}

// S3Writer uploads files to an object store under a key prefix.
type S3Writer struct {
	store  storage.ObjectStore
	prefix string
	index  *Index
}

// NewS3Writer creates an S3Writer. prefix is prepended to every object key.
func NewS3Writer(store storage.ObjectStore, prefix string, index *Index) *S3Writer {
	prefix = strings.Trim(prefix, "/")
	return &S3Writer{store: store, prefix: prefix, index: index}
}

// Write uploads src as <prefix>/<asset id><ext> and records it.
func (w *S3Writer) Write(ctx context.Context, src File) (Asset, error) {
	st, err := src.Stat()
	if err != nil {
		return Asset{}, fmt.Errorf("stat export: %w", err)
	}

	a := newAsset(src.Name(), BackendS3)
	ext := filepath.Ext(src.Name())
	key := a.ID + ext
	if w.prefix != "" {
		key = path.Join(w.prefix, key)
	}

	url, err := w.store.Put(ctx, key, contentType(ext), src)
	if err != nil {
		return Asset{}, err
	}

	a.Location = url
	a.Size = st.Size()
	if err := w.index.Record(ctx, a); err != nil {
		return Asset{}, err
	}
	return a, nil
}

func newAsset(src string, backend Backend) Asset {
	return Asset{
		ID:        uuid.NewString(),
		Name:      filepath.Base(src),
		Backend:   backend,
		CreatedAt: time.Now().UTC(),
	}
}

func contentType(ext string) string {
	if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
		return t
	}
	return "video/mp4"
}
