// Package picker turns files dropped into an inbox directory into source selections.
package picker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/maauso/filteredvideo/internal/media"
)

// DefaultDebounce is how long a file must stay unchanged before it is picked.
const DefaultDebounce = 500 * time.Millisecond

// PickFunc receives the selected movie.
type PickFunc func(ctx context.Context, ref media.Reference)

// InboxPicker watches a directory and picks movies copied into it.
// Non-movie files are ignored, which is the picker's cancel path.
type InboxPicker struct {
	dir      string
	debounce time.Duration
	pick     PickFunc
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// Option configures an InboxPicker.
type Option func(*InboxPicker)

// WithDebounce sets the quiet period before a file is picked.
func WithDebounce(d time.Duration) Option {
	return func(p *InboxPicker) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *InboxPicker) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewInboxPicker creates dir if needed and starts watching it.
// Call Run to deliver picks.
func NewInboxPicker(dir string, pick PickFunc, opts ...Option) (*InboxPicker, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve inbox: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(abs); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch inbox: %w", err)
	}

	p := &InboxPicker{
		dir:      abs,
		debounce: DefaultDebounce,
		pick:     pick,
		logger:   slog.Default(),
		watcher:  watcher,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dir returns the watched directory.
func (p *InboxPicker) Dir() string {
	return p.dir
}

// Run delivers picks until ctx is done. The watcher is closed on return.
func (p *InboxPicker) Run(ctx context.Context) error {
	defer func() { _ = p.watcher.Close() }()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(p.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if media.IsMovie(event.Name) {
					pending[event.Name] = time.Now()
				} else {
					p.logger.Debug("ignoring non-movie file", slog.String("path", event.Name))
				}
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("inbox watcher error", slog.String("error", err.Error()))

		case now := <-ticker.C:
			if path, ok := settled(pending, now, p.debounce); ok {
				p.deliver(ctx, path)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// settled removes every path that has been quiet for at least d and returns the
// most recently changed one. Earlier files in the same batch are superseded.
func settled(pending map[string]time.Time, now time.Time, d time.Duration) (string, bool) {
	var (
		newest   string
		newestAt time.Time
	)
	for path, at := range pending {
		if now.Sub(at) < d {
			continue
		}
		delete(pending, path)
		if newest == "" || at.After(newestAt) || (at.Equal(newestAt) && strings.Compare(path, newest) > 0) {
			newest, newestAt = path, at
		}
	}
	return newest, newest != ""
}

func (p *InboxPicker) deliver(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	ref, err := media.NewReference(path, "")
	if err != nil {
		p.logger.Warn("cannot pick file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	p.logger.Info("picked video from inbox", slog.String("path", ref.Path))
	p.pick(ctx, ref)
}
