// Package bootstrap provides dependency initialization for the filtered video server.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/filteredvideo/internal/config"
	"github.com/maauso/filteredvideo/internal/events"
	"github.com/maauso/filteredvideo/internal/export"
	"github.com/maauso/filteredvideo/internal/filter"
	"github.com/maauso/filteredvideo/internal/library"
	"github.com/maauso/filteredvideo/internal/media"
	"github.com/maauso/filteredvideo/internal/picker"
	"github.com/maauso/filteredvideo/internal/preview"
	"github.com/maauso/filteredvideo/internal/session"
	"github.com/maauso/filteredvideo/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Session *session.Session
	Storage *storage.CacheStorage
	Preview *preview.MJPEGSurface
	Events  *events.Hub
	// Picker is nil when no inbox directory is configured.
	Picker *picker.InboxPicker
	// Library indexes saved assets.
	Library *library.Index
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = storage.DefaultCacheDir()
	}
	store, err := storage.NewCacheStorage(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("create cache storage: %w", err)
	}
	logger.Info("cache storage configured", slog.String("dir", store.Dir()))

	index, err := library.OpenIndex(cfg.LibraryIndexPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open library index: %w", err)
	}

	saver, err := initLibrary(ctx, cfg, index, logger)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	codec := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	surface := preview.NewMJPEGSurface(cfg.PreviewJPEGQuality)
	hub := events.NewHub(events.DefaultBuffer)

	sess := session.New(session.Config{
		Codec:           codec,
		Spec:            filter.Noir,
		Surface:         surface,
		RealtimePreview: cfg.PreviewRealtime,
		Exporter:        export.NewExporter(codec, logger, export.WithRemover(store)),
		Jobs:            export.NewMemoryRepository(),
		Library:         saver,
		Events:          hub,
		Files:           store,
		Destination:     store.OutputPath(),
		Logger:          logger,
	})

	deps := &Dependencies{
		Session: sess,
		Storage: store,
		Preview: surface,
		Events:  hub,
		Library: index,
	}

	if cfg.InboxEnabled() {
		p, err := picker.NewInboxPicker(cfg.InboxDir, deps.pick(logger),
			picker.WithDebounce(cfg.InboxDebounce),
			picker.WithLogger(logger),
		)
		if err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("create inbox picker: %w", err)
		}
		logger.Info("inbox picker configured", slog.String("dir", p.Dir()))
		deps.Picker = p
	}

	return deps, nil
}

// pick forwards inbox selections to the session.
func (d *Dependencies) pick(logger *slog.Logger) picker.PickFunc {
	return func(ctx context.Context, ref media.Reference) {
		if err := d.Session.SetSource(ctx, ref); err != nil {
			logger.Warn("failed to select inbox video",
				slog.String("path", ref.Path),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close releases the event hub and the library index. Close the session first.
func (d *Dependencies) Close() error {
	d.Events.Close()
	return d.Library.Close()
}

// initLibrary creates the media library backend based on configuration.
func initLibrary(ctx context.Context, cfg *config.Config, index *library.Index, logger *slog.Logger) (*library.Saver, error) {
	status, err := library.ParseAuthorizationStatus(cfg.LibraryAuthorization)
	if err != nil {
		return nil, err
	}
	answer, err := library.ParseAuthorizationStatus(cfg.LibraryPromptAnswer)
	if err != nil {
		return nil, err
	}
	auth := library.NewPolicyAuthorizer(status, answer)

	var writer library.Writer
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		writer = library.NewS3Writer(s3Store, cfg.S3Prefix, index)
		logger.Info("S3 library configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("prefix", cfg.S3Prefix),
		)
	} else {
		dirWriter, err := library.NewDirWriter(cfg.LibraryPath(), index)
		if err != nil {
			return nil, err
		}
		writer = dirWriter
		logger.Info("local library configured", slog.String("dir", cfg.LibraryPath()))
	}

	if status == library.Denied || status == library.Restricted {
		logger.Warn("library access is not authorized; exports stay in the cache",
			slog.String("authorization", string(status)),
		)
	}

	return library.NewSaver(auth, writer, logger), nil
}
