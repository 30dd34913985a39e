package library

import (
	"context"
	"fmt"
	"log/slog"
)

// Saver writes exports to the library once access is authorized.
type Saver struct {
	auth   Authorizer
	writer Writer
	logger *slog.Logger
}

// NewSaver creates a Saver.
func NewSaver(auth Authorizer, writer Writer, logger *slog.Logger) *Saver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{auth: auth, writer: writer, logger: logger}
}

// Save writes src to the library. It asks for authorization first if none
// was decided. saved is false with a nil error when access is denied or
// restricted; the save is not retried. The caller closes src.
func (s *Saver) Save(ctx context.Context, src File) (asset Asset, saved bool, err error) {
	status := s.auth.Status(ctx)
	if status == NotDetermined {
		status, err = s.auth.Request(ctx)
		if err != nil {
			return Asset{}, false, fmt.Errorf("request library access: %w", err)
		}
	}

	switch status {
	case Authorized:
	case Denied, Restricted:
		s.logger.Info("library save skipped",
			slog.String("path", src.Name()),
			slog.String("authorization", string(status)),
		)
		return Asset{}, false, nil
	default:
		return Asset{}, false, fmt.Errorf("%w: %s", ErrNotAuthorized, status)
	}

	asset, err = s.writer.Write(ctx, src)
	if err != nil {
		return Asset{}, false, fmt.Errorf("write to library: %w", err)
	}

	s.logger.Info("video saved to library",
		slog.String("asset_id", asset.ID),
		slog.String("location", asset.Location),
		slog.Int64("size", asset.Size),
	)
	return asset, true, nil
}
