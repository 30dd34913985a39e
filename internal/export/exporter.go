package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/maauso/filteredvideo/internal/composition"
	"github.com/maauso/filteredvideo/internal/media"
	"github.com/maauso/filteredvideo/internal/storage"
)

// Result is the terminal outcome of one export run.
type Result struct {
	// Status is one of StatusCompleted, StatusFailed or StatusCancelled.
	Status Status
	// Path is the written file when Status is StatusCompleted.
	Path string
	// Err describes why the run failed or was cancelled.
	Err error
}

// Encoder opens frame writers for output files.
type Encoder interface {
	OpenWriter(ctx context.Context, dst string, info media.Info, audioFrom string) (media.FrameWriter, error)
}

// ProgressFunc receives the percentage of frames encoded so far.
type ProgressFunc func(percent int)

// Exporter encodes composition streams to files.
type Exporter struct {
	encoder Encoder
	files   storage.Remover
	logger  *slog.Logger
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithRemover sets how partial output is deleted. Defaults to storage.FileRemover.
func WithRemover(r storage.Remover) ExporterOption {
	return func(e *Exporter) {
		if r != nil {
			e.files = r
		}
	}
}

// NewExporter creates an Exporter writing through encoder.
func NewExporter(encoder Encoder, logger *slog.Logger, opts ...ExporterOption) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{encoder: encoder, files: storage.FileRemover, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run encodes every frame of src into dst and blocks until the encode settles.
// A partially written file is removed when the run does not complete.
func (e *Exporter) Run(ctx context.Context, src composition.Source, dst string, progress ProgressFunc) Result {
	ref := src.Reference()

	stream, err := src.Open(ctx)
	if err != nil {
		return e.settle(ctx, dst, fmt.Errorf("open composition: %w", err))
	}
	defer func() { _ = stream.Close() }()

	info := stream.Info()
	w, err := e.encoder.OpenWriter(ctx, dst, info, ref.Path)
	if err != nil {
		return e.settle(ctx, dst, fmt.Errorf("open encoder: %w", err))
	}

	expected := int(math.Round(info.Duration * info.FPS()))
	written := 0
	lastPct := -1
	for {
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = w.Abort()
			return e.settle(ctx, dst, fmt.Errorf("read frame %d: %w", written, err))
		}
		if err := w.WriteFrame(frame.Image); err != nil {
			_ = w.Abort()
			return e.settle(ctx, dst, fmt.Errorf("encode frame %d: %w", frame.Index, err))
		}
		written++
		if progress != nil && expected > 0 {
			// The last percent is reported on completion.
			if pct := min(written*100/expected, 99); pct != lastPct {
				lastPct = pct
				progress(pct)
			}
		}
	}

	if err := w.Close(); err != nil {
		return e.settle(ctx, dst, fmt.Errorf("finalise output: %w", err))
	}

	e.logger.Info("export encoded",
		slog.String("source", ref.Path),
		slog.String("destination", dst),
		slog.Int("frames", written),
	)
	return Result{Status: StatusCompleted, Path: dst}
}

// settle classifies err and removes any partial output.
func (e *Exporter) settle(ctx context.Context, dst string, err error) Result {
	if rmErr := e.files.Remove(dst); rmErr != nil {
		e.logger.Warn("failed to remove partial export",
			slog.String("destination", dst),
			slog.String("error", rmErr.Error()),
		)
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		e.logger.Info("export cancelled", slog.String("destination", dst))
		return Result{Status: StatusCancelled, Err: err}
	}

	e.logger.Error("export failed",
		slog.String("destination", dst),
		slog.String("error", err.Error()),
	)
	return Result{Status: StatusFailed, Err: err}
}
