// Package compositiontest provides in-memory composition sources for tests.
package compositiontest

import (
	"context"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maauso/filteredvideo/internal/composition"
	"github.com/maauso/filteredvideo/internal/filter"
	"github.com/maauso/filteredvideo/internal/media"
)

// Source is a composition.Source that yields a fixed number of solid frames.
type Source struct {
	Ref    media.Reference
	Frames int
	// Width and Height default to 4x4.
	Width, Height int
	// FrameRate defaults to "25/1".
	FrameRate string
	// OpenErr is returned from Open when set.
	OpenErr error
	// FailAt makes Next return FailErr at the given frame index when FailErr is set.
	FailAt  int
	FailErr error
	// Block makes Next wait until the context passed to Open is done.
	Block bool

	opens atomic.Int32
	mu    sync.Mutex
	live  int
}

// Compile-time check that Source implements composition.Source.
var _ composition.Source = (*Source)(nil)

// Reference returns the configured reference.
func (s *Source) Reference() media.Reference {
	return s.Ref
}

// Opens reports how many streams were opened.
func (s *Source) Opens() int {
	return int(s.opens.Load())
}

// Live reports how many opened streams are not yet closed.
func (s *Source) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Info returns the media info streams report.
func (s *Source) Info() media.Info {
	w, h := s.Width, s.Height
	if w == 0 {
		w = 4
	}
	if h == 0 {
		h = 4
	}
	rate := s.FrameRate
	if rate == "" {
		rate = "25/1"
	}
	info := media.Info{Width: w, Height: h, FrameRate: rate}
	if fps := info.FPS(); fps > 0 {
		info.Duration = float64(s.Frames) / fps
	}
	return info
}

// Open starts a new stream.
func (s *Source) Open(ctx context.Context) (composition.Stream, error) {
	s.opens.Add(1)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.mu.Lock()
	s.live++
	s.mu.Unlock()
	return &stream{src: s, ctx: ctx, info: s.Info()}, nil
}

type stream struct {
	src    *Source
	ctx    context.Context
	info   media.Info
	next   int
	closed bool
}

func (st *stream) Info() media.Info {
	return st.info
}

func (st *stream) Next() (filter.Frame, error) {
	if st.closed {
		return filter.Frame{}, composition.ErrClosed
	}
	if st.src.Block {
		<-st.ctx.Done()
		return filter.Frame{}, st.ctx.Err()
	}
	if err := st.ctx.Err(); err != nil {
		return filter.Frame{}, err
	}
	if st.src.FailErr != nil && st.next == st.src.FailAt {
		return filter.Frame{}, st.src.FailErr
	}
	if st.next >= st.src.Frames {
		return filter.Frame{}, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, st.info.Width, st.info.Height))
	shade := uint8(st.next * 16)
	for y := 0; y < st.info.Height; y++ {
		for x := 0; x < st.info.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	f := filter.Frame{Index: st.next, Time: time.Duration(st.next) * 40 * time.Millisecond, Image: img}
	st.next++
	return f, nil
}

func (st *stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.src.mu.Lock()
	st.src.live--
	st.src.mu.Unlock()
	return nil
}
