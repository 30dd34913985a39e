// Package composition binds a source video to a filter spec.
// A Composition is a lazy description: nothing is probed or decoded until a
// consumer opens a stream, and frames are filtered one at a time as they are read.
package composition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/maauso/filteredvideo/internal/filter"
	"github.com/maauso/filteredvideo/internal/media"
)

// ErrClosed is returned when reading from a closed stream.
var ErrClosed = errors.New("composition stream closed")

// Stream yields filtered frames. Next returns io.EOF after the last frame.
type Stream interface {
	Info() media.Info
	Next() (filter.Frame, error)
	Close() error
}

// Source is anything that can be opened into a filtered frame stream.
// Both the preview player and the exporter consume it.
type Source interface {
	Reference() media.Reference
	Open(ctx context.Context) (Stream, error)
}

// Compile-time check that Composition implements Source.
var _ Source = (*Composition)(nil)

// Composition is an immutable binding of a media reference to a filter spec.
type Composition struct {
	ref   media.Reference
	codec media.Codec
	eval  func(filter.Frame) filter.Frame
}

// New builds a composition. It performs no I/O and cannot fail.
func New(ref media.Reference, spec filter.Spec, codec media.Codec) *Composition {
	return &Composition{
		ref:   ref,
		codec: codec,
		eval:  filter.Func(spec),
	}
}

// Reference returns the source the composition was built from.
func (c *Composition) Reference() media.Reference {
	return c.ref
}

// Open probes the source and starts decoding it.
func (c *Composition) Open(ctx context.Context) (Stream, error) {
	info, err := c.codec.Probe(ctx, c.ref.Path)
	if err != nil {
		return nil, fmt.Errorf("probe source: %w", err)
	}
	reader, err := c.codec.OpenReader(ctx, c.ref.Path, info)
	if err != nil {
		return nil, fmt.Errorf("open decoder: %w", err)
	}
	return &stream{
		info:   info,
		reader: reader,
		eval:   c.eval,
		step:   frameDuration(info),
	}, nil
}

func frameDuration(info media.Info) time.Duration {
	fps := info.FPS()
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

type stream struct {
	info   media.Info
	reader media.FrameReader
	eval   func(filter.Frame) filter.Frame
	step   time.Duration
	next   int
	closed bool
}

func (s *stream) Info() media.Info {
	return s.info
}

func (s *stream) Next() (filter.Frame, error) {
	if s.closed {
		return filter.Frame{}, ErrClosed
	}
	img, err := s.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return filter.Frame{}, io.EOF
		}
		return filter.Frame{}, err
	}
	f := filter.Frame{
		Index: s.next,
		Time:  time.Duration(s.next) * s.step,
		Image: img,
	}
	s.next++
	return s.eval(f), nil
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.reader.Close()
}
