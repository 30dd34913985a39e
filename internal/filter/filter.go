// Package filter evaluates parameterless per-frame visual effects.
//
// Evaluation is best effort: when an effect cannot produce an output for a frame,
// the source frame is passed through unchanged instead of being dropped.
package filter

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Static errors for filter evaluation.
var (
	// ErrUnknownSpec is returned when no effect is registered under a spec.
	ErrUnknownSpec = errors.New("unknown filter spec")
	// ErrEmptyFrame is returned by effects given a frame without pixels.
	ErrEmptyFrame = errors.New("frame has no pixels")
)

// Spec names a deterministic, parameterless per-frame effect.
type Spec string

const (
	// Noir is a high-contrast monochrome effect.
	Noir Spec = "noir"
)

// Frame is a single decoded video frame.
type Frame struct {
	// Index is the zero-based position of the frame in the stream.
	Index int
	// Time is the presentation timestamp relative to the start of the stream.
	Time time.Duration
	// Image holds the pixels. Effects never modify it in place.
	Image *image.RGBA
}

// Effect transforms a frame image. Implementations must not mutate src and
// must return either a non-nil image or an error.
type Effect interface {
	Apply(src *image.RGBA) (*image.RGBA, error)
}

// EffectFunc adapts a function to the Effect interface.
type EffectFunc func(src *image.RGBA) (*image.RGBA, error)

// Apply calls f(src).
func (f EffectFunc) Apply(src *image.RGBA) (*image.RGBA, error) {
	return f(src)
}

var registry = map[Spec]Effect{
	Noir: NewNoir(),
}

// Lookup returns the effect registered under spec.
func Lookup(spec Spec) (Effect, error) {
	e, ok := registry[spec]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpec, spec)
	}
	return e, nil
}

// Evaluate applies e to f. If the effect fails or yields no image the original
// frame is returned as is.
func Evaluate(e Effect, f Frame) Frame {
	if e == nil || f.Image == nil {
		return f
	}
	out, err := e.Apply(f.Image)
	if err != nil || out == nil {
		return f
	}
	return Frame{Index: f.Index, Time: f.Time, Image: out}
}

// Func returns Evaluate bound to the effect named by spec. Unknown specs yield
// the identity function, which is the fallback every frame would take anyway.
func Func(spec Spec) func(Frame) Frame {
	e, err := Lookup(spec)
	if err != nil {
		return func(f Frame) Frame { return f }
	}
	return func(f Frame) Frame { return Evaluate(e, f) }
}
