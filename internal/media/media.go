// Package media provides the ffmpeg toolchain used to probe, decode and encode videos.
// Frames cross the process boundary as raw RGBA so filtering happens in Go.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrNotMovie is returned when a reference does not point at a video file.
	ErrNotMovie = errors.New("media is not a movie")
	// ErrNoVideoStream is returned when a file has no decodable video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrInvalidFrameRate is returned when a frame rate cannot be parsed.
	ErrInvalidFrameRate = errors.New("invalid frame rate")
	// ErrFrameSize is returned when a frame does not match the stream dimensions.
	ErrFrameSize = errors.New("frame size does not match stream")
)

// movieExtensions lists the container extensions recognised as movies.
var movieExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".3gp":  true,
}

// Reference is an immutable handle to a source video on disk.
type Reference struct {
	// Path is the absolute location of the video.
	Path string
	// Name is a display name, usually the original file name.
	Name string
}

// NewReference builds a Reference for path, rejecting anything that is not a movie.
func NewReference(path, name string) (Reference, error) {
	if !IsMovie(path) {
		return Reference{}, fmt.Errorf("%w: %s", ErrNotMovie, filepath.Base(path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Reference{}, fmt.Errorf("resolve path: %w", err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	return Reference{Path: abs, Name: name}, nil
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.Path == ""
}

// IsMovie reports whether path has a recognised movie extension.
func IsMovie(path string) bool {
	return movieExtensions[strings.ToLower(filepath.Ext(path))]
}

// Info describes the streams of a probed video.
type Info struct {
	// Duration is the container duration in seconds.
	Duration float64
	Width    int
	Height   int
	// FrameRate is the average frame rate as an ffmpeg rational, e.g. "30000/1001".
	FrameRate string
	HasAudio  bool
	// Rotation is the clockwise display rotation in degrees: 0, 90, 180 or 270.
	// Width and Height are already swapped for 90 and 270.
	Rotation int
}

// FPS returns the frame rate as frames per second, or 0 when unknown.
func (i Info) FPS() float64 {
	fps, err := ParseRate(i.FrameRate)
	if err != nil {
		return 0
	}
	return fps
}

// FrameSize returns the number of bytes in one RGBA frame.
func (i Info) FrameSize() int {
	return i.Width * i.Height * 4
}

// ParseRate converts "num/den" or a decimal string to frames per second.
func ParseRate(rate string) (float64, error) {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0, ErrInvalidFrameRate
	}
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, rate)
	}
	if !found {
		if n <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, rate)
		}
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrameRate, rate)
	}
	return n / d, nil
}

// Prober reads stream information from a video file.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// FrameReader yields decoded frames in presentation order.
// ReadFrame returns io.EOF after the last frame.
type FrameReader interface {
	ReadFrame() (*image.RGBA, error)
	Close() error
}

// FrameWriter encodes frames into an output file.
// Close finalises the file; Abort discards the encode.
type FrameWriter interface {
	WriteFrame(img *image.RGBA) error
	Close() error
	Abort() error
}

// Codec bundles the probing, decoding and encoding capabilities of a toolchain.
type Codec interface {
	Prober
	OpenReader(ctx context.Context, path string, info Info) (FrameReader, error)
	OpenWriter(ctx context.Context, dst string, info Info, audioFrom string) (FrameWriter, error)
}
