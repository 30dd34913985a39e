package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"

	"github.com/maauso/filteredvideo/internal/filter"
)

// DefaultJPEGQuality is used when NewMJPEGSurface is given a quality outside 1-100.
const DefaultJPEGQuality = 80

// Compile-time check that MJPEGSurface implements Surface.
var _ Surface = (*MJPEGSurface)(nil)

// MJPEGSurface encodes rendered frames as JPEG and fans them out to subscribers.
// Frames are only encoded while someone is subscribed. Slow subscribers miss
// frames instead of holding up rendering.
type MJPEGSurface struct {
	quality int

	mu       sync.Mutex
	subs     map[int]chan []byte
	nextID   int
	last     *image.RGBA
	lastJPEG []byte
	rendered int
}

// NewMJPEGSurface creates an empty surface.
func NewMJPEGSurface(quality int) *MJPEGSurface {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &MJPEGSurface{
		quality: quality,
		subs:    make(map[int]chan []byte),
	}
}

// Render shows f.
func (s *MJPEGSurface) Render(f filter.Frame) {
	if f.Image == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = f.Image
	s.lastJPEG = nil
	s.rendered++
	if len(s.subs) == 0 {
		return
	}
	data := s.encodeLocked()
	if data == nil {
		return
	}
	for _, ch := range s.subs {
		offer(ch, data)
	}
}

// Clear drops the current frame, including any not yet taken by a subscriber.
func (s *MJPEGSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	s.lastJPEG = nil
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
	}
}

// Rendered returns the number of frames rendered since creation.
func (s *MJPEGSurface) Rendered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

// Subscribe returns a channel of JPEG images. The current frame, if any, is
// delivered first. The returned cancel func closes the channel.
func (s *MJPEGSurface) Subscribe() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan []byte, 1)
	if s.last != nil {
		if data := s.encodeLocked(); data != nil {
			ch <- data
		}
	}
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *MJPEGSurface) encodeLocked() []byte {
	if s.lastJPEG != nil {
		return s.lastJPEG
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.last, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil
	}
	s.lastJPEG = buf.Bytes()
	return s.lastJPEG
}

// offer replaces any undelivered frame in ch with data.
func offer(ch chan []byte, data []byte) {
	select {
	case ch <- data:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- data:
	default:
	}
}
