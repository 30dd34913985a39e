// Package events fans session notifications out to subscribers.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// SourceChanged is published after a new source has been attached to the preview.
	SourceChanged Type = "source.changed"
	// ExportStarted is published when an export job enters RUNNING.
	ExportStarted Type = "export.started"
	// ExportSettled is published when an export job reaches a terminal state.
	ExportSettled Type = "export.settled"
	// LibrarySaved is published after an export was written to the media library.
	LibrarySaved Type = "library.saved"
	// Alert asks the client to show a one-button dialog.
	Alert Type = "alert"
	// PreviewLooped is published each time the preview rewinds to the start.
	PreviewLooped Type = "preview.looped"
)

// Event is a single notification.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// AlertData is the payload of an Alert event.
type AlertData struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Button  string `json:"button"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Hub broadcasts events. Publishing never blocks: a subscriber whose queue is
// full loses the event.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewHub creates a Hub with buffer slots per subscriber.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[int]chan Event)}
}

// Publish sends e to every subscriber. A zero Time is set to now.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber. The cancel func unregisters it and closes
// the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
