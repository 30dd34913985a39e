package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishFansOut(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish(Event{Type: ExportStarted, Data: "export-1"})

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, ExportStarted, e.Type)
		assert.Equal(t, "export-1", e.Data)
		assert.False(t, e.Time.IsZero())
	}
}

func TestHub_PublishKeepsTime(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.Publish(Event{Type: Alert, Time: at})
	assert.Equal(t, at, (<-ch).Time)
}

func TestHub_PublishDoesNotBlock(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(Event{Type: PreviewLooped, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 2)
	assert.Equal(t, 0, (<-ch).Data, "oldest queued events are kept")
}

func TestHub_Cancel(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
	h.Publish(Event{Type: SourceChanged})
}

func TestHub_Close(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()

	h.Close()
	h.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, lateCancel := h.Subscribe()
	defer lateCancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestHub_Concurrent(t *testing.T) {
	h := NewHub(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch, cancel := h.Subscribe()
			defer cancel()
			select {
			case <-ch:
			case <-time.After(10 * time.Millisecond):
			}
		}()
		go func() {
			defer wg.Done()
			h.Publish(Event{Type: LibrarySaved})
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers())
}
