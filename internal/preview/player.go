// Package preview plays a composition onto a rendering surface in a loop.
package preview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/filteredvideo/internal/composition"
	"github.com/maauso/filteredvideo/internal/filter"
)

// Surface displays rendered frames.
type Surface interface {
	Render(f filter.Frame)
	// Clear removes whatever the surface is showing.
	Clear()
}

// EndFunc is called from the player goroutine when playback reaches the end of
// the composition. ctx is done once the player is stopped.
type EndFunc func(ctx context.Context, p *Player)

// Options configure a Player.
type Options struct {
	// Realtime paces rendering at the presentation timestamps of the frames.
	// When false, frames are rendered as fast as they are decoded.
	Realtime bool
	// OnEnd is invoked once each time the end of the composition is reached.
	OnEnd  EndFunc
	Logger *slog.Logger
}

// Player renders a composition onto a surface. It starts paused.
// After the end is reached it waits for SeekToStart.
type Player struct {
	src      composition.Source
	surface  Surface
	realtime bool
	onEnd    EndFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	playing  bool
	rewind   bool
	atEnd    bool
	failed   bool
	stopped  bool
	position time.Duration
	rendered int
}

// NewPlayer attaches a paused player for src to surface.
func NewPlayer(src composition.Source, surface Surface, opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		src:      src,
		surface:  surface,
		realtime: opts.Realtime,
		onEnd:    opts.OnEnd,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// Play resumes playback.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	p.cond.Broadcast()
}

// Pause holds playback on the current frame.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// SeekToStart moves playback back to the first frame. The playing state is kept.
func (p *Player) SeekToStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rewind = true
	p.atEnd = false
	p.failed = false
	p.position = 0
	p.cond.Broadcast()
}

// Position returns the presentation time of the last rendered frame.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Playing reports whether playback is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Rendered returns the number of frames rendered so far.
func (p *Player) Rendered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendered
}

// Stop tears the player down and clears the surface. It returns once the player
// can no longer render. Stop is idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.playing = false
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

func (p *Player) run() {
	var stream composition.Stream
	defer func() {
		if stream != nil {
			_ = stream.Close()
		}
		p.surface.Clear()
		close(p.done)
	}()

	var base time.Time
	resync := true

	for {
		p.mu.Lock()
		for !p.stopped && (!p.playing || ((p.atEnd || p.failed) && !p.rewind)) {
			resync = true
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		if p.rewind {
			p.rewind = false
			if stream != nil {
				_ = stream.Close()
				stream = nil
			}
			resync = true
		}
		p.mu.Unlock()

		if stream == nil {
			s, err := p.src.Open(p.ctx)
			if err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.logger.Error("preview open failed",
					slog.String("source", p.src.Reference().Path),
					slog.String("error", err.Error()),
				)
				p.mu.Lock()
				p.failed = true
				p.mu.Unlock()
				continue
			}
			stream = s
		}

		frame, err := stream.Next()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("preview decode stopped early",
					slog.String("source", p.src.Reference().Path),
					slog.String("error", err.Error()),
				)
			}
			p.mu.Lock()
			p.atEnd = true
			p.mu.Unlock()
			if p.onEnd != nil {
				p.onEnd(p.ctx, p)
			}
			continue
		}

		if p.realtime {
			if resync {
				base = time.Now().Add(-frame.Time)
				resync = false
			}
			if !p.sleepUntil(base.Add(frame.Time)) {
				return
			}
		}

		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		if p.rewind {
			// A seek arrived while this frame was pending.
			p.mu.Unlock()
			continue
		}
		p.position = frame.Time
		p.rendered++
		p.mu.Unlock()

		p.surface.Render(frame)
	}
}

func (p *Player) sleepUntil(t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}
