package remote

import (
	"context"
	"sync"
	"time"

	"virtual-avatar-service/internal/service/playback"
)

var _ playback.Element = (*Element)(nil)

// Element is one browser-side video slot. It implements playback.Element.
type Element struct {
	hub  *Hub
	slot int

	mu      sync.Mutex
	locator string
	loop    bool
	muted   bool
	playing bool
	opacity float64
	onEnded func()
}

func (e *Element) SetSource(locator string) {
	e.mu.Lock()
	e.locator = locator
	e.playing = false
	e.mu.Unlock()
	e.hub.send(e.command(OpSource, 0))
}

func (e *Element) SetLoop(loop bool) {
	e.mu.Lock()
	e.loop = loop
	e.mu.Unlock()
	e.hub.send(e.command(OpLoop, 0))
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	e.hub.send(e.command(OpMuted, 0))
}

func (e *Element) Load() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.hub.send(e.command(OpLoad, 0))
}

// Play asks the player to start the slot and waits for its answer. Browsers
// may refuse autoplay, which surfaces as ErrPlayRejected.
func (e *Element) Play(ctx context.Context) error {
	id, ack := e.hub.await()
	if !e.hub.send(e.command(OpPlay, id)) {
		e.hub.forget(id)
		return ErrNoPlayer
	}

	select {
	case err := <-ack:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		e.hub.forget(id)
		return ctx.Err()
	}

	e.mu.Lock()
	e.playing = true
	e.mu.Unlock()
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	e.playing = false
	e.mu.Unlock()
	e.hub.send(e.command(OpPause, 0))
}

func (e *Element) Seek(pos time.Duration) {
	cmd := e.command(OpSeek, 0)
	cmd.PositionMs = pos.Milliseconds()
	e.hub.send(cmd)
}

func (e *Element) SetOpacity(opacity float64) {
	e.mu.Lock()
	e.opacity = opacity
	e.mu.Unlock()
	e.hub.send(e.command(OpOpacity, 0))
}

func (e *Element) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// ended handles a natural end reported by the player. Reports for another
// locator belong to a clip that has since been replaced.
func (e *Element) ended(locator string) {
	e.mu.Lock()
	if locator != e.locator || e.loop || !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (e *Element) command(op string, playID uint64) Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Command{
		Op:      op,
		Slot:    e.slot,
		Locator: e.locator,
		Loop:    e.loop,
		Muted:   e.muted,
		Opacity: e.opacity,
		Playing: e.playing,
		PlayID:  playID,
	}
}
