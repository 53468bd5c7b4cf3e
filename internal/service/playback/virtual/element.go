// Package virtual implements an in-process playback element that simulates
// clip playback with timers. It backs the simulator and the tests.
package virtual

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Options configures simulated clips.
type Options struct {
	// Durations overrides the clip length per locator.
	Durations map[string]time.Duration
	// DefaultDuration is used for locators missing from Durations.
	DefaultDuration time.Duration
	// PlayError, when set, decides whether Play fails for a locator.
	PlayError func(locator string) error
}

// State is a point-in-time view of an element, for assertions.
type State struct {
	Locator  string
	Loop     bool
	Muted    bool
	Playing  bool
	Loaded   bool
	Opacity  float64
	Plays    int
	// Position is the simulated playhead.
	Position time.Duration
	Seeks    int
}

// Element simulates one media element.
type Element struct {
	name string
	opts Options

	mu       sync.Mutex
	locator  string
	loop     bool
	muted    bool
	loaded   bool
	playing  bool
	opacity  float64
	plays    int
	seeks    int
	// position is the playhead as of since; it advances while playing.
	position time.Duration
	since    time.Time
	ended    func()
	timer    *time.Timer
	gen      uint64
}

// New creates a hidden, paused element.
func New(name string, opts Options) *Element {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 4 * time.Second
	}
	return &Element{name: name, opts: opts}
}

func (e *Element) SetSource(locator string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.locator = locator
	e.loaded = false
	e.position = 0
}

func (e *Element) SetLoop(loop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loop = loop
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

func (e *Element) Load() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.loaded = true
	e.position = 0
}

// Play starts the simulated clip. Non-looping clips fire the ended callback
// after their duration.
func (e *Element) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locator == "" {
		return fmt.Errorf("%s: no source", e.name)
	}
	if e.opts.PlayError != nil {
		if err := e.opts.PlayError(e.locator); err != nil {
			return err
		}
	}

	e.stopLocked()
	if !e.loop && e.position >= e.durationLocked() {
		e.position = 0
	}
	e.plays++
	e.startLocked()
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Seek moves the playhead. A playing clip keeps playing from there.
func (e *Element) Seek(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	e.seeks++
	playing := e.playing
	e.stopLocked()
	e.position = pos
	if playing {
		e.startLocked()
	}
}

func (e *Element) SetOpacity(opacity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opacity = opacity
}

func (e *Element) OnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended = fn
}

// Finish ends the current clip immediately, as if it reached its end.
// Looping or paused clips are unaffected.
func (e *Element) Finish() {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	e.finish(gen)
}

// Snapshot returns the element's current state.
func (e *Element) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Locator:  e.locator,
		Loop:     e.loop,
		Muted:    e.muted,
		Playing:  e.playing,
		Loaded:   e.loaded,
		Opacity:  e.opacity,
		Plays:    e.plays,
		Position: e.positionLocked(),
		Seeks:    e.seeks,
	}
}

func (e *Element) finish(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || !e.playing || e.loop {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.playing = false
	e.timer = nil
	e.position = e.durationLocked()
	ended := e.ended
	e.mu.Unlock()

	if ended != nil {
		ended()
	}
}

// startLocked plays from the current position. Non-looping clips end after
// the remaining duration.
func (e *Element) startLocked() {
	e.playing = true
	e.since = time.Now()
	if !e.loop {
		gen := e.gen
		remaining := e.durationLocked() - e.position
		e.timer = time.AfterFunc(max(remaining, 0), func() { e.finish(gen) })
	}
}

func (e *Element) positionLocked() time.Duration {
	pos := e.position
	if e.playing {
		pos += time.Since(e.since)
	}
	if d := e.durationLocked(); e.loop && d > 0 {
		pos %= d
	} else if pos > d {
		pos = d
	}
	return pos
}

// stopLocked halts playback, keeping the playhead, and invalidates any
// pending end.
func (e *Element) stopLocked() {
	e.position = e.positionLocked()
	e.gen++
	e.playing = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Element) durationLocked() time.Duration {
	if d, ok := e.opts.Durations[e.locator]; ok && d > 0 {
		return d
	}
	return e.opts.DefaultDuration
}
