// Package crossfade presents a continuous clip stream over two playback
// elements, swapping the media source behind a short crossfade.
package crossfade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/loop"
	"virtual-avatar-service/internal/service/playback"
)

// ErrPlaybackStart is reported when the incoming slot fails to start playing.
// The transition is aborted and the previous clip stays visible.
var ErrPlaybackStart = errors.New("playback start failed")

// Config holds the engine timings.
type Config struct {
	// SettleDelay separates loading the incoming clip from the play attempt.
	SettleDelay time.Duration
	// Hold is how long both slots may be partially visible before the old
	// slot is reclaimed.
	Hold time.Duration
	// PlayTimeout bounds a single play attempt.
	PlayTimeout time.Duration
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay: 100 * time.Millisecond,
		Hold:        300 * time.Millisecond,
		PlayTimeout: 5 * time.Second,
	}
}

// Options configures an Engine.
type Options struct {
	Config Config
	// OnFinished is called on the loop when the visible non-looping clip ends.
	OnFinished func()
	// OnError is called on the loop with ErrPlaybackStart failures.
	OnError func(error)
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

type slot struct {
	el      playback.Element
	locator string
	looping bool
	opacity float64
}

// transition is one in-flight request. The engine keeps at most one; a newer
// request replaces it, and continuations of the old one see that they are no
// longer pending and return.
type transition struct {
	target  int
	locator string
	loop    bool
	started time.Time
	// window is set once the incoming slot plays and both opacities flipped.
	window bool
	// endedEarly records that the incoming clip ended before the swap.
	endedEarly bool
}

// Engine owns the two playback slots. Every method must be called on the
// loop goroutine; element callbacks are posted to the loop internally.
//
// Overlapping requests supersede each other. A request that arrives while
// the previous crossfade window is open first completes that crossfade, so
// the slot that is already visible is never reloaded.
type Engine struct {
	loop    *loop.Loop
	cfg     Config
	slots   [2]slot
	active  int
	pending *transition
	settle  *loop.Timer
	hold    *loop.Timer
	closed  bool

	onFinished func()
	onError    func(error)
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New creates an engine over two elements. Slot 0 starts visible.
func New(lp *loop.Loop, a, b playback.Element, opts Options) *Engine {
	cfg := opts.Config
	def := DefaultConfig()
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Hold < 0 {
		cfg.Hold = 0
	}
	if cfg.PlayTimeout <= 0 {
		cfg.PlayTimeout = def.PlayTimeout
	}

	e := &Engine{
		loop:       lp,
		cfg:        cfg,
		onFinished: opts.OnFinished,
		onError:    opts.OnError,
		metrics:    opts.Metrics,
	}
	if e.metrics == nil {
		e.metrics = metrics.DefaultMetrics
	}
	if opts.Logger != nil {
		e.log = *opts.Logger
	} else {
		e.log = logging.WithComponent("crossfade")
	}

	e.slots[0].el = a
	e.slots[1].el = b
	for i := range e.slots {
		idx := i
		e.slots[i].el.OnEnded(func() {
			lp.Post(func() { e.NotifyEnded(idx) })
		})
	}
	e.setOpacity(0, 1)
	e.setOpacity(1, 0)
	return e
}

// Show presents locator in the visible slot without a crossfade. It is used
// for the first clip, before any transition has happened.
func (e *Engine) Show(locator string, loop bool) {
	if e.closed {
		return
	}
	e.abandon()

	idx := e.active
	s := &e.slots[idx]
	s.locator = locator
	s.looping = loop
	s.el.SetSource(locator)
	s.el.SetLoop(loop)
	s.el.SetMuted(false)
	s.el.Load()
	e.setOpacity(idx, 1)
	e.setOpacity(1-idx, 0)

	e.play(s.el, func(err error) {
		if err == nil || e.closed || e.slots[idx].locator != locator {
			return
		}
		e.fail(locator, err)
	})
}

// TransitionTo crossfades to locator. Requesting the clip that is already the
// target is a no-op.
func (e *Engine) TransitionTo(locator string, loop bool) {
	if e.closed {
		return
	}
	if locator == e.Target() {
		return
	}

	if e.pending != nil {
		if e.pending.window {
			e.complete(false)
		} else {
			e.abandon()
		}
	}
	if locator == e.slots[e.active].locator {
		return
	}

	tr := &transition{
		target:  1 - e.active,
		locator: locator,
		loop:    loop,
		started: time.Now(),
	}
	e.pending = tr

	s := &e.slots[tr.target]
	s.locator = locator
	s.looping = loop
	s.el.SetSource(locator)
	s.el.SetLoop(loop)
	s.el.SetMuted(false)
	s.el.Load()

	e.log.Debug().
		Str("locator", locator).
		Bool("loop", loop).
		Int("slot", tr.target).
		Msg("Transition started")

	e.settle = e.loop.AfterFunc(e.cfg.SettleDelay, func() {
		if tr != e.pending {
			return
		}
		e.settle = nil
		e.play(e.slots[tr.target].el, func(err error) { e.played(tr, err) })
	})
}

// NotifyEnded handles the natural end of the clip in slot idx. Only the
// visible, non-looping slot can finish a clip; anything else is stale.
func (e *Engine) NotifyEnded(idx int) {
	if e.closed || idx < 0 || idx > 1 {
		return
	}

	if tr := e.pending; tr != nil {
		// The visible clip is being replaced, so its end no longer matters.
		// The incoming clip may be short enough to end before the swap.
		if idx == tr.target && !e.slots[idx].looping {
			tr.endedEarly = true
		}
		return
	}

	if idx != e.active || e.slots[idx].looping {
		return
	}
	e.finished()
}

// Close cancels pending timers and pauses both slots. Late element callbacks
// become no-ops.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.settle.Stop()
	e.hold.Stop()
	e.settle, e.hold = nil, nil
	e.pending = nil
	for i := range e.slots {
		e.slots[i].el.Pause()
	}
}

// Target returns the locator the engine is showing or moving to.
func (e *Engine) Target() string {
	if e.pending != nil {
		return e.pending.locator
	}
	return e.slots[e.active].locator
}

// ActiveIndex returns the visible slot.
func (e *Engine) ActiveIndex() int { return e.active }

// Visibility returns both slot opacities.
func (e *Engine) Visibility() [2]float64 {
	return [2]float64{e.slots[0].opacity, e.slots[1].opacity}
}

// InWindow reports whether a crossfade window is open.
func (e *Engine) InWindow() bool {
	return e.pending != nil && e.pending.window
}

// Pending reports whether a transition is in flight.
func (e *Engine) Pending() bool { return e.pending != nil }

// play starts el off the loop and posts the result back.
func (e *Engine) play(el playback.Element, done func(error)) {
	timeout := e.cfg.PlayTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := el.Play(ctx)
		cancel()
		e.loop.Post(func() { done(err) })
	}()
}

func (e *Engine) played(tr *transition, err error) {
	if e.closed || tr != e.pending {
		return
	}

	if err != nil {
		s := &e.slots[tr.target]
		s.el.Pause()
		s.el.Seek(0)
		s.locator = ""
		s.looping = false
		e.pending = nil
		e.metrics.RecordCrossfade("failed", 0)
		e.fail(tr.locator, err)
		return
	}

	e.setOpacity(tr.target, 1)
	e.setOpacity(1-tr.target, 0)
	tr.window = true
	e.hold = e.loop.AfterFunc(e.cfg.Hold, func() {
		if tr != e.pending {
			return
		}
		e.hold = nil
		e.complete(true)
	})
}

// complete swaps the active slot and reclaims the old one. notify fires the
// finished callback for an incoming clip that already ended; a superseding
// request passes false because that clip is being replaced anyway.
func (e *Engine) complete(notify bool) {
	tr := e.pending
	e.pending = nil
	e.hold.Stop()
	e.hold = nil

	old := e.active
	e.active = tr.target
	e.slots[old].el.Pause()
	e.slots[old].el.Seek(0)

	e.metrics.RecordCrossfade("completed", time.Since(tr.started).Seconds())
	e.log.Debug().
		Str("locator", tr.locator).
		Int("activeSlot", e.active).
		Dur("elapsed", time.Since(tr.started)).
		Msg("Transition completed")

	if notify && tr.endedEarly {
		e.finished()
	}
}

// abandon drops an in-flight transition whose window has not opened. The
// incoming slot is still hidden, so it is simply stopped.
func (e *Engine) abandon() {
	tr := e.pending
	if tr == nil {
		return
	}
	e.pending = nil
	e.settle.Stop()
	e.hold.Stop()
	e.settle, e.hold = nil, nil

	s := &e.slots[tr.target]
	s.el.Pause()
	s.el.Seek(0)
	s.locator = ""
	s.looping = false

	e.metrics.RecordCrossfade("superseded", 0)
	e.log.Debug().Str("locator", tr.locator).Msg("Transition superseded")
}

func (e *Engine) finished() {
	e.metrics.RecordClipFinished()
	if e.onFinished != nil {
		e.onFinished()
	}
}

func (e *Engine) fail(locator string, err error) {
	e.metrics.RecordPlaybackFailure()
	e.log.Warn().Err(err).Str("locator", locator).Msg("Playback failed to start, keeping previous clip")
	if e.onError != nil {
		e.onError(fmt.Errorf("%w: %s: %w", ErrPlaybackStart, locator, err))
	}
}

func (e *Engine) setOpacity(idx int, v float64) {
	e.slots[idx].opacity = v
	e.slots[idx].el.SetOpacity(v)
}
