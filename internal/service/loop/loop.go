// Package loop provides a single-goroutine event loop.
//
// Every function posted to a Loop runs on the same goroutine, one at a time
// and to completion, in the order it was posted. State touched only from
// posted functions needs no locking.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrClosed is returned when posting to a loop that has been closed.
var ErrClosed = errors.New("event loop closed")

// Loop runs posted functions sequentially.
type Loop struct {
	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
	// timers counts scheduled timers that have neither run nor been stopped.
	timers atomic.Int64
}

// New creates a loop with the given queue capacity.
func New(capacity int, log zerolog.Logger) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	return &Loop{
		queue: make(chan func(), capacity),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run executes posted functions until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("Recovered panic in event loop")
		}
	}()
	fn()
}

// Post queues fn. It returns false if the loop is closed. Post blocks while
// the queue is full, so it must not be called from the loop goroutine when
// the queue may be saturated.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do posts fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop. Queued functions that have not started are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timers returns how many timers are scheduled and neither run nor stopped.
func (l *Loop) Timers() int {
	return int(l.timers.Load())
}

// Timer is a cancelable scheduled function.
type Timer struct {
	l       *Loop
	t       *time.Timer
	stopped atomic.Bool
	settled atomic.Bool
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{l: l}
	l.timers.Add(1)
	tm.t = time.AfterFunc(d, func() {
		posted := l.Post(func() {
			tm.settle()
			if tm.stopped.Load() {
				return
			}
			fn()
		})
		if !posted {
			tm.settle()
		}
	})
	return tm
}

func (t *Timer) settle() {
	if t.settled.CompareAndSwap(false, true) {
		t.l.timers.Add(-1)
	}
}

// Stop cancels the timer. Once Stop returns, fn will not run even if the
// timer already fired and its callback is waiting in the queue. Stop is safe
// on a nil timer and may be called more than once.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.t.Stop()
	t.settle()
}
