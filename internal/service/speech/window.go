package speech

import "fmt"

// WindowState is the lifecycle state of a listen window.
type WindowState int

const (
	// WindowOpen - Listening, no terminal signal yet.
	WindowOpen WindowState = iota
	// WindowResolved - A transcript or a no-speech signal won the window.
	WindowResolved
	// WindowClosed - The window ended normally.
	WindowClosed
	// WindowDropped - A recognizer error abandoned the window. No event was
	// emitted and none will be.
	WindowDropped
)

// String returns the string representation of the state.
func (s WindowState) String() string {
	switch s {
	case WindowOpen:
		return "OPEN"
	case WindowResolved:
		return "RESOLVED"
	case WindowClosed:
		return "CLOSED"
	case WindowDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s WindowState) IsTerminal() bool {
	return s == WindowClosed || s == WindowDropped
}

// Window tracks one start()..stop() span of listening. It guarantees that at
// most one terminal event (transcript, platform no-speech or silence timeout)
// is emitted for the span, whichever source fires first.
//
// State transitions:
//
//	OPEN → RESOLVED → CLOSED
//	  │
//	  ├── Close() ──→ CLOSED
//	  └── Drop()  ──→ DROPPED
//
// A Window is owned by its session's loop and is not safe for concurrent use.
type Window struct {
	id      string
	state   WindowState
	outcome string
}

// NewWindow creates an OPEN window.
func NewWindow(id string) *Window {
	return &Window{id: id, state: WindowOpen}
}

// ID returns the window ID.
func (w *Window) ID() string {
	return w.id
}

// State returns the current state.
func (w *Window) State() WindowState {
	return w.state
}

// Outcome returns what resolved or ended the window, empty while open.
func (w *Window) Outcome() string {
	return w.outcome
}

// Resolve claims the window's single terminal event. It returns true only
// for the first caller while the window is OPEN.
func (w *Window) Resolve(outcome string) bool {
	if w.state != WindowOpen {
		return false
	}
	w.state = WindowResolved
	w.outcome = outcome
	return true
}

// Close ends the window. It returns true if the window was still OPEN, i.e.
// it closed without any terminal event. Idempotent.
func (w *Window) Close(outcome string) bool {
	if w.state.IsTerminal() {
		return false
	}
	wasOpen := w.state == WindowOpen
	if wasOpen {
		w.outcome = outcome
	}
	w.state = WindowClosed
	return wasOpen
}

// Drop abandons the window after an error. Returns true if the window was
// dropped, false if it was already terminal.
func (w *Window) Drop(reason string) bool {
	if w.state.IsTerminal() {
		return false
	}
	w.state = WindowDropped
	w.outcome = reason
	return true
}

// WindowIDs generates listen window IDs scoped to a conversation session.
// Like Window, it is used only from the session's loop.
type WindowIDs struct {
	counter uint64
}

// NewWindowIDs creates a generator starting at 1.
func NewWindowIDs() *WindowIDs {
	return &WindowIDs{}
}

// Next returns the next window ID for sessionId.
func (g *WindowIDs) Next(sessionId string) string {
	g.counter++
	return fmt.Sprintf("%s-win-%d", sessionId, g.counter)
}
