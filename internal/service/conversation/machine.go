package conversation

import (
	"errors"
	"fmt"
)

// Errors for invalid machine operations.
var (
	ErrLoopingState   = errors.New("looping state has no natural end")
	ErrAlreadyStarted = errors.New("conversation already started")
)

// SpeechKind distinguishes the two speech events the machine understands.
type SpeechKind int

const (
	// SpeechTranscript - A finalized, classified transcript.
	SpeechTranscript SpeechKind = iota
	// SpeechPrompt - No speech arrived (platform no-speech or silence timeout).
	SpeechPrompt
)

func (k SpeechKind) String() string {
	switch k {
	case SpeechTranscript:
		return "transcript"
	case SpeechPrompt:
		return "prompt"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// SpeechEvent is what the speech session hands to the machine.
type SpeechEvent struct {
	Kind       SpeechKind
	Category   Category
	Transcript string
	// Goodbye is set when the transcript carries farewell intent. It wins over
	// every other classification.
	Goodbye bool
	// Confidence is the recognizer's lowest confidence across the final
	// fragments, zero when the provider reports none.
	Confidence float64
}

// Reason explains why a transition happened.
type Reason string

const (
	ReasonStart        Reason = "start"
	ReasonClipFinished Reason = "clip_finished"
	ReasonGoodbye      Reason = "goodbye"
	ReasonPrompt       Reason = "prompt"
	ReasonTranscript   Reason = "transcript"
	ReasonIgnored      Reason = "ignored"
)

// Transition describes the outcome of one machine operation. The machine never
// performs side effects; the caller applies them.
type Transition struct {
	From     State
	To       State
	Category Category
	Reason   Reason
	// StopSpeech asks the caller to stop the active speech session.
	StopSpeech bool
	// Changed is false for no-ops.
	Changed bool
}

// Machine owns the (state, category) pair. It is not safe for concurrent use;
// the director drives it from its event loop.
//
// State transitions:
//
//	IDLE ──Begin──→ GREETING ──end──→ LISTENING ──transcript──→ RESPONSE ──end──┐
//	  ↑                                  │  ↑                                    │
//	  │                                  │  └────────────────────────────────────┘
//	  │                                  └──prompt──→ PROMPT ──end──→ LISTENING
//	  └──end── GOODBYE ←──goodbye (from any state)
type Machine struct {
	table    TransitionTable
	state    State
	category Category
}

// NewMachine creates a machine in IDLE using the given table.
func NewMachine(table TransitionTable) *Machine {
	return &Machine{table: table, state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Category returns the current response category (CategoryNone outside RESPONSE).
func (m *Machine) Category() Category { return m.category }

// Snapshot returns the current (state, category) pair.
func (m *Machine) Snapshot() (State, Category) { return m.state, m.category }

// Begin starts a chat from IDLE.
func (m *Machine) Begin() (Transition, error) {
	if m.state != StateIdle {
		return m.noop(), fmt.Errorf("%w: state is %s", ErrAlreadyStarted, m.state)
	}
	return m.move(m.table.Next(StateIdle), CategoryNone, ReasonStart, false), nil
}

// ClipFinished advances a transient state to its natural successor.
// Looping states never reach a natural end, so calling it there is a caller
// bug and nothing changes.
func (m *Machine) ClipFinished() (Transition, error) {
	if m.state.IsLooping() {
		return m.noop(), fmt.Errorf("%w: %s", ErrLoopingState, m.state)
	}
	return m.move(m.table.Next(m.state), CategoryNone, ReasonClipFinished, false), nil
}

// OnSpeech applies a speech event. Goodbye intent is honoured in any state;
// everything else only while LISTENING.
func (m *Machine) OnSpeech(ev SpeechEvent) Transition {
	if ev.Goodbye {
		return m.move(StateGoodbye, CategoryNone, ReasonGoodbye, true)
	}
	if m.state != StateListening {
		return m.noop()
	}

	switch ev.Kind {
	case SpeechPrompt:
		return m.move(StatePrompt, CategoryNone, ReasonPrompt, true)
	case SpeechTranscript:
		if !ev.Category.Valid() {
			return m.noop()
		}
		return m.move(StateResponse, ev.Category, ReasonTranscript, true)
	default:
		return m.noop()
	}
}

func (m *Machine) move(to State, category Category, reason Reason, stopSpeech bool) Transition {
	if to != StateResponse {
		category = CategoryNone
	}
	tr := Transition{
		From:       m.state,
		To:         to,
		Category:   category,
		Reason:     reason,
		StopSpeech: stopSpeech,
		Changed:    m.state != to || m.category != category,
	}
	m.state = to
	m.category = category
	return tr
}

func (m *Machine) noop() Transition {
	return Transition{
		From:     m.state,
		To:       m.state,
		Category: m.category,
		Reason:   ReasonIgnored,
	}
}
