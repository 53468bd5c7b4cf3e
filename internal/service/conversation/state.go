// Package conversation holds the avatar's dialogue state machine.
package conversation

import "fmt"

// State is the dialogue phase whose clip is currently playing.
type State int

const (
	// StateIdle - Avatar waits for the user to start a chat. Looping.
	StateIdle State = iota
	// StateGreeting - Avatar greets the user. Plays once.
	StateGreeting
	// StateListening - Avatar listens while recognition runs. Looping.
	StateListening
	// StatePrompt - Avatar nudges a silent user. Plays once.
	StatePrompt
	// StateResponse - Avatar answers; the clip depends on the Category. Plays once.
	StateResponse
	// StateGoodbye - Avatar says goodbye. Plays once, then back to IDLE.
	StateGoodbye

	numStates
)

// States lists every state in declaration order.
var States = [numStates]State{
	StateIdle, StateGreeting, StateListening, StatePrompt, StateResponse, StateGoodbye,
}

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGreeting:
		return "GREETING"
	case StateListening:
		return "LISTENING"
	case StatePrompt:
		return "PROMPT"
	case StateResponse:
		return "RESPONSE"
	case StateGoodbye:
		return "GOODBYE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// IsLooping returns true if the state's clip repeats until an external event
// forces a change (IDLE and LISTENING).
func (s State) IsLooping() bool {
	switch s {
	case StateIdle, StateListening:
		return true
	case StateGreeting, StatePrompt, StateResponse, StateGoodbye:
		return false
	default:
		return false
	}
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	return s >= StateIdle && s < numStates
}

// ParseState parses the String form of a state.
func ParseState(name string) (State, bool) {
	for _, s := range States {
		if s.String() == name {
			return s, true
		}
	}
	return StateIdle, false
}

// Category selects the response clip. CategoryNone means "no category" and is
// the only value allowed outside RESPONSE.
type Category int

const (
	CategoryNone Category = iota
	CategoryGeneral
	CategoryWeather
	CategoryFallback
	CategoryGreeting
	CategoryPrompt

	numCategories
)

// Categories lists every real category (CategoryNone excluded).
var Categories = [numCategories - 1]Category{
	CategoryGeneral, CategoryWeather, CategoryFallback, CategoryGreeting, CategoryPrompt,
}

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return ""
	case CategoryGeneral:
		return "GENERAL"
	case CategoryWeather:
		return "WEATHER"
	case CategoryFallback:
		return "FALLBACK"
	case CategoryGreeting:
		return "GREETING"
	case CategoryPrompt:
		return "PROMPT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
}

// Valid reports whether c is a real category.
func (c Category) Valid() bool {
	return c > CategoryNone && c < numCategories
}

// ParseCategory parses the String form of a category.
func ParseCategory(name string) (Category, bool) {
	for _, c := range Categories {
		if c.String() == name {
			return c, true
		}
	}
	return CategoryNone, false
}

// TransitionTable maps each state to its natural successor once its clip has
// finished. The entries of looping states are never consulted by ClipFinished.
type TransitionTable [numStates]State

// DefaultTransitions is the dialogue's natural flow.
var DefaultTransitions = TransitionTable{
	StateIdle:      StateGreeting,
	StateGreeting:  StateListening,
	StateListening: StateResponse,
	StatePrompt:    StateListening,
	StateResponse:  StateListening,
	StateGoodbye:   StateIdle,
}

// Next returns the natural successor of s. Unknown states map to IDLE.
func (t TransitionTable) Next(s State) State {
	if !s.Valid() {
		return StateIdle
	}
	return t[s]
}
