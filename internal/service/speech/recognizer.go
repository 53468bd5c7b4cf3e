// Package speech turns a continuous recognition stream into discrete,
// time-bounded conversation events.
package speech

import (
	"context"
	"errors"
)

// Errors surfaced by the speech session.
var (
	// ErrUnsupported means the host has no recognition capability. It is
	// terminal: voice input stays disabled for the rest of the run.
	ErrUnsupported = errors.New("speech recognition is not available on this host")
	// ErrNoSpeech is the platform's "nothing was said" condition. It is not
	// a failure; recognizers may report it as Failure{Err: ErrNoSpeech} and
	// the session treats that like NoSpeech.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrSessionClosed is returned by Start after Close.
	ErrSessionClosed = errors.New("speech session closed")
	// ErrNotStreaming is returned by AudioSink.SendAudio while no listen
	// window is open.
	ErrNotStreaming = errors.New("no recognition stream open")
)

// RuntimeError is a transient recognizer failure. Its message is shown to
// the user as is.
type RuntimeError struct {
	Kind string
	Err  error
}

func (e *RuntimeError) Error() string {
	return "Error: " + e.Kind
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Config is handed to the recognizer on every start.
type Config struct {
	Continuous     bool
	InterimResults bool
	Locale         string
}

// DefaultConfig listens continuously with interim results in en-US.
func DefaultConfig() Config {
	return Config{Continuous: true, InterimResults: true, Locale: "en-US"}
}

// Signal is one message from the recognizer. It is a closed union of
// Results, NoSpeech, Failure and StreamEnded.
type Signal interface {
	signal()
}

// Fragment is one recognized piece of text.
type Fragment struct {
	Text       string
	Final      bool
	Confidence float64
}

// Results carries a batch of fragments received since the previous batch.
type Results struct {
	Fragments []Fragment
}

// NoSpeech reports that the recognizer heard nothing.
type NoSpeech struct{}

// Failure reports a recognizer error. Kind is a short machine-readable tag
// such as "network" or "audio-capture".
type Failure struct {
	Kind string
	Err  error
}

// StreamEnded reports that the recognition stream is over.
type StreamEnded struct{}

func (Results) signal()     {}
func (NoSpeech) signal()    {}
func (Failure) signal()     {}
func (StreamEnded) signal() {}

// Sink receives signals. Recognizers may call it from any goroutine.
type Sink func(Signal)

// Recognizer is the platform recognition capability.
type Recognizer interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Start opens a recognition stream that delivers signals to sink until
	// Stop is called or the stream ends on its own. It must return promptly.
	Start(ctx context.Context, cfg Config, sink Sink) error
	// Stop asks the current stream to halt. The recognizer still reports
	// StreamEnded once the stream is gone. Stop without a stream is a no-op.
	Stop() error
}

// AudioSink is implemented by recognizers that are fed audio by the service
// rather than capturing it themselves.
type AudioSink interface {
	SendAudio(ctx context.Context, audio []byte) error
}
