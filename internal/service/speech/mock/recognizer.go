// Package mock provides a scripted recognizer for the simulator and tests.
// It replays utterances with progressive interim transcripts, exactly one
// final per utterance, and can simulate silence and platform errors.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"virtual-avatar-service/internal/service/speech"
)

// Utterance is one scripted listen window.
type Utterance struct {
	Partials   []string // Progressive interim transcripts
	Final      string   // Final transcript text
	Confidence float64
	// NoSpeech makes the recognizer report the platform no-speech signal.
	NoSpeech bool
	// Mute keeps the stream open without any result, so only the silence
	// watchdog can end the window.
	Mute bool
	// Fail reports a recognizer error of this kind.
	Fail string
}

// DefaultScript walks through a whole conversation.
var DefaultScript = []Utterance{
	{Partials: []string{"hello", "hello there"}, Final: "hello there", Confidence: 0.97},
	{Partials: []string{"what's the", "what's the weather"}, Final: "what's the weather today", Confidence: 0.94},
	{NoSpeech: true},
	{Partials: []string{"tell me", "tell me a story"}, Final: "tell me a story", Confidence: 0.91},
	{Mute: true},
	{Partials: []string{"ok thanks"}, Final: "ok thanks, goodbye", Confidence: 0.98},
}

// Options configures the mock.
type Options struct {
	Script []Utterance
	// StepDelay separates consecutive signals of one utterance.
	StepDelay time.Duration
	// Repeat restarts the script once exhausted; otherwise the remaining
	// windows are mute.
	Repeat bool
}

// Recognizer implements speech.Recognizer and speech.AudioSink.
type Recognizer struct {
	opts Options

	mu     sync.Mutex
	next   int
	cancel context.CancelFunc
	starts int
	frames int
}

// New creates a mock recognizer.
func New(opts Options) *Recognizer {
	if opts.Script == nil {
		opts.Script = DefaultScript
	}
	if opts.StepDelay <= 0 {
		opts.StepDelay = 300 * time.Millisecond
	}
	return &Recognizer{opts: opts}
}

// Name identifies the provider.
func (r *Recognizer) Name() string { return "mock" }

// Start replays the next scripted utterance.
func (r *Recognizer) Start(ctx context.Context, cfg speech.Config, sink speech.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	utt := r.nextLocked()
	sctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.starts++

	go r.play(sctx, cfg, utt, sink)
	return nil
}

// Stop ends the current stream, if any.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return nil
}

// SendAudio accepts pushed audio. The script drives results, so frames are
// only counted.
func (r *Recognizer) SendAudio(ctx context.Context, audio []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames++
	return nil
}

// Starts returns how many streams were started.
func (r *Recognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Frames returns how many audio frames were received.
func (r *Recognizer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recognizer) nextLocked() Utterance {
	if len(r.opts.Script) == 0 {
		return Utterance{Mute: true}
	}
	if r.next >= len(r.opts.Script) {
		if !r.opts.Repeat {
			return Utterance{Mute: true}
		}
		r.next = 0
	}
	utt := r.opts.Script[r.next]
	r.next++
	return utt
}

func (r *Recognizer) play(ctx context.Context, cfg speech.Config, utt Utterance, sink speech.Sink) {
	defer sink(speech.StreamEnded{})

	step := func() bool {
		t := time.NewTimer(r.opts.StepDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	}

	switch {
	case utt.Fail != "":
		if step() {
			sink(speech.Failure{Kind: utt.Fail, Err: fmt.Errorf("simulated %s error", utt.Fail)})
		}
		return
	case utt.NoSpeech:
		if step() {
			sink(speech.NoSpeech{})
		}
		return
	case utt.Mute:
		<-ctx.Done()
		return
	}

	if cfg.InterimResults {
		for _, p := range utt.Partials {
			if !step() {
				return
			}
			sink(speech.Results{Fragments: []speech.Fragment{{Text: p}}})
		}
	}
	if !step() {
		return
	}
	sink(speech.Results{Fragments: []speech.Fragment{{Text: utt.Final, Final: true, Confidence: utt.Confidence}}})

	if cfg.Continuous {
		<-ctx.Done()
	}
}
