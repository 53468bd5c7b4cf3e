package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/conversation"
	"virtual-avatar-service/internal/service/keyword"
	"virtual-avatar-service/internal/service/loop"
)

// DefaultSilenceTimeout is how long a listen window waits for a final
// transcript before forcing a PROMPT.
const DefaultSilenceTimeout = 8 * time.Second

// Window outcomes, also used as metric labels.
const (
	OutcomeTranscript     = "transcript"
	OutcomeNoSpeech       = "no_speech"
	OutcomeSilenceTimeout = "silence_timeout"
	OutcomeError          = "error"
	OutcomeStopped        = "stopped"
)

// Options configures a Session.
type Options struct {
	SessionID      string
	SilenceTimeout time.Duration
	Recognition    Config
	// Emit receives conversation events on the loop.
	Emit func(conversation.SpeechEvent)
	// OnError receives user-visible errors (*RuntimeError) on the loop.
	OnError func(error)
	Metrics *metrics.Metrics
	Logger  *zerolog.Logger
}

// Session owns one recognizer and turns its signals into conversation
// events. Every method must be called on the loop goroutine; recognizer
// signals are posted to the loop internally.
type Session struct {
	loop *loop.Loop
	rec  Recognizer
	opts Options
	ids  *WindowIDs
	log  zerolog.Logger

	active     bool
	closed     bool
	transcript string
	interim    string
	watchdog   *loop.Timer
	window     *Window
	// gen identifies the current recognition stream; signals from older
	// streams are dropped.
	gen uint64
}

// NewSession creates an inactive session. A nil recognizer means the host
// has no recognition capability and Start fails with ErrUnsupported.
func NewSession(lp *loop.Loop, rec Recognizer, opts Options) *Session {
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = DefaultSilenceTimeout
	}
	if opts.Recognition.Locale == "" {
		opts.Recognition = DefaultConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}

	s := &Session{loop: lp, rec: rec, opts: opts, ids: NewWindowIDs()}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = logging.WithSession("speech", opts.SessionID)
	}
	return s
}

// Supported reports whether a recognizer is available.
func (s *Session) Supported() bool { return s.rec != nil }

// Active reports whether a recognition stream is running.
func (s *Session) Active() bool { return s.active }

// Transcript returns the last final transcript of the current window.
func (s *Session) Transcript() string { return s.transcript }

// Interim returns the latest interim transcript of the current window.
func (s *Session) Interim() string { return s.interim }

// ResetTranscript clears both transcripts.
func (s *Session) ResetTranscript() {
	s.transcript = ""
	s.interim = ""
}

// WindowID returns the current listen window ID, empty when none is open.
func (s *Session) WindowID() string {
	if s.window == nil {
		return ""
	}
	return s.window.ID()
}

// Start opens a listen window, starts the recognizer and arms the silence
// watchdog. It is a no-op while active.
func (s *Session) Start(ctx context.Context) error {
	if s.rec == nil {
		return ErrUnsupported
	}
	if s.closed {
		return ErrSessionClosed
	}
	if s.active {
		return nil
	}

	s.ResetTranscript()
	s.closeWindow()
	s.gen++
	gen := s.gen
	s.window = NewWindow(s.ids.Next(s.opts.SessionID))
	s.opts.Metrics.RecordWindowOpened()

	log := s.windowLog()
	sink := func(sig Signal) {
		s.loop.Post(func() {
			if gen != s.gen {
				return
			}
			s.Handle(sig)
		})
	}

	if err := s.rec.Start(ctx, s.opts.Recognition, sink); err != nil {
		s.window.Drop(OutcomeError)
		s.window = nil
		s.gen++
		s.opts.Metrics.RecordWindowResolved(OutcomeError)
		s.opts.Metrics.RecordRecognizerError(s.rec.Name(), "start")
		log.Error().Err(err).Msg("Recognizer failed to start")
		rerr := &RuntimeError{Kind: "start-failed", Err: err}
		s.report(rerr)
		return rerr
	}

	s.active = true
	// A stream that ended on its own leaves the previous watchdog armed.
	s.watchdog.Stop()
	s.watchdog = s.loop.AfterFunc(s.opts.SilenceTimeout, func() { s.silence(gen) })
	log.Debug().Dur("silenceTimeout", s.opts.SilenceTimeout).Msg("Listening")
	return nil
}

// Stop halts the recognizer and cancels the watchdog. The recognizer is
// only asked to stop while active.
func (s *Session) Stop() {
	s.watchdog.Stop()
	s.watchdog = nil
	s.closeWindow()

	if !s.active {
		return
	}
	s.active = false
	s.gen++
	if err := s.rec.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("Recognizer stop failed")
	}
}

// Close stops the session for good.
func (s *Session) Close() {
	s.Stop()
	s.closed = true
}

// Handle reduces one recognizer signal. Emitted events are always the last
// thing Handle does, so the receiver may call back into the session.
func (s *Session) Handle(sig Signal) {
	switch v := sig.(type) {
	case Results:
		s.handleResults(v)
	case NoSpeech:
		s.handleNoSpeech()
	case Failure:
		if errors.Is(v.Err, ErrNoSpeech) {
			s.handleNoSpeech()
			return
		}
		s.handleFailure(v)
	case StreamEnded:
		// The watchdog stays armed so a stream that ends in silence still
		// produces a PROMPT.
		s.active = false
		s.windowLog().Debug().Msg("Recognition stream ended")
	}
}

func (s *Session) handleResults(r Results) {
	var final, interim strings.Builder
	confidence := 0.0
	for _, f := range r.Fragments {
		if f.Final {
			final.WriteString(f.Text)
			if f.Confidence > 0 && (confidence == 0 || f.Confidence < confidence) {
				confidence = f.Confidence
			}
		} else {
			interim.WriteString(f.Text)
		}
	}

	if text := strings.TrimSpace(interim.String()); text != "" {
		s.interim = text
		s.opts.Metrics.RecordInterimTranscript()
	}

	text := strings.TrimSpace(final.String())
	if text == "" {
		return
	}
	if s.window == nil || !s.window.Resolve(OutcomeTranscript) {
		s.windowLog().Debug().Str("text", text).Msg("Final transcript ignored, window already resolved")
		return
	}

	s.watchdog.Stop()
	s.watchdog = nil
	s.transcript = text
	s.interim = ""

	c := keyword.Classify(text)
	label := c.Category.String()
	if c.Goodbye {
		label = "GOODBYE"
	}
	s.opts.Metrics.RecordWindowResolved(OutcomeTranscript)
	s.opts.Metrics.RecordFinalTranscript(label)
	s.windowLog().Info().Str("text", text).Str("classification", label).Msg("Final transcript")

	s.emit(conversation.SpeechEvent{
		Kind:       conversation.SpeechTranscript,
		Category:   c.Category,
		Transcript: text,
		Goodbye:    c.Goodbye,
		Confidence: confidence,
	})
}

func (s *Session) handleNoSpeech() {
	if s.window == nil || !s.window.Resolve(OutcomeNoSpeech) {
		return
	}
	s.watchdog.Stop()
	s.watchdog = nil
	s.opts.Metrics.RecordWindowResolved(OutcomeNoSpeech)
	s.windowLog().Info().Msg("No speech detected")

	s.emit(conversation.SpeechEvent{Kind: conversation.SpeechPrompt})
}

func (s *Session) handleFailure(f Failure) {
	s.watchdog.Stop()
	s.watchdog = nil
	if s.window != nil && s.window.Drop(OutcomeError) {
		s.opts.Metrics.RecordWindowResolved(OutcomeError)
	}

	kind := f.Kind
	if kind == "" {
		kind = "unknown"
	}
	s.opts.Metrics.RecordRecognizerError(s.rec.Name(), kind)
	s.windowLog().Error().Err(f.Err).Str("kind", kind).Msg("Recognition error, window dropped")
	s.report(&RuntimeError{Kind: kind, Err: f.Err})
}

// silence fires when no final transcript arrived in time.
func (s *Session) silence(gen uint64) {
	if gen != s.gen {
		return
	}
	s.watchdog = nil
	if s.window == nil || !s.window.Resolve(OutcomeSilenceTimeout) {
		return
	}
	s.opts.Metrics.RecordWindowResolved(OutcomeSilenceTimeout)
	s.windowLog().Info().Dur("timeout", s.opts.SilenceTimeout).Msg("Silence timeout")

	s.Stop()
	s.emit(conversation.SpeechEvent{Kind: conversation.SpeechPrompt})
}

func (s *Session) closeWindow() {
	if s.window == nil {
		return
	}
	if s.window.Close(OutcomeStopped) {
		s.opts.Metrics.RecordWindowResolved(OutcomeStopped)
	}
	s.window = nil
}

func (s *Session) emit(ev conversation.SpeechEvent) {
	if s.opts.Emit != nil {
		s.opts.Emit(ev)
	}
}

func (s *Session) report(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Session) windowLog() *zerolog.Logger {
	c := s.log.With().Str("sttProvider", s.provider())
	if s.window != nil {
		c = c.Str("windowId", s.window.ID())
	}
	l := c.Logger()
	return &l
}

func (s *Session) provider() string {
	if s.rec == nil {
		return "none"
	}
	return s.rec.Name()
}
