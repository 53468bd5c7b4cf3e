// Package director runs one avatar conversation. It owns the state machine,
// the crossfade engine and the speech session, and drives all of them from a
// single event loop.
package director

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"virtual-avatar-service/internal/models"
	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/conversation"
	"virtual-avatar-service/internal/service/crossfade"
	"virtual-avatar-service/internal/service/loop"
	"virtual-avatar-service/internal/service/media"
	"virtual-avatar-service/internal/service/playback"
	"virtual-avatar-service/internal/service/speech"
)

// UnsupportedMessage is shown when the host has no speech recognition.
const UnsupportedMessage = "Speech recognition is not available on this host."

const closeTimeout = 2 * time.Second

// DefaultRestartDelay separates entering LISTENING from starting recognition.
const DefaultRestartDelay = 500 * time.Millisecond

var (
	ErrNotStarted = errors.New("conversation not started")
	ErrNoAssets   = errors.New("asset table is required")
	ErrNoElements = errors.New("two playback elements are required")
)

// Publisher receives conversation events. *events.Publisher implements it.
type Publisher interface {
	PublishState(ctx context.Context, key string, event any) error
	PublishTranscript(ctx context.Context, key string, event any) error
}

// Config holds the director timings.
type Config struct {
	RestartDelay   time.Duration
	SilenceTimeout time.Duration
	Recognition    speech.Config
	Crossfade      crossfade.Config
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		RestartDelay:   DefaultRestartDelay,
		SilenceTimeout: speech.DefaultSilenceTimeout,
		Recognition:    speech.DefaultConfig(),
		Crossfade:      crossfade.DefaultConfig(),
	}
}

// Options configures a Director.
type Options struct {
	Config Config
	Assets *media.AssetTable
	// Recognizer may be nil when the host cannot recognize speech.
	Recognizer speech.Recognizer
	Elements   [2]playback.Element
	Publisher  Publisher
	// OnChange is called on the loop after every applied transition. It must
	// not block.
	OnChange  func(Snapshot)
	SessionID string
	Metrics   *metrics.Metrics
	Logger    *zerolog.Logger
}

// Snapshot is a point-in-time view of the conversation.
type Snapshot struct {
	SessionID      string     `json:"sessionId"`
	State          string     `json:"state"`
	Category       string     `json:"category,omitempty"`
	Locator        string     `json:"locator"`
	Loop           bool       `json:"loop"`
	ChatStarted    bool       `json:"chatStarted"`
	VoiceSupported bool       `json:"voiceSupported"`
	Listening      bool       `json:"listening"`
	WindowID       string     `json:"windowId,omitempty"`
	Interim        string     `json:"interim,omitempty"`
	Transcript     string     `json:"transcript,omitempty"`
	Log            []string   `json:"log"`
	LastError      string     `json:"lastError,omitempty"`
	ActiveSlot     int        `json:"activeSlot"`
	Visibility     [2]float64 `json:"visibility"`
}

// Director sequences clips for one conversation.
type Director struct {
	loop    *loop.Loop
	machine *conversation.Machine
	engine  *crossfade.Engine
	session *speech.Session
	assets  *media.AssetTable
	pub     Publisher
	cfg     Config

	onChange  func(Snapshot)
	sessionID string
	metrics   *metrics.Metrics
	log       zerolog.Logger

	runMu   sync.Mutex
	running bool
	stopped bool

	// Loop-owned state.
	ctx         context.Context
	chatStarted bool
	convLog     []string
	lastError   string
	restart     *loop.Timer
	closed      bool
}

// New wires a director. Nothing plays until Run.
func New(opts Options) (*Director, error) {
	if opts.Assets == nil {
		return nil, ErrNoAssets
	}
	if opts.Elements[0] == nil || opts.Elements[1] == nil {
		return nil, ErrNoElements
	}

	cfg := opts.Config
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}

	d := &Director{
		machine:   conversation.NewMachine(conversation.DefaultTransitions),
		assets:    opts.Assets,
		pub:       opts.Publisher,
		cfg:       cfg,
		onChange:  opts.OnChange,
		sessionID: opts.SessionID,
		metrics:   opts.Metrics,
		ctx:       context.Background(),
	}
	if d.sessionID == "" {
		d.sessionID = uuid.NewString()
	}
	if d.metrics == nil {
		d.metrics = metrics.DefaultMetrics
	}
	if opts.Logger != nil {
		d.log = *opts.Logger
	} else {
		d.log = logging.WithSession("director", d.sessionID)
	}

	d.loop = loop.New(256, d.log)
	d.engine = crossfade.New(d.loop, opts.Elements[0], opts.Elements[1], crossfade.Options{
		Config:     cfg.Crossfade,
		OnFinished: d.onClipFinished,
		OnError:    d.onPlaybackError,
		Metrics:    d.metrics,
		Logger:     opts.Logger,
	})
	d.session = speech.NewSession(d.loop, opts.Recognizer, speech.Options{
		SessionID:      d.sessionID,
		SilenceTimeout: cfg.SilenceTimeout,
		Recognition:    cfg.Recognition,
		Emit:           d.onSpeech,
		OnError:        d.onSpeechError,
		Metrics:        d.metrics,
		Logger:         opts.Logger,
	})
	d.loop.Post(d.showInitial)
	return d, nil
}

// SessionID identifies this conversation in logs and events.
func (d *Director) SessionID() string { return d.sessionID }

// Run processes events, starting with the IDLE clip, until ctx is cancelled
// or Close is called. Run after Close returns at once.
func (d *Director) Run(ctx context.Context) error {
	d.runMu.Lock()
	if d.stopped {
		d.runMu.Unlock()
		return nil
	}
	d.running = true
	d.runMu.Unlock()

	d.ctx = ctx
	d.loop.Run(ctx)
	d.teardown()
	return nil
}

// showInitial puts the current state's clip on screen. It is queued by New
// so it runs before any request that reaches the loop.
func (d *Director) showInitial() {
	state, category := d.machine.Snapshot()
	locator, loop := media.Resolve(d.assets, state, category)
	d.engine.Show(locator, loop)
	d.log.Info().Str("locator", locator).Msg("Director started")
	d.changed()
}

// Begin starts a chat from IDLE.
func (d *Director) Begin(ctx context.Context) error {
	var err error
	if derr := d.loop.Do(ctx, func() { err = d.begin() }); derr != nil {
		return derr
	}
	return err
}

func (d *Director) begin() error {
	if !d.session.Supported() {
		d.lastError = UnsupportedMessage
		return speech.ErrUnsupported
	}
	if d.chatStarted {
		return conversation.ErrAlreadyStarted
	}
	tr, err := d.machine.Begin()
	if err != nil {
		return err
	}

	d.chatStarted = true
	d.convLog = nil
	d.lastError = ""
	d.metrics.RecordConversationStarted()
	d.log.Info().Msg("Conversation started")
	d.apply(tr)
	return nil
}

// Goodbye ends the chat as if the user had said goodbye.
func (d *Director) Goodbye(ctx context.Context) error {
	var err error
	if derr := d.loop.Do(ctx, func() {
		if !d.chatStarted {
			err = ErrNotStarted
			return
		}
		d.apply(d.machine.OnSpeech(conversation.SpeechEvent{Kind: conversation.SpeechTranscript, Goodbye: true}))
	}); derr != nil {
		return derr
	}
	return err
}

// Snapshot returns the current view of the conversation.
func (d *Director) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := d.loop.Do(ctx, func() { s = d.snapshot() })
	return s, err
}

// Close stops speech, cancels timers and releases the playback slots.
func (d *Director) Close() {
	d.runMu.Lock()
	if !d.running {
		// The loop never ran and now never will, so teardown can run here.
		d.stopped = true
		d.runMu.Unlock()
		d.loop.Close()
		d.teardown()
		return
	}
	d.runMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := d.loop.Do(ctx, d.teardown); err != nil && !errors.Is(err, loop.ErrClosed) {
		d.log.Warn().Err(err).Msg("Teardown did not run on the loop")
	}
	d.loop.Close()
}

func (d *Director) teardown() {
	if d.closed {
		return
	}
	d.closed = true
	d.session.Close()
	d.restart.Stop()
	d.restart = nil
	d.engine.Close()
	d.log.Info().Msg("Director stopped")
}

func (d *Director) onClipFinished() {
	tr, err := d.machine.ClipFinished()
	if err != nil {
		d.log.Warn().Err(err).Msg("Ignoring clip end")
		return
	}
	d.apply(tr)
}

func (d *Director) onSpeech(ev conversation.SpeechEvent) {
	windowID := d.session.WindowID()
	tr := d.machine.OnSpeech(ev)

	if ev.Kind == conversation.SpeechTranscript && tr.Reason != conversation.ReasonIgnored && ev.Transcript != "" {
		d.convLog = append(d.convLog, "You: "+ev.Transcript)
		d.publishTranscript(ev, windowID)
	}
	d.apply(tr)
}

func (d *Director) onSpeechError(err error) {
	d.lastError = err.Error()
	d.log.Warn().Err(err).Msg("Speech session error")
	d.changed()
}

func (d *Director) onPlaybackError(err error) {
	d.log.Error().Err(err).Msg("Stuck on previous clip")
}

// apply carries out the side effects of a machine transition.
func (d *Director) apply(tr conversation.Transition) {
	if tr.StopSpeech {
		d.session.Stop()
	}
	if !tr.Changed || d.closed {
		return
	}

	d.metrics.RecordTransition(tr.From.String(), tr.To.String(), string(tr.Reason))
	if tr.From == conversation.StateListening {
		d.restart.Stop()
		d.restart = nil
	}

	locator, loop := media.Resolve(d.assets, tr.To, tr.Category)
	d.engine.TransitionTo(locator, loop)

	switch tr.To {
	case conversation.StateListening:
		d.scheduleListen()
	case conversation.StateIdle:
		if tr.From == conversation.StateGoodbye {
			d.chatStarted = false
			d.convLog = nil
			d.session.ResetTranscript()
			d.metrics.RecordConversationEnded()
			d.log.Info().Msg("Conversation ended")
		}
	}

	d.log.Info().
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Str("category", tr.Category.String()).
		Str("reason", string(tr.Reason)).
		Str("locator", locator).
		Msg("State transition")

	d.publishState(tr, locator, loop)
	d.changed()
}

// scheduleListen starts recognition once the LISTENING clip has settled.
func (d *Director) scheduleListen() {
	d.restart.Stop()
	d.restart = d.loop.AfterFunc(d.cfg.RestartDelay, func() {
		d.restart = nil
		if d.closed || d.machine.State() != conversation.StateListening {
			return
		}
		d.session.ResetTranscript()
		if err := d.session.Start(d.ctx); err != nil {
			if errors.Is(err, speech.ErrUnsupported) {
				d.lastError = UnsupportedMessage
			}
			d.log.Warn().Err(err).Msg("Recognition did not start")
			d.changed()
			return
		}
		d.lastError = ""
		d.changed()
	})
}

func (d *Director) publishState(tr conversation.Transition, locator string, loop bool) {
	if d.pub == nil {
		return
	}
	ev := models.StateChanged{
		EventType: models.EventStateChanged,
		SessionID: d.sessionID,
		Timestamp: time.Now().UnixMilli(),
		From:      tr.From.String(),
		To:        tr.To.String(),
		Category:  tr.Category.String(),
		Reason:    string(tr.Reason),
		Locator:   locator,
		Loop:      loop,
	}
	if err := d.pub.PublishState(d.ctx, d.sessionID, ev); err != nil {
		d.log.Warn().Err(err).Msg("Failed to publish state change")
	}
}

func (d *Director) publishTranscript(ev conversation.SpeechEvent, windowID string) {
	if d.pub == nil {
		return
	}
	out := models.TranscriptRecorded{
		EventType:  models.EventTranscriptRecorded,
		SessionID:  d.sessionID,
		WindowID:   windowID,
		Timestamp:  time.Now().UnixMilli(),
		Text:       ev.Transcript,
		Goodbye:    ev.Goodbye,
		Confidence: ev.Confidence,
	}
	if !ev.Goodbye {
		out.Category = ev.Category.String()
	}
	if err := d.pub.PublishTranscript(d.ctx, d.sessionID, out); err != nil {
		d.log.Warn().Err(err).Msg("Failed to publish transcript")
	}
}

func (d *Director) changed() {
	if d.onChange != nil {
		d.onChange(d.snapshot())
	}
}

func (d *Director) snapshot() Snapshot {
	state, category := d.machine.Snapshot()
	locator, loop := media.Resolve(d.assets, state, category)
	return Snapshot{
		SessionID:      d.sessionID,
		State:          state.String(),
		Category:       category.String(),
		Locator:        locator,
		Loop:           loop,
		ChatStarted:    d.chatStarted,
		VoiceSupported: d.session.Supported(),
		Listening:      d.session.Active(),
		WindowID:       d.session.WindowID(),
		Interim:        d.session.Interim(),
		Transcript:     d.session.Transcript(),
		Log:            append([]string{}, d.convLog...),
		LastError:      d.lastError,
		ActiveSlot:     d.engine.ActiveIndex(),
		Visibility:     d.engine.Visibility(),
	}
}

func (s Snapshot) String() string {
	if s.Category != "" {
		return fmt.Sprintf("%s{%s}", s.State, s.Category)
	}
	return s.State
}
