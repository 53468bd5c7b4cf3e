package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-avatar-service/internal/observability/metrics"
	"virtual-avatar-service/internal/service/conversation"
	"virtual-avatar-service/internal/service/loop"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	cfg      Config
	sink     Sink
	startErr error
}

func (r *fakeRecognizer) Name() string { return "fake" }

func (r *fakeRecognizer) Start(ctx context.Context, cfg Config, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	r.cfg = cfg
	r.sink = sink
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRecognizer) send(sig Signal) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	sink(sig)
}

func (r *fakeRecognizer) counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type sessionHarness struct {
	t       *testing.T
	loop    *loop.Loop
	rec     *fakeRecognizer
	session *Session

	mu     sync.Mutex
	events []conversation.SpeechEvent
	errs   []error
}

func newSessionHarness(t *testing.T, rec *fakeRecognizer, timeout time.Duration) *sessionHarness {
	t.Helper()
	nop := zerolog.Nop()
	h := &sessionHarness{t: t, loop: loop.New(64, nop), rec: rec}
	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)
	t.Cleanup(cancel)

	var r Recognizer
	if rec != nil {
		r = rec
	}
	h.session = NewSession(h.loop, r, Options{
		SessionID:      "sess",
		SilenceTimeout: timeout,
		Emit: func(ev conversation.SpeechEvent) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
		Metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:  &nop,
	})
	return h
}

func (h *sessionHarness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Do(context.Background(), fn))
}

func (h *sessionHarness) start() error {
	var err error
	h.do(func() { err = h.session.Start(context.Background()) })
	return err
}

// flush waits until every previously posted signal has been handled.
func (h *sessionHarness) flush() {
	h.do(func() {})
}

func (h *sessionHarness) emitted() []conversation.SpeechEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]conversation.SpeechEvent(nil), h.events...)
}

func (h *sessionHarness) reported() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *sessionHarness) active() bool {
	var a bool
	h.do(func() { a = h.session.Active() })
	return a
}

func TestSession_StartUnsupported(t *testing.T) {
	h := newSessionHarness(t, nil, time.Second)

	err := h.start()
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	assert.False(t, h.active())
}

func TestSession_StartConfiguresRecognizer(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)

	require.NoError(t, h.start())
	assert.True(t, h.active())

	rec.mu.Lock()
	cfg := rec.cfg
	rec.mu.Unlock()
	assert.True(t, cfg.Continuous)
	assert.True(t, cfg.InterimResults)
	assert.Equal(t, "en-US", cfg.Locale)
}

func TestSession_StartIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)

	require.NoError(t, h.start())
	require.NoError(t, h.start())

	starts, _ := rec.counts()
	assert.Equal(t, 1, starts)
}

func TestSession_FinalTranscriptEmitsClassifiedEvent(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)
	require.NoError(t, h.start())

	rec.send(Results{Fragments: []Fragment{{Text: "what's the", Final: false}}})
	h.flush()
	h.do(func() { assert.Equal(t, "what's the", h.session.Interim()) })
	assert.Empty(t, h.emitted())

	rec.send(Results{Fragments: []Fragment{
		{Text: "what's the weather", Final: true, Confidence: 0.92},
		{Text: " today", Final: true, Confidence: 0.81},
	}})
	h.flush()

	events := h.emitted()
	require.Len(t, events, 1)
	assert.Equal(t, conversation.SpeechTranscript, events[0].Kind)
	assert.Equal(t, conversation.CategoryWeather, events[0].Category)
	assert.Equal(t, "what's the weather today", events[0].Transcript)
	assert.False(t, events[0].Goodbye)
	assert.InDelta(t, 0.81, events[0].Confidence, 1e-9, "lowest final confidence is carried")
	h.do(func() { assert.Equal(t, "what's the weather today", h.session.Transcript()) })
}

func TestSession_GoodbyeTranscript(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)
	require.NoError(t, h.start())

	rec.send(Results{Fragments: []Fragment{{Text: "well, goodbye and hello", Final: true}}})
	h.flush()

	events := h.emitted()
	require.Len(t, events, 1)
	assert.True(t, events[0].Goodbye)
	assert.Equal(t, conversation.CategoryNone, events[0].Category)
}

func TestSession_NoSpeechEmitsPrompt(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 50*time.Millisecond)
	require.NoError(t, h.start())

	rec.send(NoSpeech{})
	h.flush()

	events := h.emitted()
	require.Len(t, events, 1)
	assert.Equal(t, conversation.SpeechPrompt, events[0].Kind)
	assert.Empty(t, events[0].Transcript)

	// The watchdog was cancelled, so no second PROMPT.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.emitted(), 1)
}

func TestSession_NoSpeechAsFailure(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)
	require.NoError(t, h.start())

	rec.send(Failure{Kind: "no-speech", Err: ErrNoSpeech})
	h.flush()

	events := h.emitted()
	require.Len(t, events, 1)
	assert.Equal(t, conversation.SpeechPrompt, events[0].Kind)
	assert.Empty(t, h.reported())
}

func TestSession_WatchdogFiresOnce(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 20*time.Millisecond)
	require.NoError(t, h.start())

	require.Eventually(t, func() bool { return len(h.emitted()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, conversation.SpeechPrompt, h.emitted()[0].Kind)
	assert.False(t, h.active(), "watchdog should stop the session")

	_, stops := rec.counts()
	assert.Equal(t, 1, stops)

	// A late platform no-speech for the same window must not double-fire.
	rec.send(NoSpeech{})
	time.Sleep(60 * time.Millisecond)
	h.flush()
	assert.Len(t, h.emitted(), 1)
}

func TestSession_WatchdogCancelledByTranscript(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 40*time.Millisecond)
	require.NoError(t, h.start())

	rec.send(Results{Fragments: []Fragment{{Text: "tell me a story", Final: true}}})
	h.flush()

	time.Sleep(80 * time.Millisecond)
	events := h.emitted()
	require.Len(t, events, 1)
	assert.Equal(t, conversation.SpeechTranscript, events[0].Kind)
	assert.Equal(t, conversation.CategoryGeneral, events[0].Category)
}

func TestSession_RestartDoesNotLeakWatchdog(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 60*time.Millisecond)

	require.NoError(t, h.start())
	time.Sleep(30 * time.Millisecond)
	h.do(func() { h.session.Stop() })
	require.NoError(t, h.start())

	// Only the second window's watchdog may fire, once, about 60ms after the
	// restart.
	time.Sleep(45 * time.Millisecond)
	assert.Empty(t, h.emitted(), "first watchdog must have been cancelled")

	require.Eventually(t, func() bool { return len(h.emitted()) == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, h.emitted(), 1)
}

func TestSession_RestartAfterStreamEndedReplacesWatchdog(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 40*time.Millisecond)

	require.NoError(t, h.start())
	rec.send(StreamEnded{})
	h.flush()
	require.False(t, h.active())
	assert.Equal(t, 1, h.loop.Timers(), "watchdog stays armed after the stream ends")

	require.NoError(t, h.start())
	assert.Equal(t, 1, h.loop.Timers(), "restart must cancel the previous watchdog")

	require.Eventually(t, func() bool { return len(h.emitted()) == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, h.emitted(), 1)
	assert.Equal(t, 0, h.loop.Timers())
}

func TestSession_RuntimeErrorReported(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 30*time.Millisecond)
	require.NoError(t, h.start())

	cause := errors.New("socket closed")
	rec.send(Failure{Kind: "network", Err: cause})
	h.flush()

	errs := h.reported()
	require.Len(t, errs, 1)
	var rerr *RuntimeError
	require.True(t, errors.As(errs[0], &rerr))
	assert.Equal(t, "Error: network", rerr.Error())
	assert.True(t, errors.Is(errs[0], cause))

	// No speech event for errors, and the watchdog is gone.
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, h.emitted())
}

func TestSession_StartFailure(t *testing.T) {
	rec := &fakeRecognizer{startErr: errors.New("mic busy")}
	h := newSessionHarness(t, rec, 20*time.Millisecond)

	err := h.start()
	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.False(t, h.active())
	assert.Len(t, h.reported(), 1)

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, h.emitted())
}

func TestSession_StreamEndedMarksInactive(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)
	require.NoError(t, h.start())

	rec.send(StreamEnded{})
	h.flush()
	assert.False(t, h.active())

	// Inactive stop does not call the recognizer again.
	h.do(func() { h.session.Stop() })
	_, stops := rec.counts()
	assert.Equal(t, 0, stops)
}

func TestSession_StaleStreamSignalsIgnored(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)
	require.NoError(t, h.start())

	rec.mu.Lock()
	oldSink := rec.sink
	rec.mu.Unlock()

	h.do(func() { h.session.Stop() })
	require.NoError(t, h.start())

	oldSink(Results{Fragments: []Fragment{{Text: "hello", Final: true}}})
	oldSink(StreamEnded{})
	h.flush()

	assert.Empty(t, h.emitted())
	assert.True(t, h.active())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, time.Second)
	require.NoError(t, h.start())

	h.do(func() {
		h.session.Stop()
		h.session.Stop()
	})
	_, stops := rec.counts()
	assert.Equal(t, 1, stops)
}

func TestSession_Close(t *testing.T) {
	rec := &fakeRecognizer{}
	h := newSessionHarness(t, rec, 20*time.Millisecond)
	require.NoError(t, h.start())

	h.do(func() { h.session.Close() })
	assert.ErrorIs(t, h.start(), ErrSessionClosed)

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, h.emitted())
}
