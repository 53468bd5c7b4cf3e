// Package google provides a Google Cloud Speech-to-Text recognizer.
//
// Audio is not captured here: the gRPC ingest pushes frames through
// SendAudio while a stream is open.
package google

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"virtual-avatar-service/internal/observability/logging"
	"virtual-avatar-service/internal/service/speech"
)

// ErrNotStreaming is returned by SendAudio when no recognition stream is open.
var ErrNotStreaming = speech.ErrNotStreaming

// Config holds Google STT configuration.
type Config struct {
	SampleRateHz  int32
	AudioEncoding string // LINEAR16, MULAW, FLAC, ...
	// LanguageCode is used when the session does not request a locale.
	LanguageCode string
	Model        string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
		LanguageCode:  "en-US",
	}
}

type openFunc func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)

// Recognizer implements speech.Recognizer and speech.AudioSink.
type Recognizer struct {
	client *speechapi.Client
	open   openFunc
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
}

// New creates a recognizer backed by a Cloud Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	c, err := speechapi.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	r := newRecognizer(cfg, func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
		return c.StreamingRecognize(ctx)
	})
	r.client = c
	return r, nil
}

func newRecognizer(cfg Config, open openFunc) *Recognizer {
	return &Recognizer{
		open: open,
		cfg:  cfg,
		log:  logging.WithComponent("stt-google"),
	}
}

// Name identifies the provider.
func (r *Recognizer) Name() string { return "google" }

// Start opens a streaming recognition and sends the initial config.
func (r *Recognizer) Start(ctx context.Context, cfg speech.Config, sink speech.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		r.stopLocked()
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := r.open(sctx)
	if err != nil {
		cancel()
		return fmt.Errorf("open stream: %w", err)
	}

	if err := stream.Send(r.configRequest(cfg)); err != nil {
		cancel()
		return fmt.Errorf("send streaming config: %w", err)
	}

	r.stream = stream
	r.cancel = cancel
	go r.listen(sctx, cancel, stream, sink)
	return nil
}

func (r *Recognizer) configRequest(cfg speech.Config) *speechpb.StreamingRecognizeRequest {
	lang := cfg.Locale
	if lang == "" {
		lang = r.cfg.LanguageCode
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(r.cfg.AudioEncoding),
					SampleRateHertz:            r.cfg.SampleRateHz,
					LanguageCode:               lang,
					Model:                      r.cfg.Model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  cfg.InterimResults,
				SingleUtterance: !cfg.Continuous,
			},
		},
	}
}

// SendAudio forwards audio bytes to the open stream.
func (r *Recognizer) SendAudio(ctx context.Context, audio []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return ErrNotStreaming
	}
	return r.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Stop half-closes the stream. Google flushes pending results and then ends
// the stream, which the listener reports as StreamEnded.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Recognizer) stopLocked() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.CloseSend()
	r.stream = nil
	return err
}

// Close stops any stream and releases the client.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	r.stopLocked()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// listen receives responses until the stream ends and translates them to
// signals.
func (r *Recognizer) listen(ctx context.Context, cancel context.CancelFunc, stream speechpb.Speech_StreamingRecognizeClient, sink speech.Sink) {
	defer cancel()
	defer r.release(stream)

	heard := false
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			if !heard {
				sink(speech.NoSpeech{})
			}
			sink(speech.StreamEnded{})
			return
		}
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				sink(speech.StreamEnded{})
				return
			}
			sink(failure(err))
			sink(speech.StreamEnded{})
			return
		}

		if st := resp.GetError(); st != nil && st.GetCode() != int32(codes.OK) {
			sink(failure(status.ErrorProto(st)))
			continue
		}
		if resp.GetSpeechEventType() == speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE {
			r.log.Debug().Msg("End of single utterance")
		}

		frags := fragments(resp)
		if len(frags) == 0 {
			continue
		}
		for _, f := range frags {
			if strings.TrimSpace(f.Text) != "" {
				heard = true
			}
		}
		sink(speech.Results{Fragments: frags})
	}
}

// release forgets stream if it is still the current one.
func (r *Recognizer) release(stream speechpb.Speech_StreamingRecognizeClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == stream {
		r.stream = nil
	}
}

func fragments(resp *speechpb.StreamingRecognizeResponse) []speech.Fragment {
	var out []speech.Fragment
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out = append(out, speech.Fragment{
			Text:       alts[0].GetTranscript(),
			Final:      res.GetIsFinal(),
			Confidence: float64(alts[0].GetConfidence()),
		})
	}
	return out
}

// failure maps a gRPC error to a recognizer failure. Google reports a
// stream that never received speech as OUT_OF_RANGE.
func failure(err error) speech.Failure {
	switch status.Code(err) {
	case codes.OutOfRange, codes.DeadlineExceeded:
		return speech.Failure{Kind: "no-speech", Err: fmt.Errorf("%w: %v", speech.ErrNoSpeech, err)}
	case codes.Unavailable:
		return speech.Failure{Kind: "network", Err: err}
	case codes.PermissionDenied, codes.Unauthenticated:
		return speech.Failure{Kind: "not-allowed", Err: err}
	case codes.ResourceExhausted:
		return speech.Failure{Kind: "quota-exceeded", Err: err}
	case codes.InvalidArgument:
		return speech.Failure{Kind: "bad-config", Err: err}
	default:
		return speech.Failure{Kind: "service-error", Err: err}
	}
}

// parseAudioEncoding converts a string to speechpb.RecognitionConfig_AudioEncoding.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
