// Package models defines the data structures for conversation events.
package models

// Event types carried in the eventType field and the Kafka header.
const (
	EventStateChanged       = "conversation.state_changed"
	EventTranscriptRecorded = "conversation.transcript_recorded"
)

// StateChanged is published every time the avatar moves to a new clip.
type StateChanged struct {
	EventType string `json:"eventType" jsonschema:"enum=conversation.state_changed"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from" jsonschema:"enum=IDLE,enum=GREETING,enum=LISTENING,enum=PROMPT,enum=RESPONSE,enum=GOODBYE"`
	To        string `json:"to" jsonschema:"enum=IDLE,enum=GREETING,enum=LISTENING,enum=PROMPT,enum=RESPONSE,enum=GOODBYE"`
	Category  string `json:"category,omitempty" jsonschema:"enum=GENERAL,enum=WEATHER,enum=FALLBACK,enum=GREETING,enum=PROMPT"`
	// Reason is what caused the move: start, clip_finished, transcript,
	// prompt or goodbye.
	Reason  string `json:"reason"`
	Locator string `json:"locator"`
	Loop    bool   `json:"loop"`
}

// TranscriptRecorded is published for every final transcript the
// conversation acted on.
type TranscriptRecorded struct {
	EventType  string  `json:"eventType" jsonschema:"enum=conversation.transcript_recorded"`
	SessionID  string  `json:"sessionId"`
	WindowID   string  `json:"windowId"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"text"`
	Category   string  `json:"category,omitempty" jsonschema:"enum=GENERAL,enum=WEATHER,enum=GREETING"`
	Goodbye    bool    `json:"goodbye"`
	Confidence float64 `json:"confidence,omitempty"`
}
