package media

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"virtual-avatar-service/internal/service/conversation"
)

const base = "https://virtual-video-chat.netlify.app/videos"

func TestResolve(t *testing.T) {
	table := DefaultAssetTable("")

	tests := []struct {
		name     string
		state    conversation.State
		category conversation.Category
		locator  string
		loop     bool
	}{
		{"idle loops", conversation.StateIdle, conversation.CategoryNone, base + "/idle.mp4", true},
		{"greeting once", conversation.StateGreeting, conversation.CategoryNone, base + "/greeting.mp4", false},
		{"listening loops", conversation.StateListening, conversation.CategoryNone, base + "/listening.mp4", true},
		{"prompt once", conversation.StatePrompt, conversation.CategoryNone, base + "/prompt.mp4", false},
		{"goodbye once", conversation.StateGoodbye, conversation.CategoryNone, base + "/goodbye.mp4", false},
		{"weather response", conversation.StateResponse, conversation.CategoryWeather, base + "/weather.mp4", false},
		{"general response", conversation.StateResponse, conversation.CategoryGeneral, base + "/general_response.mp4", false},
		{"fallback response", conversation.StateResponse, conversation.CategoryFallback, base + "/fallback.mp4", false},
		{"greeting response", conversation.StateResponse, conversation.CategoryGreeting, base + "/greeting.mp4", false},
		{"prompt response", conversation.StateResponse, conversation.CategoryPrompt, base + "/prompt.mp4", false},
		// Deliberate fallback: an uncategorized RESPONSE shows the looping IDLE clip.
		{"response without category", conversation.StateResponse, conversation.CategoryNone, base + "/idle.mp4", true},
		{"unknown category", conversation.StateResponse, conversation.Category(42), base + "/idle.mp4", true},
		{"category ignored outside response", conversation.StateListening, conversation.CategoryWeather, base + "/listening.mp4", true},
		{"unknown state", conversation.State(42), conversation.CategoryNone, base + "/idle.mp4", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locator, loop := Resolve(table, tt.state, tt.category)
			if locator != tt.locator {
				t.Errorf("expected locator %s, got %s", tt.locator, locator)
			}
			if loop != tt.loop {
				t.Errorf("expected loop=%v, got %v", tt.loop, loop)
			}
		})
	}
}

func TestNewAssetTable_Incomplete(t *testing.T) {
	_, err := NewAssetTable(
		map[conversation.State]string{conversation.StateIdle: "idle.mp4"},
		map[conversation.Category]string{conversation.CategoryWeather: "weather.mp4"},
	)
	if !errors.Is(err, ErrIncompleteTable) {
		t.Fatalf("expected ErrIncompleteTable, got %v", err)
	}
}

func TestDefaultAssetTable_Locators(t *testing.T) {
	table := DefaultAssetTable("http://localhost/clips/")

	if loc, _ := table.StateLocator(conversation.StateIdle); loc != "http://localhost/clips/idle.mp4" {
		t.Errorf("expected base URL to be joined, got %s", loc)
	}
	if _, ok := table.StateLocator(conversation.StateResponse); ok {
		t.Error("expected RESPONSE to have no state locator")
	}
	// greeting.mp4 and prompt.mp4 are shared between states and categories.
	if got := len(table.Locators()); got != 8 {
		t.Errorf("expected 8 distinct clips, got %d", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assets.yaml")
	content := `baseURL: https://cdn.example.com/avatar
states:
  IDLE: idle.webm
  GREETING: hello.webm
  LISTENING: listening.webm
  PROMPT: prompt.webm
  GOODBYE: https://other.example.com/bye.webm
categories:
  GENERAL: general.webm
  WEATHER: weather.webm
  FALLBACK: fallback.webm
  GREETING: hello.webm
  PROMPT: prompt.webm
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	locator, loop := Resolve(table, conversation.StateResponse, conversation.CategoryWeather)
	if locator != "https://cdn.example.com/avatar/weather.webm" || loop {
		t.Errorf("unexpected weather clip: %s loop=%v", locator, loop)
	}
	if loc, _ := table.StateLocator(conversation.StateGoodbye); loc != "https://other.example.com/bye.webm" {
		t.Errorf("expected absolute locator to be kept, got %s", loc)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown state", "states:\n  DANCING: dance.mp4\n"},
		{"unknown category", "categories:\n  SPORTS: sports.mp4\n"},
		{"unknown field", "clips: {}\n"},
		{"missing entries", "states:\n  IDLE: idle.mp4\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
