// Package media maps conversation phases to playable clip locators.
package media

import (
	"errors"
	"fmt"
	"strings"

	"virtual-avatar-service/internal/service/conversation"
)

// DefaultBaseURL hosts the reference clip set.
const DefaultBaseURL = "https://virtual-video-chat.netlify.app/videos"

// ErrIncompleteTable is returned when a table misses a state or category.
var ErrIncompleteTable = errors.New("asset table is incomplete")

// AssetTable is an immutable mapping from states and categories to locators.
// RESPONSE has no entry of its own: it is always played through its category,
// and RESPONSE without a category deliberately resolves to the IDLE asset.
type AssetTable struct {
	states     map[conversation.State]string
	categories map[conversation.Category]string
}

// NewAssetTable copies the given entries and checks that every state other
// than RESPONSE and every category has a non-empty locator. A RESPONSE state
// entry is ignored.
func NewAssetTable(states map[conversation.State]string, categories map[conversation.Category]string) (*AssetTable, error) {
	t := &AssetTable{
		states:     make(map[conversation.State]string, len(states)),
		categories: make(map[conversation.Category]string, len(categories)),
	}

	var missing []string
	for _, s := range conversation.States {
		if s == conversation.StateResponse {
			continue
		}
		loc := strings.TrimSpace(states[s])
		if loc == "" {
			missing = append(missing, "state "+s.String())
			continue
		}
		t.states[s] = loc
	}
	for _, c := range conversation.Categories {
		loc := strings.TrimSpace(categories[c])
		if loc == "" {
			missing = append(missing, "category "+c.String())
			continue
		}
		t.categories[c] = loc
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteTable, strings.Join(missing, ", "))
	}
	return t, nil
}

// DefaultAssetTable returns the reference clip set under baseURL.
func DefaultAssetTable(baseURL string) *AssetTable {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	at := func(file string) string { return joinURL(baseURL, file) }

	t, err := NewAssetTable(
		map[conversation.State]string{
			conversation.StateIdle:      at("idle.mp4"),
			conversation.StateGreeting:  at("greeting.mp4"),
			conversation.StateListening: at("listening.mp4"),
			conversation.StatePrompt:    at("prompt.mp4"),
			conversation.StateGoodbye:   at("goodbye.mp4"),
		},
		map[conversation.Category]string{
			conversation.CategoryGeneral:  at("general_response.mp4"),
			conversation.CategoryWeather:  at("weather.mp4"),
			conversation.CategoryFallback: at("fallback.mp4"),
			conversation.CategoryGreeting: at("greeting.mp4"),
			conversation.CategoryPrompt:   at("prompt.mp4"),
		},
	)
	if err != nil {
		panic(err) // the literal above covers every value
	}
	return t
}

// StateLocator returns the locator for a state and whether one is set.
func (t *AssetTable) StateLocator(s conversation.State) (string, bool) {
	loc, ok := t.states[s]
	return loc, ok
}

// Locators returns every distinct locator in the table.
func (t *AssetTable) Locators() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(loc string) {
		if _, ok := seen[loc]; ok {
			return
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	for _, s := range conversation.States {
		if loc, ok := t.states[s]; ok {
			add(loc)
		}
	}
	for _, c := range conversation.Categories {
		if loc, ok := t.categories[c]; ok {
			add(loc)
		}
	}
	return out
}

// Resolve maps (state, category) to a clip locator and loop flag.
//
// RESPONSE with a valid category plays that category's clip once. Every
// other combination plays the state's own clip and loops iff the state loops.
// A state without a clip falls back to IDLE and loops with it, so
// Resolve(t, RESPONSE, CategoryNone) is (IDLE locator, true).
func Resolve(t *AssetTable, state conversation.State, category conversation.Category) (string, bool) {
	if state == conversation.StateResponse && category.Valid() {
		if loc, ok := t.categories[category]; ok {
			return loc, false
		}
	}

	if loc, ok := t.states[state]; ok {
		return loc, state.IsLooping()
	}
	return t.states[conversation.StateIdle], true
}

func joinURL(base, file string) string {
	file = strings.TrimSpace(file)
	if file == "" {
		return ""
	}
	if strings.Contains(file, "://") || strings.HasPrefix(file, "/") {
		return file
	}
	return strings.TrimRight(base, "/") + "/" + file
}
