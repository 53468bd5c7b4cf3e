package media

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"virtual-avatar-service/internal/service/conversation"
)

// fileTable is the on-disk shape of an asset table:
//
//	baseURL: https://cdn.example.com/avatar
//	states:
//	  IDLE: idle.mp4
//	  GREETING: greeting.mp4
//	categories:
//	  WEATHER: weather.mp4
//
// Relative locators are joined to baseURL.
type fileTable struct {
	BaseURL    string            `yaml:"baseURL"`
	States     map[string]string `yaml:"states"`
	Categories map[string]string `yaml:"categories"`
}

// LoadFile reads and validates an asset table from a YAML file.
func LoadFile(path string) (*AssetTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("asset table %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a YAML asset table. Unknown state or category names are
// rejected so that typos cannot silently fall back to defaults.
func Parse(data []byte) (*AssetTable, error) {
	var ft fileTable
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ft); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	base := ft.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	states := make(map[conversation.State]string, len(ft.States))
	for name, file := range ft.States {
		s, ok := conversation.ParseState(name)
		if !ok {
			return nil, fmt.Errorf("unknown state %q", name)
		}
		states[s] = joinURL(base, file)
	}

	categories := make(map[conversation.Category]string, len(ft.Categories))
	for name, file := range ft.Categories {
		c, ok := conversation.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", name)
		}
		categories[c] = joinURL(base, file)
	}

	return NewAssetTable(states, categories)
}
