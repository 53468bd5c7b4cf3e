// Package schema derives JSON Schemas from the event models and checks
// outgoing events against them before they are published.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"

	"virtual-avatar-service/internal/models"
)

var (
	ErrNotObject = errors.New("event is not a JSON object")
	ErrInvalid   = errors.New("event does not match schema")
)

type entry struct {
	doc      *jsonschema.Schema
	compiled *jsv.Schema
}

// Validator holds one compiled schema per event model.
type Validator struct {
	reflector jsonschema.Reflector

	mu     sync.RWMutex
	byType map[reflect.Type]*entry
	byName map[string]*entry
}

// New creates a validator with the conversation event models registered.
func New() *Validator {
	v := &Validator{
		reflector: jsonschema.Reflector{DoNotReference: true},
		byType:    make(map[reflect.Type]*entry),
		byName:    make(map[string]*entry),
	}
	for name, model := range map[string]any{
		models.EventStateChanged:       models.StateChanged{},
		models.EventTranscriptRecorded: models.TranscriptRecorded{},
	} {
		if err := v.Register(name, model); err != nil {
			panic(err)
		}
	}
	return v
}

// Register reflects the schema of model, compiles it and exposes it under
// eventType.
func (v *Validator) Register(eventType string, model any) error {
	t := indirect(reflect.TypeOf(model))
	if t == nil {
		return ErrNotObject
	}
	e, err := v.compile(t)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.byType[t] = e
	v.byName[eventType] = e
	return nil
}

// Schema returns the schema registered for eventType.
func (v *Validator) Schema(eventType string) (*jsonschema.Schema, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.byName[eventType]
	if !ok {
		return nil, false
	}
	return e.doc, true
}

// EventTypes lists registered event types in sorted order.
func (v *Validator) EventTypes() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.byName))
	for name := range v.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks event against the schema of its Go type. Types that were
// never registered are reflected and compiled on first use.
func (v *Validator) Validate(event any) error {
	t := indirect(reflect.TypeOf(event))
	if t == nil {
		return ErrNotObject
	}

	v.mu.RLock()
	e, ok := v.byType[t]
	v.mu.RUnlock()
	if !ok {
		var err error
		if e, err = v.compile(t); err != nil {
			return err
		}
		v.mu.Lock()
		v.byType[t] = e
		v.mu.Unlock()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	inst, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if _, ok := inst.(map[string]any); !ok {
		return fmt.Errorf("%w: %s", ErrNotObject, t)
	}
	if err := e.compiled.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, t, err)
	}
	return nil
}

func (v *Validator) compile(t reflect.Type) (*entry, error) {
	s := v.reflector.ReflectFromType(t)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t, err)
	}
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t, err)
	}

	loc := string(s.ID)
	if loc == "" {
		loc = "mem:///" + url.PathEscape(t.String())
	}
	c := jsv.NewCompiler()
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("add schema for %s: %w", t, err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", t, err)
	}
	return &entry{doc: s, compiled: compiled}, nil
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
