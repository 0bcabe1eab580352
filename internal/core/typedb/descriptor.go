package typedb

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/singed/scenelink/internal/core/session"
)

// PropertyDescriptor names one property of a described type and the type of
// its value.
type PropertyDescriptor struct {
	Name     string
	TypeName string
}

// Descriptor is the server's description of a type. Properties keep the
// order the server listed them in.
type Descriptor struct {
	Properties []PropertyDescriptor
	Component  bool
}

// Dependencies returns the distinct property type names.
func (d Descriptor) Dependencies() []string {
	seen := make(map[string]struct{}, len(d.Properties))
	deps := make([]string, 0, len(d.Properties))
	for _, p := range d.Properties {
		if _, ok := seen[p.TypeName]; ok {
			continue
		}
		seen[p.TypeName] = struct{}{}
		deps = append(deps, p.TypeName)
	}
	return deps
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw struct {
		Properties json.RawMessage `json:"properties"`
		Component  bool            `json:"component"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Component = raw.Component
	d.Properties = nil
	if len(raw.Properties) == 0 || bytes.Equal(raw.Properties, []byte("null")) {
		return nil
	}

	entries, err := session.DecodePayload(raw.Properties)
	if err != nil {
		return fmt.Errorf("properties: %w", err)
	}
	for _, e := range entries {
		var info struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(e.Value, &info); err != nil {
			return fmt.Errorf("property %q: %w", e.Key, err)
		}
		if info.Type == "" {
			return fmt.Errorf("property %q: %w", e.Key, ErrMissingPropertyType)
		}
		d.Properties = append(d.Properties, PropertyDescriptor{Name: e.Key, TypeName: info.Type})
	}
	return nil
}

// NamedDescriptor pairs a descriptor with its type name.
type NamedDescriptor struct {
	Name       string
	Descriptor Descriptor
}

// Descriptors is a batch of descriptors in the order they were received.
type Descriptors []NamedDescriptor

func (ds *Descriptors) UnmarshalJSON(data []byte) error {
	entries, err := session.DecodePayload(data)
	if err != nil {
		return err
	}

	out := make(Descriptors, 0, len(entries))
	for _, e := range entries {
		var desc Descriptor
		if err := json.Unmarshal(e.Value, &desc); err != nil {
			return fmt.Errorf("type %q: %w", e.Key, err)
		}
		out = append(out, NamedDescriptor{Name: e.Key, Descriptor: desc})
	}
	*ds = out
	return nil
}
