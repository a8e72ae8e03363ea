// Package blockspec defines the declarative Block Spec document (spec.md
// §3 "Block Spec") and the tagged-union field schema used to validate
// inputs/outputs at Block boundaries (spec.md §9).
package blockspec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldType is one of the declared scalar/object/array kinds a Block input
// or output field may carry.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field describes one entry of an `inputs`/`outputs` schema map.
type Field struct {
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []any     `yaml:"enum,omitempty" json:"enum,omitempty"`
	Ref         string    `yaml:"ref,omitempty" json:"ref,omitempty"`
}

// DryRun holds the optional representative samples a Spec author provides.
type DryRun struct {
	Samples map[string]any `yaml:"samples,omitempty" json:"samples,omitempty"`
}

// Spec is a Block Spec document, read-only once loaded by the Registry
// (spec.md §3 "Block Spec", "Ownership").
type Spec struct {
	ID           string           `yaml:"id" json:"id"`
	Version      string           `yaml:"version" json:"version"`
	Entrypoint   string           `yaml:"entrypoint" json:"entrypoint"`
	Inputs       map[string]Field `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs      map[string]Field `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Requirements []string         `yaml:"requirements,omitempty" json:"requirements,omitempty"`
	DryRun       *DryRun          `yaml:"dry_run,omitempty" json:"dry_run,omitempty"`
}

// Parse decodes a single Block Spec document.
func Parse(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing block spec: %w", err)
	}
	if err := s.SelfCheck(); err != nil {
		return nil, err
	}
	return &s, nil
}

// SelfCheck validates the minimal structure the Registry requires before
// indexing a Spec (spec.md §4.1 "validates minimal structure").
func (s *Spec) SelfCheck() error {
	if s.ID == "" {
		return fmt.Errorf("block spec missing id")
	}
	if s.Version == "" {
		return fmt.Errorf("block spec %q missing version", s.ID)
	}
	if s.Entrypoint == "" {
		return fmt.Errorf("block spec %q missing entrypoint", s.ID)
	}
	for name, f := range s.Inputs {
		if !validType(f.Type) {
			return fmt.Errorf("block spec %q: input %q has invalid type %q", s.ID, name, f.Type)
		}
	}
	for name, f := range s.Outputs {
		if !validType(f.Type) {
			return fmt.Errorf("block spec %q: output %q has invalid type %q", s.ID, name, f.Type)
		}
	}
	return nil
}

func validType(t FieldType) bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}
