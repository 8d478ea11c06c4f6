/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package schema derives tool input schemas from Go argument structs.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Generator wraps jsonschema.Reflector with the settings tool inputs need:
// inline definitions and required fields taken from jsonschema tags.
type Generator struct {
	reflector jsonschema.Reflector
}

// NewGenerator returns a Generator with tool-schema defaults.
func NewGenerator() *Generator {
	return &Generator{
		reflector: jsonschema.Reflector{
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			AllowAdditionalProperties:  true,
			DoNotReference:             true,
		},
	}
}

// Reflect returns the JSON schema for v.
func (g *Generator) Reflect(v any) *jsonschema.Schema {
	return g.reflector.Reflect(v)
}

// Reflect derives a schema with a default Generator.
func Reflect(v any) *jsonschema.Schema {
	return NewGenerator().Reflect(v)
}

// ReflectType reflects the zero value of T.
func ReflectType[T any]() *jsonschema.Schema {
	var zero T
	return Reflect(&zero)
}

// Input is the object schema of a tool's arguments in plain map form.
type Input struct {
	Properties map[string]any
	Required   []string
}

// InputOf reflects T into an Input. T must be a named struct type; the
// reflector expands structs by name and cannot expand anonymous ones. A struct
// without fields yields an empty property map rather than nil.
func InputOf[T any]() (Input, error) {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return Input{}, fmt.Errorf("tool arguments must be a named struct, got %s", t)
	}

	s := ReflectType[T]()
	props := map[string]any{}
	if s.Properties != nil && s.Properties.Len() > 0 {
		raw, err := json.Marshal(s.Properties)
		if err != nil {
			return Input{}, fmt.Errorf("marshaling properties: %w", err)
		}
		if err := json.Unmarshal(raw, &props); err != nil {
			return Input{}, fmt.Errorf("unmarshaling properties: %w", err)
		}
	}
	return Input{Properties: props, Required: s.Required}, nil
}
