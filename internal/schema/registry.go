package schema

import (
	"fmt"
	"strings"
)

// Registry resolves data type names to schemas. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	schemas map[DataType]Schema
	order   []DataType
}

// NewRegistry builds a registry from the given schemas.
// Duplicate types and schemas without a transform are rejected.
func NewRegistry(schemas ...Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[DataType]Schema, len(schemas))}

	for _, s := range schemas {
		if s.Type == "" {
			return nil, fmt.Errorf("schema without a data type")
		}
		if _, exists := r.schemas[s.Type]; exists {
			return nil, fmt.Errorf("data type already registered: %s", s.Type)
		}
		if s.Transform == nil {
			return nil, fmt.Errorf("data type %s has no transform", s.Type)
		}
		if s.Table == "" {
			s.Table = string(s.Type)
		}
		for field := range s.Validators {
			if !s.Known(field) {
				return nil, fmt.Errorf("data type %s: validator for unknown field %q", s.Type, field)
			}
		}
		r.schemas[s.Type] = s
		r.order = append(r.order, s.Type)
	}

	return r, nil
}

// Default returns a registry holding every built-in data type.
func Default() *Registry {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		panic(fmt.Sprintf("built-in schemas: %v", err))
	}
	return r
}

// Builtin returns the built-in schemas in display order.
func Builtin() []Schema {
	return []Schema{
		kpiMetrics(),
		contentPerformance(),
		risks(),
		bugsSprints(),
		infraMetrics(),
	}
}

// Lookup returns the schema for name, ignoring case and surrounding space,
// or an error wrapping ErrUnknownDataType.
func (r *Registry) Lookup(name string) (Schema, error) {
	s, ok := r.schemas[DataType(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownDataType, name)
	}
	return s, nil
}

// Types returns the registered data types in registration order.
func (r *Registry) Types() []DataType {
	out := make([]DataType, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns the registered schemas in registration order.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.schemas[t])
	}
	return out
}
