// Package configuration implements schema-driven validation for
// connector options. Each connector type declares an ordered list of
// field descriptors; a Container pairs one such schema with a value
// mapping and guarantees the two agree after every successful mutation.
package configuration

import (
	"fmt"
	"sort"

	"github.com/ordd/redash/pkg/apperrors"
)

// FieldType enumerates the value types a schema field may declare.
type FieldType string

const (
	// TypeString accepts string values.
	TypeString FieldType = "string"
	// TypeNumber accepts integer and floating point values.
	TypeNumber FieldType = "number"
	// TypeBoolean accepts bool values.
	TypeBoolean FieldType = "boolean"
	// TypeSecret accepts string values and excludes them from masked
	// serialization.
	TypeSecret FieldType = "secret"
)

// Field describes a single configuration field.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Schema is an ordered set of field descriptors. Order is significant:
// validation reports the first violation in declared order. A Schema is
// immutable once registered for a connector type.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Lookup returns the descriptor for the named field.
func (s Schema) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Container holds a schema reference and a value mapping that has been
// validated against it. All mutation is validate-then-commit: a failed
// Update leaves the previously accepted values untouched.
type Container struct {
	schema Schema
	values map[string]any
}

// New validates rawValues against schema and returns a Container
// holding exactly the accepted mapping. Unknown fields are rejected,
// not dropped: persisting a half-valid configuration only defers the
// failure to connection time.
func New(rawValues map[string]any, schema Schema) (*Container, error) {
	values := cloneValues(rawValues)
	if err := validate(values, schema); err != nil {
		return nil, err
	}
	return &Container{schema: schema, values: values}, nil
}

// Rehydrate builds a Container from previously accepted values without
// re-validating them. It exists for loading stored configurations whose
// schema may have changed since they were written; IsValid reports the
// drift without blocking the load.
func Rehydrate(values map[string]any, schema Schema) *Container {
	return &Container{schema: schema, values: cloneValues(values)}
}

// SetSchema replaces the schema reference without re-validating the
// current values. Validation is deferred to the next Update or IsValid
// call so a schema swap and an options update can land as one commit.
func (c *Container) SetSchema(schema Schema) {
	c.schema = schema
}

// Schema returns the current schema reference.
func (c *Container) Schema() Schema {
	return c.schema
}

// Update merges partial into the current values, overwriting
// overlapping keys, then validates the merged result against the
// current schema in its entirety. A partial update that leaves a
// required field absent fails, since a preceding SetSchema may have
// introduced new requirements. On failure the container is unchanged.
func (c *Container) Update(partial map[string]any) error {
	merged := cloneValues(c.values)
	for k, v := range partial {
		merged[k] = v
	}
	if err := validate(merged, c.schema); err != nil {
		return err
	}
	c.values = merged
	return nil
}

// IsValid reports whether the current values satisfy the current
// schema. It never mutates the container.
func (c *Container) IsValid() bool {
	return validate(c.values, c.schema) == nil
}

// Get returns the value stored for the named field.
func (c *Container) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Map returns a copy of the value mapping. When revealSecrets is
// false, only fields the schema declares as non-secret are included:
// secret fields are omitted, and so is any value the current schema
// does not declare at all, since a drifted mapping may hold a secret
// under a name the schema no longer knows. This asymmetry is the
// access-control primitive for configuration exposure and is enforced
// identically for every caller.
func (c *Container) Map(revealSecrets bool) map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		if !revealSecrets {
			f, ok := c.schema.Lookup(k)
			if !ok || f.Type == TypeSecret {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// validate checks values field-by-field in schema-declared order:
// missing required field, then wrong type. Unknown keys are checked
// last, in sorted order so the reported field is deterministic.
func validate(values map[string]any, schema Schema) error {
	for _, f := range schema.Fields {
		v, present := values[f.Name]
		if !present {
			if f.Required {
				return apperrors.NewValidationError(f.Name, "required field is missing")
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			return apperrors.NewValidationError(f.Name, fmt.Sprintf("expected a %s value", f.Type))
		}
	}

	var unknown []string
	for k := range values {
		if _, ok := schema.Lookup(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperrors.NewValidationError(unknown[0], "unknown field")
	}
	return nil
}

// typeMatches accepts the Go representations a JSON decoder or caller
// may hand us for each declared type. Numbers arrive as float64 from
// encoding/json but as native ints from direct callers.
func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString, TypeSecret:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	}
	return false
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
