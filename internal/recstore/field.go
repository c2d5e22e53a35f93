// Handles field predicates and updates shared by queries and mutations.

package recstore

import (
	"reflect"

	"github.com/maruel/recstore/internal/jsondoc"
)

// Field is a field name and a value.
//
// As a filter it matches records whose field equals Value. As an update it
// assigns Value to the field. Name is the JSON name of a declared field.
type Field struct {
	Name  string
	Value any
}

// Eq returns a filter matching records whose field name equals value.
func Eq(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Set returns an update assigning value to the field name.
func Set(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// boundField is a Field checked against the schema.
type boundField struct {
	field jsondoc.Field
	value reflect.Value
}

// bind validates every field name and value against the schema before any
// record is read.
func bind(schema *jsondoc.Schema, fields []Field) ([]boundField, error) {
	out := make([]boundField, 0, len(fields))
	for _, f := range fields {
		sf, v, err := schema.Lookup(f.Name, f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, boundField{field: sf, value: v})
	}
	return out, nil
}

// matches reports whether v satisfies every filter. No filters match every
// record.
func matches[T any](v *T, filters []boundField) bool {
	for i := range filters {
		if !filters[i].field.Matches(v, filters[i].value) {
			return false
		}
	}
	return true
}

func apply[T any](v *T, updates []boundField) error {
	for i := range updates {
		if err := updates[i].field.Set(v, updates[i].value); err != nil {
			return err
		}
	}
	return nil
}
