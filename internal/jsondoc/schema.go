// Handles the declared record shape: field names, types and value checks.

package jsondoc

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// FieldType is the storage type of a record field.
type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
	FieldTypeBool   FieldType = "bool"
	FieldTypeDate   FieldType = "date"
	FieldTypeJSONB  FieldType = "jsonb"
)

// Field describes one declared field of the record type.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`

	index  []int
	goType reflect.Type
}

// GoType returns the Go type of the field.
func (f *Field) GoType() reflect.Type {
	return f.goType
}

// Schema is the field table of a record type.
type Schema struct {
	typ    reflect.Type
	js     *jsonschema.Schema
	fields []Field
	byName map[string]int
}

// SchemaFor builds the schema of T, which must be a struct.
//
// Field names, required flags and descriptions come from JSON Schema
// reflection so they match what is written to disk: a field is required
// unless its json tag has omitempty, and descriptions come from
// `jsonschema:"description=..."` tags.
func SchemaFor[T any]() (*Schema, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w, got %s", errNotStruct, t.Kind())
	}

	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	js := r.ReflectFromType(t)

	required := make(map[string]bool, len(js.Required))
	for _, name := range js.Required {
		required[name] = true
	}

	byJSONName := make(map[string]reflect.StructField)
	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Tag.Get("json") == "-" {
			continue
		}
		if sf.Anonymous && sf.Tag.Get("json") == "" {
			// Embedded struct; its promoted fields are visited separately.
			continue
		}
		name := jsonFieldName(&sf)
		if _, dup := byJSONName[name]; dup && len(sf.Index) > 1 {
			// Outer fields shadow promoted ones, like encoding/json.
			continue
		}
		byJSONName[name] = sf
	}

	s := &Schema{typ: t, js: js, byName: make(map[string]int)}
	if js.Properties == nil {
		return s, nil
	}
	for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
		sf, ok := byJSONName[pair.Key]
		if !ok {
			continue
		}
		s.byName[pair.Key] = len(s.fields)
		s.fields = append(s.fields, Field{
			Name:        pair.Key,
			Type:        goTypeToFieldType(sf.Type),
			Required:    required[pair.Key],
			Description: pair.Value.Description,
			index:       sf.Index,
			goType:      sf.Type,
		})
	}
	return s, nil
}

// Fields returns the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the declared field with the given JSON name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Names returns the declared field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i := range s.fields {
		out[i] = s.fields[i].Name
	}
	return out
}

// JSONSchema returns the JSON Schema of the record type.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	return s.js
}

// Lookup validates that name is declared and that value type-checks against
// it. It returns the field and the value converted to the field's Go type.
func (s *Schema) Lookup(name string, value any) (Field, reflect.Value, error) {
	f, ok := s.Field(name)
	if !ok {
		return Field{}, reflect.Value{}, &ValidationError{
			Field:  name,
			Value:  value,
			Reason: fmt.Sprintf("unknown field; declared fields are %s", strings.Join(s.Names(), ", ")),
		}
	}
	v, err := f.Coerce(value)
	if err != nil {
		return Field{}, reflect.Value{}, err
	}
	return f, v, nil
}

// Get returns the value of field f in record, which must be of the schema's
// type or a pointer to it. The second return is false when f lives behind a
// nil embedded pointer.
func (f *Field) Get(record any) (reflect.Value, bool) {
	rv := reflect.ValueOf(record)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	v, err := rv.FieldByIndexErr(f.index)
	if err != nil {
		return reflect.Value{}, false
	}
	return v, true
}

// Set assigns v, which must come from Coerce, to field f of *record.
func (f *Field) Set(record any, v reflect.Value) error {
	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("record must be a non-nil pointer, got %T", record)
	}
	dst := rv.Elem()
	for i, x := range f.index {
		if i > 0 && dst.Kind() == reflect.Pointer {
			if dst.IsNil() {
				dst.Set(reflect.New(dst.Type().Elem()))
			}
			dst = dst.Elem()
		}
		dst = dst.Field(x)
	}
	dst.Set(v)
	return nil
}

// Matches reports whether the field of record equals v.
func (f *Field) Matches(record any, v reflect.Value) bool {
	got, ok := f.Get(record)
	if !ok {
		return false
	}
	return valuesEqual(got, v)
}

// Coerce checks that value can be stored in the field and returns it
// converted to the field's Go type.
//
// Integers convert between widths when in range, whole floats are accepted
// for integer fields and any number for float fields. Named types convert to
// and from their underlying kind. nil is accepted for pointer, slice, map and
// interface fields. Everything else is a ValidationError; in particular
// strings are never parsed into numbers.
func (f *Field) Coerce(value any) (reflect.Value, error) {
	ft := f.goType
	if value == nil {
		switch ft.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			return reflect.Zero(ft), nil
		default:
			return reflect.Value{}, f.mismatch(value)
		}
	}
	rv := reflect.ValueOf(value)
	if v, ok := convertValue(ft, rv); ok {
		return v, nil
	}
	if ft.Kind() == reflect.Pointer {
		if v, ok := convertValue(ft.Elem(), rv); ok {
			p := reflect.New(ft.Elem())
			p.Elem().Set(v)
			return p, nil
		}
	}
	return reflect.Value{}, f.mismatch(value)
}

func (f *Field) mismatch(value any) error {
	return &ValidationError{
		Field:  f.Name,
		Value:  value,
		Reason: fmt.Sprintf("value %#v of type %T is not a valid %s", value, value, f.goType),
	}
}

func convertValue(ft reflect.Type, rv reflect.Value) (reflect.Value, bool) {
	if rv.Type().AssignableTo(ft) {
		v := reflect.New(ft).Elem()
		v.Set(rv)
		return v, true
	}
	dst := reflect.Zero(ft)
	switch {
	case isInt(ft.Kind()):
		var i int64
		switch {
		case isInt(rv.Kind()):
			i = rv.Int()
		case isUint(rv.Kind()):
			u := rv.Uint()
			if u > math.MaxInt64 {
				return reflect.Value{}, false
			}
			i = int64(u)
		case isFloat(rv.Kind()):
			fl := rv.Float()
			if fl != math.Trunc(fl) || fl < math.MinInt64 || fl >= math.MaxInt64 {
				return reflect.Value{}, false
			}
			i = int64(fl)
		default:
			return reflect.Value{}, false
		}
		if dst.OverflowInt(i) {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(i).Convert(ft), true
	case isUint(ft.Kind()):
		var u uint64
		switch {
		case isInt(rv.Kind()):
			i := rv.Int()
			if i < 0 {
				return reflect.Value{}, false
			}
			u = uint64(i)
		case isUint(rv.Kind()):
			u = rv.Uint()
		case isFloat(rv.Kind()):
			fl := rv.Float()
			if fl != math.Trunc(fl) || fl < 0 || fl >= math.MaxUint64 {
				return reflect.Value{}, false
			}
			u = uint64(fl)
		default:
			return reflect.Value{}, false
		}
		if dst.OverflowUint(u) {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(u).Convert(ft), true
	case isFloat(ft.Kind()):
		var fl float64
		switch {
		case isInt(rv.Kind()):
			fl = float64(rv.Int())
		case isUint(rv.Kind()):
			fl = float64(rv.Uint())
		case isFloat(rv.Kind()):
			fl = rv.Float()
		default:
			return reflect.Value{}, false
		}
		if dst.OverflowFloat(fl) {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(fl).Convert(ft), true
	case ft.Kind() == rv.Kind() && rv.Type().ConvertibleTo(ft):
		return rv.Convert(ft), true
	}
	return reflect.Value{}, false
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	default:
		return false
	}
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// valuesEqual compares two values of the same field type.
func valuesEqual(a, b reflect.Value) bool {
	x, y := a.Interface(), b.Interface()
	if tx, ok := x.(time.Time); ok {
		if ty, ok := y.(time.Time); ok {
			return tx.Equal(ty)
		}
	}
	return reflect.DeepEqual(x, y)
}

// jsonFieldName returns the JSON field name for a struct field.
func jsonFieldName(field *reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}

// goTypeToFieldType maps Go types to field types.
func goTypeToFieldType(t reflect.Type) FieldType {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[time.Time]() {
		return FieldTypeDate
	}
	if t.Implements(reflect.TypeFor[json.Marshaler]()) {
		return FieldTypeJSONB
	}
	switch t.Kind() {
	case reflect.String:
		return FieldTypeText
	case reflect.Bool:
		return FieldTypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return FieldTypeNumber
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map, reflect.Interface:
		return FieldTypeJSONB
	default:
		return FieldTypeText
	}
}
