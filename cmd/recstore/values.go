package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/maruel/recstore/internal/jsondoc"
	"github.com/maruel/recstore/internal/recstore"
)

// parseAssignments converts name=value arguments into fields, parsing each
// value according to the declared field type.
//
// Undeclared names are passed through as text so the store reports them with
// the list of declared fields.
func parseAssignments(schema *jsondoc.Schema, args []string) ([]recstore.Field, error) {
	out := make([]recstore.Field, 0, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected name=value, got %q", arg)
		}
		f, ok := schema.Field(name)
		if !ok {
			out = append(out, recstore.Field{Name: name, Value: raw})
			continue
		}
		v, err := parseValue(&f, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, recstore.Field{Name: name, Value: v})
	}
	return out, nil
}

// parseValue parses a command line value for field f.
func parseValue(f *jsondoc.Field, raw string) (any, error) {
	switch f.Type {
	case jsondoc.FieldTypeText:
		return raw, nil
	case jsondoc.FieldTypeDate:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		return t, nil
	default:
		// Numbers, booleans and JSON values use their JSON spelling.
		v := reflect.New(f.GoType())
		if err := json.Unmarshal([]byte(raw), v.Interface()); err != nil {
			return nil, fmt.Errorf("field %q: invalid %s value %q: %w", f.Name, f.Type, raw, err)
		}
		return v.Elem().Interface(), nil
	}
}
