// Handles the document model and its strict JSON decoding.

package jsondoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	errMetadataRequired = errors.New("metadata is required")
	errTrailingData     = errors.New("unexpected data after document")
	errRecordNotObject  = errors.New("record must be a JSON object")
)

// Record is one stored record and its identifier.
type Record[T any] struct {
	ID   int `json:"id"`
	Data T   `json:"data"`
}

// Document is the on-disk unit: metadata plus every record of one table.
//
// Records are keyed by identifier and kept in insertion order.
type Document[T any] struct {
	Metadata Metadata                       `json:"metadata"`
	Records  *orderedmap.OrderedMap[int, T] `json:"records"`
}

// Len returns the number of records.
func (d *Document[T]) Len() int {
	if d.Records == nil {
		return 0
	}
	return d.Records.Len()
}

// List returns the records in storage order.
func (d *Document[T]) List() []Record[T] {
	out := make([]Record[T], 0, d.Len())
	if d.Records == nil {
		return out
	}
	for p := d.Records.Oldest(); p != nil; p = p.Next() {
		out = append(out, Record[T]{ID: p.Key, Data: cloneValue(p.Value)})
	}
	return out
}

func (d *Document[T]) clone() Document[T] {
	return Document[T]{Metadata: d.Metadata.clone(), Records: cloneRecords(d.Records)}
}

func (d *Document[T]) encode() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return append(data, '\n'), nil
}

func cloneRecords[T any](src *orderedmap.OrderedMap[int, T]) *orderedmap.OrderedMap[int, T] {
	dst := orderedmap.New[int, T]()
	if src == nil {
		return dst
	}
	for p := src.Oldest(); p != nil; p = p.Next() {
		dst.Set(p.Key, cloneValue(p.Value))
	}
	return dst
}

// Cloner is implemented by record types holding slices, maps or pointers that
// must not be shared between the stored record and copies handed out.
type Cloner[T any] interface {
	Clone() T
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	if c, ok := any(&v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// Validator is implemented by record types with constraints beyond their
// field types. Validate runs on load and before every write.
type Validator interface {
	Validate() error
}

// ValidateRecord runs the Validator hook of *v, if any, and reports a failure
// as a ValidationError.
func ValidateRecord[T any](v *T) error {
	if h, ok := any(v).(Validator); ok {
		if err := h.Validate(); err != nil {
			return &ValidationError{Reason: err.Error()}
		}
	}
	return nil
}

// rawDocument mirrors Document with presence tracking for required keys.
type rawDocument struct {
	Metadata *rawMetadata                                 `json:"metadata"`
	Records  *orderedmap.OrderedMap[int, json.RawMessage] `json:"records"`
}

type rawMetadata struct {
	Version     *string            `json:"version"`
	Title       *string            `json:"title"`
	Description *string            `json:"description"`
	Storage     *StorageDescriptor `json:"storage"`
	Timestamps  *Timestamps        `json:"timestamps"`
}

func (r *rawMetadata) toMetadata() (Metadata, error) {
	if r == nil {
		return Metadata{}, errMetadataRequired
	}
	for _, k := range []struct {
		name string
		v    *string
	}{{"version", r.Version}, {"title", r.Title}, {"description", r.Description}} {
		if k.v == nil {
			return Metadata{}, fmt.Errorf("metadata: %w %q", errMissingKey, k.name)
		}
	}
	m := Metadata{
		Version:     *r.Version,
		Title:       *r.Title,
		Description: *r.Description,
		Storage:     r.Storage,
		Timestamps:  r.Timestamps,
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("metadata: %w", err)
	}
	return m, nil
}

// decodeDocument strictly decodes data against the document schema and the
// record schema.
func decodeDocument[T any](data []byte, schema *Schema) (Document[T], error) {
	var raw rawDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Document[T]{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Document[T]{}, errTrailingData
	}
	if err := checkDocumentKeys(data); err != nil {
		return Document[T]{}, err
	}
	meta, err := raw.Metadata.toMetadata()
	if err != nil {
		return Document[T]{}, err
	}
	records := orderedmap.New[int, T]()
	if raw.Records != nil {
		for p := raw.Records.Oldest(); p != nil; p = p.Next() {
			if p.Key <= 0 {
				return Document[T]{}, fmt.Errorf("record %d: %w", p.Key, errInvalidRecordID)
			}
			v, err := decodeRecord[T](p.Value, schema)
			if err != nil {
				return Document[T]{}, fmt.Errorf("record %d: %w", p.Key, err)
			}
			records.Set(p.Key, v)
		}
	}
	return Document[T]{Metadata: meta, Records: records}, nil
}

// checkDocumentKeys rejects keys that differ from the declared ones, case
// included. encoding/json matches field names case-insensitively, so
// DisallowUnknownFields alone lets "METADATA" through.
func checkDocumentKeys(data []byte) error {
	top, err := checkKeys(data, "", "metadata", "records")
	if err != nil {
		return err
	}
	meta, err := checkKeys(top["metadata"], "metadata", "version", "title", "description", "storage", "timestamps")
	if err != nil {
		return err
	}
	if _, err := checkKeys(meta["storage"], "metadata.storage", "type", "format", "encryption"); err != nil {
		return err
	}
	_, err = checkKeys(meta["timestamps"], "metadata.timestamps", "created_at", "updated_at")
	return err
}

// checkKeys decodes the object raw and returns its members. An absent or null
// raw yields no members.
func checkKeys(raw json.RawMessage, where string, allowed ...string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if !slices.Contains(allowed, k) {
			if where == "" {
				return nil, fmt.Errorf("%w %q", errUnknownKey, k)
			}
			return nil, fmt.Errorf("%s: %w %q", where, errUnknownKey, k)
		}
	}
	return m, nil
}

func decodeRecord[T any](raw json.RawMessage, schema *Schema) (T, error) {
	var zero T
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return zero, err
	}
	if keys == nil {
		return zero, errRecordNotObject
	}
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		if _, ok := schema.byName[k]; !ok {
			return zero, fmt.Errorf("%w %q", errUnknownKey, k)
		}
	}
	for i := range schema.fields {
		f := &schema.fields[i]
		if _, ok := keys[f.Name]; f.Required && !ok {
			return zero, fmt.Errorf("%w %q", errMissingKey, f.Name)
		}
	}
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return zero, err
	}
	if err := ValidateRecord(&v); err != nil {
		return zero, err
	}
	return v, nil
}
