// Package recstore provides typed queries and mutations over the records of a
// jsondoc.Manager.
//
// Filters and updates name fields by their JSON name and are checked against
// the record schema before anything is read or written. Identifiers are
// assigned by the store: new records get max(id)+1 and, unless
// [Options.StableIDs] is set, deleting a record renumbers the remaining ones
// 1..N.
package recstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/maruel/recstore/internal/jsondoc"
)

// Record is a stored record and its id.
type Record[T any] = jsondoc.Record[T]

// Options configures a Store.
type Options struct {
	// UniqueFields lists the JSON names of fields whose combined values must
	// be unique across records. When empty, whole records must be unique.
	UniqueFields []string
	// StableIDs keeps record ids after a deletion. By default the remaining
	// records are renumbered 1..N in storage order.
	StableIDs bool
}

// Store provides queries and mutations over the records of a Manager.
//
// Every query works on a snapshot and every mutation is a full
// read-modify-write of the backing file.
type Store[T any] struct {
	m           *jsondoc.Manager[T]
	unique      []jsondoc.Field
	uniqueNames []string
	stableIDs   bool

	mu sync.Mutex
}

// New opens or creates the document at path and returns a Store over it.
func New[T any](path string, meta jsondoc.Metadata, opts *Options) (*Store[T], error) {
	m, err := jsondoc.NewManager[T](path, meta)
	if err != nil {
		return nil, err
	}
	return NewFromManager(m, opts)
}

// NewFromManager returns a Store over an existing Manager.
//
// Unique fields must be declared by T.
func NewFromManager[T any](m *jsondoc.Manager[T], opts *Options) (*Store[T], error) {
	s := &Store[T]{m: m}
	if opts == nil {
		return s, nil
	}
	s.stableIDs = opts.StableIDs
	schema := m.Schema()
	for _, name := range opts.UniqueFields {
		f, ok := schema.Field(name)
		if !ok {
			return nil, &jsondoc.ValidationError{Field: name, Reason: "unique field is not declared"}
		}
		if slices.Contains(s.uniqueNames, name) {
			continue
		}
		s.unique = append(s.unique, f)
		s.uniqueNames = append(s.uniqueNames, name)
	}
	return s, nil
}

// Manager returns the underlying Manager.
func (s *Store[T]) Manager() *jsondoc.Manager[T] {
	return s.m
}

// Schema returns the declared record shape.
func (s *Store[T]) Schema() *jsondoc.Schema {
	return s.m.Schema()
}

// All returns every record in storage order.
func (s *Store[T]) All() []Record[T] {
	return s.m.Records()
}

// Get returns the first record matching all filters.
func (s *Store[T]) Get(filters ...Field) (Record[T], bool, error) {
	bound, err := bind(s.m.Schema(), filters)
	if err != nil {
		return Record[T]{}, false, err
	}
	for r := range s.m.All() {
		if matches(&r.Data, bound) {
			return r, true, nil
		}
	}
	return Record[T]{}, false, nil
}

// First returns the first record in storage order.
func (s *Store[T]) First() (Record[T], bool) {
	all := s.m.Records()
	if len(all) == 0 {
		return Record[T]{}, false
	}
	return all[0], true
}

// Last returns the last record in storage order.
func (s *Store[T]) Last() (Record[T], bool) {
	all := s.m.Records()
	if len(all) == 0 {
		return Record[T]{}, false
	}
	return all[len(all)-1], true
}

// Count returns the number of records.
func (s *Store[T]) Count() int {
	return s.m.Len()
}

// Exists reports whether a record matches all filters.
func (s *Store[T]) Exists(filters ...Field) (bool, error) {
	_, ok, err := s.Get(filters...)
	return ok, err
}

// Filter returns every record matching all filters, in storage order.
func (s *Store[T]) Filter(filters ...Field) ([]Record[T], error) {
	bound, err := bind(s.m.Schema(), filters)
	if err != nil {
		return nil, err
	}
	var out []Record[T]
	for r := range s.m.All() {
		if matches(&r.Data, bound) {
			out = append(out, r)
		}
	}
	return out, nil
}

// FilterFunc returns every record for which pred returns true.
func (s *Store[T]) FilterFunc(pred func(T) bool) []Record[T] {
	var out []Record[T]
	for r := range s.m.All() {
		if pred(r.Data) {
			out = append(out, r)
		}
	}
	return out
}

// NextID returns the id the next created record gets.
func (s *Store[T]) NextID() int {
	return nextID(s.m.Records())
}

func nextID[T any](records []Record[T]) int {
	id := 0
	for i := range records {
		id = max(id, records[i].ID)
	}
	return id + 1
}

// Create stores the items that do not duplicate a stored record or an earlier
// item, and returns the created records.
//
// Every item is validated before anything is written. Nothing is written when
// every item is a duplicate.
func (s *Store[T]) Create(items ...T) ([]Record[T], error) {
	return s.create(items, true)
}

// Insert stores all items, or none if any of them is a duplicate.
//
// A duplicate is reported as a *jsondoc.DuplicateError.
func (s *Store[T]) Insert(items ...T) ([]Record[T], error) {
	return s.create(items, false)
}

func (s *Store[T]) create(items []T, skipDuplicates bool) ([]Record[T], error) {
	for i := range items {
		if err := jsondoc.ValidateRecord(&items[i]); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.m.Records()
	seen := make(map[string]struct{}, len(existing)+len(items))
	for i := range existing {
		k, err := s.key(&existing[i].Data)
		if err != nil {
			return nil, err
		}
		seen[k] = struct{}{}
	}

	id := nextID(existing)
	var created []Record[T]
	for i := range items {
		k, err := s.key(&items[i])
		if err != nil {
			return nil, err
		}
		if _, dup := seen[k]; dup {
			if !skipDuplicates {
				return nil, &jsondoc.DuplicateError{Fields: s.uniqueNames}
			}
			slog.Debug("Skipping duplicate record", "path", s.m.Path(), "fields", s.uniqueNames)
			continue
		}
		seen[k] = struct{}{}
		created = append(created, Record[T]{ID: id, Data: items[i]})
		id++
	}
	if len(created) == 0 {
		return []Record[T]{}, nil
	}
	if err := s.m.Write(created...); err != nil {
		return nil, err
	}
	slog.Debug("Created records", "path", s.m.Path(), "count", len(created))
	return created, nil
}

// Update finds the stored record equal to item, applies updates to it and
// stores it under the same id.
//
// Updates are validated before the record is looked up. A missing record is
// jsondoc.ErrNotFound.
func (s *Store[T]) Update(item T, updates ...Field) (Record[T], error) {
	bound, err := bind(s.m.Schema(), updates)
	if err != nil {
		return Record[T]{}, err
	}
	want, err := json.Marshal(item)
	if err != nil {
		return Record[T]{}, fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.m.Records()
	idx := -1
	for i := range existing {
		got, err := json.Marshal(existing[i].Data)
		if err != nil {
			return Record[T]{}, fmt.Errorf("failed to marshal record %d: %w", existing[i].ID, err)
		}
		if bytes.Equal(got, want) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Record[T]{}, jsondoc.ErrNotFound
	}
	r := existing[idx]
	if err := apply(&r.Data, bound); err != nil {
		return Record[T]{}, err
	}
	return s.save(existing, r)
}

// UpdateFunc calls fn on a copy of the record with the given id and stores
// the result. A missing record is jsondoc.ErrNotFound.
func (s *Store[T]) UpdateFunc(id int, fn func(*T) error) (Record[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.m.Records()
	i := slices.IndexFunc(existing, func(r Record[T]) bool { return r.ID == id })
	if i == -1 {
		return Record[T]{}, fmt.Errorf("record %d: %w", id, jsondoc.ErrNotFound)
	}
	r := existing[i]
	if err := fn(&r.Data); err != nil {
		return Record[T]{}, err
	}
	return s.save(existing, r)
}

// save validates r, checks it against every other record and writes it.
//
// Must be called with mu held.
func (s *Store[T]) save(existing []Record[T], r Record[T]) (Record[T], error) {
	if err := jsondoc.ValidateRecord(&r.Data); err != nil {
		return Record[T]{}, err
	}
	k, err := s.key(&r.Data)
	if err != nil {
		return Record[T]{}, err
	}
	for i := range existing {
		if existing[i].ID == r.ID {
			continue
		}
		other, err := s.key(&existing[i].Data)
		if err != nil {
			return Record[T]{}, err
		}
		if other == k {
			return Record[T]{}, &jsondoc.DuplicateError{Fields: s.uniqueNames}
		}
	}
	if err := s.m.Write(r); err != nil {
		return Record[T]{}, err
	}
	slog.Debug("Updated record", "path", s.m.Path(), "id", r.ID)
	return r, nil
}

// Delete removes the first record matching all filters and returns it with
// the id it had. The result is empty when nothing matched.
func (s *Store[T]) Delete(filters ...Field) ([]Record[T], error) {
	bound, err := bind(s.m.Schema(), filters)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.m.Records()
	idx := slices.IndexFunc(existing, func(r Record[T]) bool { return matches(&r.Data, bound) })
	if idx == -1 {
		return []Record[T]{}, nil
	}
	removed := existing[idx]
	rest := slices.Delete(existing, idx, idx+1)
	if !s.stableIDs {
		for i := range rest {
			rest[i].ID = i + 1
		}
	}
	if err := s.m.Replace(rest); err != nil {
		return nil, err
	}
	slog.Debug("Deleted record", "path", s.m.Path(), "id", removed.ID)
	return []Record[T]{removed}, nil
}

// Clear removes every record. Metadata is kept.
func (s *Store[T]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Replace(nil)
}

// Refresh reloads the records from the backing file.
func (s *Store[T]) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Load()
}

// key returns the identity of v used for duplicate detection: the unique
// field values, or the whole record when none are configured.
func (s *Store[T]) key(v *T) (string, error) {
	var data []byte
	var err error
	if len(s.unique) == 0 {
		data, err = json.Marshal(v)
	} else {
		values := make([]any, len(s.unique))
		for i := range s.unique {
			if fv, ok := s.unique[i].Get(v); ok {
				values[i] = fv.Interface()
			}
		}
		data, err = json.Marshal(values)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(data), nil
}
