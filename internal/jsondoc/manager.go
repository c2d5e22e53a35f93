package jsondoc

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Manager owns the in-memory copy of one Document and is the sole writer of
// its backing file.
//
// Every mutation rewrites the whole file before returning. The in-memory
// state is only replaced once the file write succeeded, so a failed call
// leaves both unchanged.
type Manager[T any] struct {
	path   string
	meta   Metadata
	schema *Schema
	now    func() time.Time

	mu      sync.RWMutex
	doc     Document[T]
	written []byte
	// gen is bumped every time doc is replaced.
	gen uint64
}

// NewManager opens the document at path, creating it when missing.
//
// meta provides the version, title and description written on every save.
// A malformed version is a ValidationError. An existing file that fails to
// decode is a *LoadError.
func NewManager[T any](path string, meta Metadata) (*Manager[T], error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	m := &Manager[T]{
		path:   path,
		meta:   Metadata{Version: meta.Version, Title: meta.Title, Description: meta.Description},
		schema: schema,
		now:    time.Now,
	}
	if err := m.open(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager[T]) open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if dir := filepath.Dir(m.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directories are world readable
				return fmt.Errorf("failed to create directory for %s: %w", m.path, err)
			}
		}
		slog.Debug("Creating document", "path", m.path)
		return m.persist(orderedmap.New[int, T]())
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", m.path, err)
	case len(bytes.TrimSpace(data)) == 0:
		slog.Debug("Initializing empty document", "path", m.path)
		return m.persist(orderedmap.New[int, T]())
	}

	doc, err := decodeDocument[T](data, m.schema)
	if err != nil {
		return &LoadError{Path: m.path, Err: err}
	}
	m.doc = doc
	m.written = data
	m.gen++
	if compareVersions(doc.Metadata.Version, m.meta.Version) > 0 {
		slog.Warn("Stored document is newer than the configured version",
			"path", m.path, "stored", doc.Metadata.Version, "configured", m.meta.Version)
	}
	return nil
}

// Path returns the backing file path.
func (m *Manager[T]) Path() string {
	return m.path
}

// Schema returns the declared record shape.
func (m *Manager[T]) Schema() *Schema {
	return m.schema
}

// Metadata returns a copy of the current metadata.
func (m *Manager[T]) Metadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Metadata.clone()
}

// Len returns the number of records.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Len()
}

// Read returns a copy of the current document.
func (m *Manager[T]) Read() Document[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.clone()
}

// Records returns copies of all records in storage order.
func (m *Manager[T]) Records() []Record[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.List()
}

// All returns an iterator over copies of all records in storage order.
func (m *Manager[T]) All() iter.Seq[Record[T]] {
	return func(yield func(Record[T]) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.doc.Records == nil {
			return
		}
		for p := m.doc.Records.Oldest(); p != nil; p = p.Next() {
			if !yield(Record[T]{ID: p.Key, Data: cloneValue(p.Value)}) {
				return
			}
		}
	}
}

// Write merges records into the document and persists it.
//
// Records with a new ID are appended; records with an existing ID replace
// the stored value in place.
func (m *Manager[T]) Write(records ...Record[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := cloneRecords(m.doc.Records)
	for i := range records {
		if err := checkRecord(&records[i]); err != nil {
			return err
		}
		next.Set(records[i].ID, cloneValue(records[i].Data))
	}
	return m.persist(next)
}

// Replace replaces all records and persists the document.
//
// Metadata is kept. When records repeat an ID, the last one wins.
func (m *Manager[T]) Replace(records []Record[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := orderedmap.New[int, T]()
	for i := range records {
		if err := checkRecord(&records[i]); err != nil {
			return err
		}
		next.Set(records[i].ID, cloneValue(records[i].Data))
	}
	return m.persist(next)
}

// Load re-reads the backing file into memory.
//
// On failure the previous in-memory state is kept and a *LoadError is
// returned, including when the file was removed by someone else.
func (m *Manager[T]) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return &LoadError{Path: m.path, Err: err}
	}
	doc, err := decodeDocument[T](data, m.schema)
	if err != nil {
		return &LoadError{Path: m.path, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc
	m.written = data
	m.gen++
	return nil
}

// Delete removes the backing file if it exists and is a regular file.
//
// The in-memory document is kept; the next write recreates the file.
func (m *Manager[T]) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Lstat(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", m.path, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	if err := os.Remove(m.path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", m.path, err)
	}
	m.written = nil
	m.gen++
	slog.Debug("Deleted document", "path", m.path)
	return nil
}

// persist writes records with refreshed metadata and installs the result.
//
// Must be called with mu held.
func (m *Manager[T]) persist(records *orderedmap.OrderedMap[int, T]) error {
	meta := m.meta.clone()
	storage := DefaultStorage
	meta.Storage = &storage
	meta.Timestamps = m.doc.Metadata.Timestamps.next(m.now())

	doc := Document[T]{Metadata: meta, Records: records}
	data, err := doc.encode()
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(m.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.path, err)
	}
	m.doc = doc
	m.written = data
	m.gen++
	return nil
}

func checkRecord[T any](r *Record[T]) error {
	if r.ID <= 0 {
		return &ValidationError{Field: "id", Value: r.ID, Reason: errInvalidRecordID.Error()}
	}
	return ValidateRecord(&r.Data)
}
