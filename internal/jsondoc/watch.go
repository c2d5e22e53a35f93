package jsondoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the document when another process rewrites the backing file.
//
// The parent directory is watched so that files replaced by rename are still
// seen. Changes whose content equals what this Manager last wrote or loaded
// are ignored. onReload, if not nil, is called from the watch goroutine after
// each reload attempt with its result; a failed reload keeps the previous
// state.
//
// The returned channel is closed once the watch goroutine exits after ctx is
// done.
func (m *Manager[T]) Watch(ctx context.Context, onReload func(error)) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	name := filepath.Clean(m.path)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				changed, err := m.reloadIfChanged()
				if err != nil {
					slog.WarnContext(ctx, "Failed to reload document", "path", m.path, "err", err)
				} else if changed {
					slog.InfoContext(ctx, "Reloaded document after external change", "path", m.path)
				}
				if (err != nil || changed) && onReload != nil {
					onReload(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching document", "path", m.path, "err", err)
			}
		}
	}()
	return done, nil
}

// reloadIfChanged loads the file when its content differs from the last
// bytes written or loaded.
func (m *Manager[T]) reloadIfChanged() (bool, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		// Removed, or between the two halves of a rename.
		return false, nil
	}
	if err != nil {
		return false, &LoadError{Path: m.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// Truncated by a writer that has not finished yet.
		return false, nil
	}
	m.mu.RLock()
	same := bytes.Equal(data, m.written)
	gen := m.gen
	m.mu.RUnlock()
	if same {
		return false, nil
	}
	doc, err := decodeDocument[T](data, m.schema)
	if err != nil {
		return false, &LoadError{Path: m.path, Err: err}
	}
	return m.install(doc, data, gen), nil
}

// install replaces the in-memory document with doc, read from data, unless
// the document changed since generation gen was observed.
func (m *Manager[T]) install(doc Document[T], data []byte, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.doc = doc
	m.written = data
	m.gen++
	return true
}
