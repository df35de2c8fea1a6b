// Package file persists the console's key-value entries as a single JSON
// document, the on-disk counterpart of a browser's localStorage.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/porthorian/consoleauth/pkg/storage"
)

const filePerm = 0o600

var ErrNilFs = errors.New("file storage: filesystem is nil")

type Adapter struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	entries map[string]string
}

var (
	_ storage.KeyValueStore = (*Adapter)(nil)
	_ storage.Batcher       = (*Adapter)(nil)
)

// NewAdapter loads path from fsys, treating a missing file as empty storage.
func NewAdapter(fsys afero.Fs, path string) (*Adapter, error) {
	if fsys == nil {
		return nil, ErrNilFs
	}
	if path == "" {
		return nil, errors.New("file storage: path is required")
	}

	a := &Adapter{
		fs:      fsys,
		path:    path,
		entries: map[string]string{},
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return a, nil
		}
		return nil, fmt.Errorf("file storage: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return a, nil
	}

	if err := json.Unmarshal(data, &a.entries); err != nil {
		return nil, fmt.Errorf("file storage: decode %s: %w", path, err)
	}
	if a.entries == nil {
		a.entries = map[string]string{}
	}
	return a, nil
}

func (a *Adapter) Path() string {
	return a.path
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", false, err
	}

	a.mu.RLock()
	value, ok := a.entries[key]
	a.mu.RUnlock()
	return value, ok, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	previous, existed := a.entries[key]
	a.entries[key] = value
	if err := a.flushLocked(); err != nil {
		if existed {
			a.entries[key] = previous
		} else {
			delete(a.entries, key)
		}
		return err
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	previous, existed := a.entries[key]
	if !existed {
		return nil
	}
	delete(a.entries, key)
	if err := a.flushLocked(); err != nil {
		a.entries[key] = previous
		return err
	}
	return nil
}

// WithBatch applies fn to a staged copy of the entries and writes the
// document once. Nothing is kept when fn or the write fails.
func (a *Adapter) WithBatch(ctx context.Context, fn func(store storage.KeyValueStore) error) error {
	if fn == nil {
		return errors.New("file storage: batch callback is nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	staged := &batch{entries: maps.Clone(a.entries)}
	if err := fn(staged); err != nil {
		return err
	}

	previous := a.entries
	a.entries = staged.entries
	if err := a.flushLocked(); err != nil {
		a.entries = previous
		return err
	}
	return nil
}

// batch is the view handed to a WithBatch callback. The adapter lock is
// held for its whole lifetime.
type batch struct {
	entries map[string]string
}

func (b *batch) Get(ctx context.Context, key string) (string, bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", false, err
	}
	value, ok := b.entries[key]
	return value, ok, nil
}

func (b *batch) Set(ctx context.Context, key string, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	b.entries[key] = value
	return nil
}

func (b *batch) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	delete(b.entries, key)
	return nil
}

// flushLocked writes to a sibling temp file and renames it over path so a
// crash never leaves a truncated document behind.
func (a *Adapter) flushLocked() error {
	data, err := json.Marshal(a.entries)
	if err != nil {
		return fmt.Errorf("file storage: encode: %w", err)
	}

	dir := filepath.Dir(a.path)
	if err := a.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file storage: create %s: %w", dir, err)
	}

	tmp := a.path + ".tmp"
	if err := afero.WriteFile(a.fs, tmp, data, filePerm); err != nil {
		return fmt.Errorf("file storage: write %s: %w", tmp, err)
	}
	if err := a.fs.Rename(tmp, a.path); err != nil {
		_ = a.fs.Remove(tmp)
		return fmt.Errorf("file storage: replace %s: %w", a.path, err)
	}
	return nil
}
