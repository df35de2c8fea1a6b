package memory

import (
	"context"
	"sync"

	"github.com/porthorian/consoleauth/pkg/storage"
)

type Adapter struct {
	mu      sync.RWMutex
	entries map[string]string
}

var _ storage.KeyValueStore = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		entries: map[string]string{},
	}
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
	a.entries[key] = value
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
	return nil
}

// Len returns the number of stored keys.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
