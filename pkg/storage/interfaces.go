package storage

import (
	"context"
	"errors"
	"strings"
)

// Fixed keys written by the console session.
const (
	KeyToken        = "token"
	KeyRefreshToken = "refreshToken"
	KeyPermissions  = "permissions"
)

var ErrEmptyKey = errors.New("storage: key is required")

// KeyValueStore is durable string storage in the shape of a browser's
// localStorage. Get reports a missing key with ok=false and a nil error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

// Closer is implemented by stores that hold connections or file handles.
type Closer interface {
	Close() error
}

// Batcher is implemented by stores that can apply several writes atomically.
type Batcher interface {
	WithBatch(ctx context.Context, fn func(store KeyValueStore) error) error
}

// Batch runs fn inside store's batch when it supports one, otherwise
// directly against store.
func Batch(ctx context.Context, store KeyValueStore, fn func(store KeyValueStore) error) error {
	if batcher, ok := store.(Batcher); ok {
		return batcher.WithBatch(ctx, fn)
	}
	return fn(store)
}

func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

// NamespacedKey prefixes key so several consoles can share one backend.
func NamespacedKey(namespace string, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}
