package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/porthorian/consoleauth/pkg/storage"
)

var ErrNilClient = errors.New("redis storage: client is nil")

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	// TTL bounds how long entries survive; zero keeps them until removed.
	TTL time.Duration
}

type Adapter struct {
	client    goredis.UniversalClient
	namespace string
	ttl       time.Duration
	owned     bool
}

var (
	_ storage.KeyValueStore = (*Adapter)(nil)
	_ storage.Closer        = (*Adapter)(nil)
	_ storage.Batcher       = (*Adapter)(nil)
)

// NewAdapter dials a dedicated client from config. Close releases it.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Address == "" {
		return nil, errors.New("redis storage: address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	return &Adapter{
		client:    client,
		namespace: config.Namespace,
		ttl:       config.TTL,
		owned:     true,
	}, nil
}

// NewAdapterWithClient wraps a caller-owned client. Close leaves it open.
func NewAdapterWithClient(client goredis.UniversalClient, namespace string, ttl time.Duration) (*Adapter, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Adapter{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis storage: ping: %w", err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", false, err
	}

	value, err := a.client.Get(ctx, storage.NamespacedKey(a.namespace, key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis storage: get %s: %w", key, err)
	}
	return value, true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	if err := a.client.Set(ctx, storage.NamespacedKey(a.namespace, key), value, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis storage: set %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	if err := a.client.Del(ctx, storage.NamespacedKey(a.namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis storage: remove %s: %w", key, err)
	}
	return nil
}

// WithBatch queues the writes fn makes and runs them in one MULTI/EXEC.
// Nothing is sent when fn fails. Reads inside fn see committed values only.
func (a *Adapter) WithBatch(ctx context.Context, fn func(store storage.KeyValueStore) error) error {
	if fn == nil {
		return errors.New("redis storage: batch callback is nil")
	}

	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		return fn(&batch{adapter: a, pipe: pipe})
	})
	if err != nil {
		return fmt.Errorf("redis storage: batch: %w", err)
	}
	return nil
}

type batch struct {
	adapter *Adapter
	pipe    goredis.Pipeliner
}

func (b *batch) Get(ctx context.Context, key string) (string, bool, error) {
	return b.adapter.Get(ctx, key)
}

func (b *batch) Set(ctx context.Context, key string, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	b.pipe.Set(ctx, storage.NamespacedKey(b.adapter.namespace, key), value, b.adapter.ttl)
	return nil
}

func (b *batch) Remove(ctx context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	b.pipe.Del(ctx, storage.NamespacedKey(b.adapter.namespace, key))
	return nil
}

func (a *Adapter) Close() error {
	if a == nil || !a.owned {
		return nil
	}
	return a.client.Close()
}
