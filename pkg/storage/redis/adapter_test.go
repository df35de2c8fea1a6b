package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/consoleauth/pkg/storage"
)

func newTestAdapter(t *testing.T, ttl time.Duration) (*Adapter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	adapter, err := NewAdapter(Config{
		Address:   mr.Addr(),
		Namespace: "console",
		TTL:       ttl,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return adapter, mr
}

func TestAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter, mr := newTestAdapter(t, 0)

	require.NoError(t, adapter.Ping(ctx))
	require.NoError(t, adapter.Set(ctx, storage.KeyToken, "access"))

	raw, err := mr.Get("console:token")
	require.NoError(t, err)
	require.Equal(t, "access", raw)

	value, ok, err := adapter.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "access", value)

	require.NoError(t, adapter.Remove(ctx, storage.KeyToken))
	require.False(t, mr.Exists("console:token"))

	_, ok, err = adapter.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdapterTTL(t *testing.T) {
	ctx := context.Background()
	adapter, mr := newTestAdapter(t, time.Minute)

	require.NoError(t, adapter.Set(ctx, storage.KeyRefreshToken, "refresh"))
	require.Equal(t, time.Minute, mr.TTL("console:refreshToken"))

	mr.FastForward(2 * time.Minute)

	_, ok, err := adapter.Get(ctx, storage.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdapterUnavailable(t *testing.T) {
	ctx := context.Background()
	adapter, mr := newTestAdapter(t, 0)
	mr.Close()

	_, _, err := adapter.Get(ctx, storage.KeyToken)
	require.Error(t, err)
}

func TestAdapterWithClientDoesNotCloseClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	adapter, err := NewAdapterWithClient(client, "", 0)
	require.NoError(t, err)
	require.NoError(t, adapter.Close())

	require.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewAdapterWithClient(nil, "", 0)
	require.ErrorIs(t, err, ErrNilClient)
}

func TestAdapterBatch(t *testing.T) {
	ctx := context.Background()
	adapter, mr := newTestAdapter(t, time.Minute)
	require.NoError(t, adapter.Set(ctx, storage.KeyPermissions, "127"))

	err := adapter.WithBatch(ctx, func(store storage.KeyValueStore) error {
		if err := store.Remove(ctx, storage.KeyPermissions); err != nil {
			return err
		}
		if err := store.Set(ctx, storage.KeyToken, "stock"); err != nil {
			return err
		}
		return store.Set(ctx, storage.KeyPermissions, "34")
	})
	require.NoError(t, err)

	raw, err := mr.Get("console:permissions")
	require.NoError(t, err)
	require.Equal(t, "34", raw)
	raw, err = mr.Get("console:token")
	require.NoError(t, err)
	require.Equal(t, "stock", raw)
	require.Equal(t, time.Minute, mr.TTL("console:token"))
}

func TestAdapterBatchFailureSendsNothing(t *testing.T) {
	ctx := context.Background()
	adapter, mr := newTestAdapter(t, 0)
	require.NoError(t, adapter.Set(ctx, storage.KeyToken, "admin"))
	require.NoError(t, adapter.Set(ctx, storage.KeyPermissions, "127"))

	failure := errors.New("boom")
	err := adapter.WithBatch(ctx, func(store storage.KeyValueStore) error {
		if err := store.Remove(ctx, storage.KeyPermissions); err != nil {
			return err
		}
		if err := store.Set(ctx, storage.KeyToken, "stock"); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	raw, err := mr.Get("console:token")
	require.NoError(t, err)
	require.Equal(t, "admin", raw)
	raw, err = mr.Get("console:permissions")
	require.NoError(t, err)
	require.Equal(t, "127", raw)
}
