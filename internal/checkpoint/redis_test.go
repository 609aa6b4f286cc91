package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string][]byte
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string][]byte{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	data, ok := value.([]byte)
	if !ok {
		return redis.NewStatusResult("", errors.New("unexpected value type"))
	}
	f.values[key] = append([]byte(nil), data...)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeRedis()
	store, err := NewRedisStore(client, "harvest:checkpoint", testSchema())
	require.NoError(t, err)

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, store.Save(ctx, sampleRecords()))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "https://x/a", got[0].URL)
	require.Equal(t, "Índice de precios", got[2].Name())

	require.NoError(t, store.Clear(ctx))
	require.Empty(t, client.values)
}

func TestRedisStoreSaveError(t *testing.T) {
	t.Parallel()

	client := newFakeRedis()
	client.setErr = errors.New("READONLY")
	store, err := NewRedisStore(client, "k", testSchema())
	require.NoError(t, err)
	require.ErrorContains(t, store.Save(context.Background(), sampleRecords()), "READONLY")
}

func TestNewRedisStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(nil, "k", testSchema())
	require.Error(t, err)
	_, err = NewRedisStore(newFakeRedis(), "", testSchema())
	require.Error(t, err)
}
