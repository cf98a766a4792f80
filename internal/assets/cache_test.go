package assets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage/memory"
)

type fakeFetcher struct {
	mu      sync.Mutex
	known   map[string]*domain.Token
	batches [][]string
	err     error
}

func newFakeFetcher(tokens ...*domain.Token) *fakeFetcher {
	f := &fakeFetcher{known: make(map[string]*domain.Token)}
	for _, t := range tokens {
		f.known[t.ID] = t
	}
	return f
}

func (f *fakeFetcher) GetTokensByID(_ context.Context, ids []string) ([]*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.Token
	for _, id := range ids {
		if t, ok := f.known[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestCache_NativeAlwaysPresent(t *testing.T) {
	fetcher := newFakeFetcher()
	cache := New(fetcher, Options{})

	tok, ok := cache.Get(domain.NativeTokenID)
	require.True(t, ok)
	assert.Equal(t, 9, tok.Decimals)

	d, ok := cache.Decimals(domain.NativeTokenID)
	require.True(t, ok)
	assert.Equal(t, 9, d)

	cache.Ensure(context.Background(), []string{domain.NativeTokenID})
	assert.Empty(t, fetcher.batches, "native unit must never be fetched")
}

func TestCache_EnsureBatchesOnce(t *testing.T) {
	fetcher := newFakeFetcher(
		&domain.Token{ID: "a", Name: "A", Decimals: 2},
		&domain.Token{ID: "b", Name: "B", Decimals: 0},
	)
	cache := New(fetcher, Options{})
	ctx := context.Background()

	cache.Ensure(ctx, []string{"a", "b", "a", "unknown", domain.NativeTokenID})
	require.Len(t, fetcher.batches, 1)
	assert.Equal(t, []string{"a", "b", "unknown"}, fetcher.batches[0])

	d, ok := cache.Decimals("a")
	require.True(t, ok)
	assert.Equal(t, 2, d)
	_, ok = cache.Get("unknown")
	assert.False(t, ok)

	// Known ids are filtered out; an empty remainder issues no request.
	cache.Ensure(ctx, []string{"a", "b"})
	assert.Len(t, fetcher.batches, 1)

	cache.Ensure(ctx, nil)
	assert.Len(t, fetcher.batches, 1)

	assert.Equal(t, 3, cache.Len())
}

func TestCache_FetchErrorSwallowed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.err = errors.New("boom")
	cache := New(fetcher, Options{})

	cache.Ensure(context.Background(), []string{"a"})
	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.False(t, cache.Fetching())
}

func TestCache_StoreFirstThenPersist(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTokenStore()
	require.NoError(t, store.InsertBulk(ctx, []*domain.Token{{ID: "stored", Name: "S", Decimals: 4}}))

	fetcher := newFakeFetcher(&domain.Token{ID: "remote", Name: "R", Decimals: 6})
	cache := New(fetcher, Options{Store: store})

	cache.Ensure(ctx, []string{"stored", "remote"})
	require.Len(t, fetcher.batches, 1)
	assert.Equal(t, []string{"remote"}, fetcher.batches[0])

	d, ok := cache.Decimals("stored")
	require.True(t, ok)
	assert.Equal(t, 4, d)

	persisted, err := store.GetByID(ctx, "remote")
	require.NoError(t, err)
	assert.Equal(t, 6, persisted.Decimals)

	// A fresh cache over the same store never touches the network.
	fresh := New(newFakeFetcher(), Options{Store: store})
	fresh.Ensure(ctx, []string{"stored", "remote"})
	assert.Equal(t, 3, fresh.Len())
}

func TestCache_GetReturnsCopy(t *testing.T) {
	cache := New(newFakeFetcher(&domain.Token{ID: "a", Name: "A"}), Options{})
	cache.Ensure(context.Background(), []string{"a"})

	tok, ok := cache.Get("a")
	require.True(t, ok)
	tok.Name = "changed"

	again, _ := cache.Get("a")
	assert.Equal(t, "A", again.Name)
}

func TestCache_All(t *testing.T) {
	cache := New(newFakeFetcher(&domain.Token{ID: "b"}, &domain.Token{ID: "a"}), Options{})
	cache.Ensure(context.Background(), []string{"b", "a"})

	all := cache.All()
	require.Len(t, all, 3)
	assert.Equal(t, domain.NativeTokenID, all[0].ID)
	assert.Equal(t, "a", all[1].ID)
	assert.Equal(t, "b", all[2].ID)
}
