// Package assets caches token metadata (name, decimals, icon) for display
// and for scaling raw token amounts.
package assets

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ergo-live/internal/domain"
	"ergo-live/internal/observability"
	"ergo-live/internal/storage"
)

// TokenFetcher retrieves token metadata in one batched call.
type TokenFetcher interface {
	GetTokensByID(ctx context.Context, ids []string) ([]*domain.Token, error)
}

// Options configures Cache.
type Options struct {
	// Store persists fetched metadata across restarts. Optional.
	Store  storage.TokenStore
	Logger *zap.Logger
}

// Cache is an append-only token metadata cache. Entries are never evicted;
// the native unit is always present.
type Cache struct {
	fetcher TokenFetcher
	store   storage.TokenStore
	logger  *zap.Logger

	mu     sync.RWMutex
	tokens map[string]*domain.Token

	fetching atomic.Bool
}

// New creates a Cache seeded with the native unit.
func New(fetcher TokenFetcher, opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Cache{
		fetcher: fetcher,
		store:   opts.Store,
		logger:  opts.Logger.Named("assets"),
		tokens:  map[string]*domain.Token{domain.NativeTokenID: domain.NativeToken()},
	}
	observability.UpdateAssetCache(1)
	return c
}

// Fetching reports whether a network metadata request is in flight.
func (c *Cache) Fetching() bool {
	return c.fetching.Load()
}

// Ensure makes metadata for ids available, loading unknown ids from the
// store and then from the network in a single batch. Errors are logged and
// swallowed; ids the fetcher does not know remain absent.
func (c *Cache) Ensure(ctx context.Context, ids []string) {
	missing := c.unknown(ids)
	if len(missing) == 0 {
		return
	}

	if c.store != nil {
		start := time.Now()
		stored, err := c.store.GetByIDs(ctx, missing)
		observability.RecordDBQuery("tokens", "get_by_ids", time.Since(start).Seconds(), err)
		if err != nil {
			c.logger.Warn("token store lookup failed", zap.Int("ids", len(missing)), zap.Error(err))
		} else {
			c.merge(stored)
			observability.RecordAssetFetch("store", "ok", len(stored))
			missing = c.unknown(missing)
			if len(missing) == 0 {
				return
			}
		}
	}

	if c.fetcher == nil {
		return
	}

	c.fetching.Store(true)
	fetched, err := c.fetcher.GetTokensByID(ctx, missing)
	c.fetching.Store(false)
	if err != nil {
		observability.RecordAssetFetch("network", "error", len(missing))
		c.logger.Warn("token metadata fetch failed", zap.Int("ids", len(missing)), zap.Error(err))
		return
	}
	observability.RecordAssetFetch("network", "ok", len(fetched))

	added := c.merge(fetched)
	if c.store != nil && len(added) > 0 {
		start := time.Now()
		err := c.store.InsertBulk(ctx, added)
		observability.RecordDBQuery("tokens", "insert_bulk", time.Since(start).Seconds(), err)
		if err != nil {
			c.logger.Warn("token store insert failed", zap.Int("tokens", len(added)), zap.Error(err))
		}
	}
}

// Get returns a copy of the metadata for id.
func (c *Cache) Get(id string) (*domain.Token, bool) {
	c.mu.RLock()
	t, ok := c.tokens[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// Decimals returns the decimal count for id when known.
func (c *Cache) Decimals(id string) (int, bool) {
	if id == domain.NativeTokenID {
		return domain.NativeDecimals, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tokens[id]
	if !ok {
		return 0, false
	}
	return t.Decimals, true
}

// All returns copies of every cached entry ordered by id.
func (c *Cache) All() []*domain.Token {
	c.mu.RLock()
	out := make([]*domain.Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		cp := *t
		out = append(out, &cp)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cached entries, native unit included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}

// unknown returns the distinct ids in ids that are not cached.
func (c *Cache) unknown(ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || id == domain.NativeTokenID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.tokens[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// merge adds tokens not yet cached and returns the ones added.
func (c *Cache) merge(tokens []*domain.Token) []*domain.Token {
	c.mu.Lock()
	var added []*domain.Token
	for _, t := range tokens {
		if t == nil || t.ID == "" || t.ID == domain.NativeTokenID {
			continue
		}
		if _, ok := c.tokens[t.ID]; ok {
			continue
		}
		cp := *t
		c.tokens[t.ID] = &cp
		added = append(added, &cp)
	}
	size := len(c.tokens)
	c.mu.Unlock()

	observability.UpdateAssetCache(size)
	return added
}
