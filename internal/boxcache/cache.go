// Package boxcache resolves box identifiers to full box records.
//
// Lookups go through three tiers: the in-process cache, the outputs of the
// pending transactions being reconciled, and finally the explorer REST API.
// Cached entries are evicted once the transaction that produced them leaves
// the mempool snapshot.
package boxcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ergo-live/internal/domain"
	"ergo-live/internal/observability"
)

// DefaultConcurrency bounds parallel network fetches in ResolveAll.
const DefaultConcurrency = 8

// BoxFetcher retrieves a box from the network.
type BoxFetcher interface {
	GetBox(ctx context.Context, boxID string) (*domain.Box, error)
}

// AddressCodec derives an address from a hex ErgoTree.
type AddressCodec interface {
	Address(ergoTree string) (string, error)
}

// Options configures Cache.
type Options struct {
	Concurrency int
	Logger      *zap.Logger
}

// Cache maps box id to an immutable box record.
type Cache struct {
	fetcher     BoxFetcher
	codec       AddressCodec
	concurrency int
	logger      *zap.Logger

	mu    sync.RWMutex
	boxes map[string]*domain.Box

	fetching atomic.Bool
}

// New creates a Cache. codec may be nil, in which case addresses are only
// taken from the records themselves.
func New(fetcher BoxFetcher, codec AddressCodec, opts Options) *Cache {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		fetcher:     fetcher,
		codec:       codec,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.Named("boxcache"),
		boxes:       make(map[string]*domain.Box),
	}
}

// Fetching reports whether a ResolveAll network pass is in flight.
func (c *Cache) Fetching() bool {
	return c.fetching.Load()
}

// Len returns the number of cached boxes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.boxes)
}

// Get returns a copy of the cached box without falling back to other tiers.
func (c *Cache) Get(boxID string) (*domain.Box, bool) {
	c.mu.RLock()
	b, ok := c.boxes[boxID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Resolve returns the box for boxID, consulting the cache, then the outputs
// of snapshot, then the network. A failed fetch reports not found and leaves
// the cache untouched.
func (c *Cache) Resolve(ctx context.Context, boxID string, snapshot []*domain.Transaction) (*domain.Box, bool) {
	if boxID == "" {
		return nil, false
	}
	if b, ok := c.Get(boxID); ok {
		observability.RecordBoxLookup("cache")
		return b, true
	}
	if b := c.fromMempool(boxID, snapshot); b != nil {
		observability.RecordBoxLookup("mempool")
		return b.Clone(), true
	}
	b, err := c.fetch(ctx, boxID)
	if err != nil {
		observability.RecordBoxLookup("miss")
		return nil, false
	}
	observability.RecordBoxLookup("network")
	return b.Clone(), true
}

// CacheFromMempool caches every box in ids that is an output of one of txs
// and returns the ids that are still unresolved, in input order.
func (c *Cache) CacheFromMempool(ids []string, txs []*domain.Transaction) []string {
	outputs := make(map[string]*domain.Box)
	for _, tx := range txs {
		for i := range tx.Outputs {
			out := &tx.Outputs[i]
			if out.ID != "" {
				if _, ok := outputs[out.ID]; !ok {
					outputs[out.ID] = c.prepare(out, tx.ID)
				}
			}
		}
	}

	seen := make(map[string]struct{}, len(ids))
	var missing []string

	c.mu.Lock()
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.boxes[id]; ok {
			observability.RecordBoxLookup("cache")
			continue
		}
		if b, ok := outputs[id]; ok {
			c.boxes[id] = b
			observability.RecordBoxLookup("mempool")
			continue
		}
		missing = append(missing, id)
	}
	size := len(c.boxes)
	c.mu.Unlock()

	observability.UpdateBoxCache(size, 0)
	return missing
}

// ResolveAll makes every id in ids available from the cache where possible:
// first from the outputs of txs, then by resolving the remainder in parallel.
// It returns the ids that could not be resolved. Fetching is set for the
// duration of the network pass.
func (c *Cache) ResolveAll(ctx context.Context, ids []string, txs []*domain.Transaction) []string {
	missing := c.CacheFromMempool(ids, txs)
	if len(missing) == 0 {
		return nil
	}

	c.fetching.Store(true)
	defer c.fetching.Store(false)

	var (
		mu         sync.Mutex
		unresolved []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range missing {
		g.Go(func() error {
			// The mempool tier was already consulted above.
			if _, ok := c.Resolve(gctx, id, nil); !ok {
				mu.Lock()
				unresolved = append(unresolved, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(unresolved) > 0 {
		c.logger.Debug("boxes left unresolved",
			zap.Int("requested", len(missing)),
			zap.Int("unresolved", len(unresolved)))
	}
	return unresolved
}

// Prune evicts every box whose producing transaction is not in snapshot and
// returns the number of evicted entries.
func (c *Cache) Prune(snapshot []*domain.Transaction) int {
	live := make(map[string]struct{}, len(snapshot))
	for _, tx := range snapshot {
		live[tx.ID] = struct{}{}
	}

	c.mu.Lock()
	evicted := 0
	for id, b := range c.boxes {
		if _, ok := live[b.TransactionID]; !ok {
			delete(c.boxes, id)
			evicted++
		}
	}
	size := len(c.boxes)
	c.mu.Unlock()

	observability.UpdateBoxCache(size, evicted)
	if evicted > 0 {
		c.logger.Debug("pruned box cache", zap.Int("evicted", evicted), zap.Int("remaining", size))
	}
	return evicted
}

// fromMempool finds boxID among the outputs of snapshot and caches it.
func (c *Cache) fromMempool(boxID string, snapshot []*domain.Transaction) *domain.Box {
	for _, tx := range snapshot {
		for i := range tx.Outputs {
			if tx.Outputs[i].ID == boxID {
				b := c.prepare(&tx.Outputs[i], tx.ID)
				return c.store(b)
			}
		}
	}
	return nil
}

// fetch retrieves boxID from the network and caches it.
func (c *Cache) fetch(ctx context.Context, boxID string) (*domain.Box, error) {
	if c.fetcher == nil {
		return nil, errors.New("no box fetcher configured")
	}
	b, err := c.fetcher.GetBox(ctx, boxID)
	if err != nil {
		c.logger.Debug("box fetch failed", zap.String("box_id", boxID), zap.Error(err))
		return nil, err
	}
	if b == nil || b.ID != boxID {
		return nil, errors.New("box fetch returned mismatched record")
	}
	return c.store(c.prepare(b, "")), nil
}

// store inserts b unless an entry already exists, and returns the cached one.
func (c *Cache) store(b *domain.Box) *domain.Box {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.boxes[b.ID]; ok {
		return existing
	}
	c.boxes[b.ID] = b
	return b
}

// prepare returns a private copy of b with the producing transaction id and
// address filled in.
func (c *Cache) prepare(b *domain.Box, producer string) *domain.Box {
	cp := b.Clone()
	if cp.TransactionID == "" {
		cp.TransactionID = producer
	}
	if cp.Address == "" && c.codec != nil && cp.ErgoTree != "" {
		addr, err := c.codec.Address(cp.ErgoTree)
		if err != nil {
			c.logger.Debug("address derivation failed", zap.String("box_id", cp.ID), zap.Error(err))
		} else {
			cp.Address = addr
		}
	}
	return cp
}
