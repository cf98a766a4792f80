// Package mempool reconciles the full-state pending transaction feed into an
// enriched, deduplicated snapshot.
package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ergo-live/internal/domain"
	"ergo-live/internal/explorer"
	"ergo-live/internal/observability"
)

// DefaultPruneInterval is how often stale box cache entries are evicted.
const DefaultPruneInterval = 30 * time.Second

// BoxResolver is the reference cache used to enrich new transactions.
type BoxResolver interface {
	ResolveAll(ctx context.Context, ids []string, txs []*domain.Transaction) []string
	Get(boxID string) (*domain.Box, bool)
	Prune(snapshot []*domain.Transaction) int
	Fetching() bool
}

// AssetEnsurer is the token metadata cache.
type AssetEnsurer interface {
	Ensure(ctx context.Context, ids []string)
	Fetching() bool
}

// BlockFetcher returns the block header at a height, or nil when the
// explorer has not indexed it yet.
type BlockFetcher interface {
	GetBlockAtHeight(ctx context.Context, height int64) (*domain.BlockInfo, error)
}

// AddressCodec derives an address from a hex ErgoTree.
type AddressCodec interface {
	Address(ergoTree string) (string, error)
}

// Options configures Reconciler.
type Options struct {
	Codec         AddressCodec
	Blocks        BlockFetcher
	PruneInterval time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// State is the published view consumed by renderers.
type State struct {
	Ready              bool                  `json:"ready"`
	Snapshot           []*domain.Transaction `json:"-"`
	MempoolCount       int                   `json:"mempoolCount"`
	BoxFetchInFlight   bool                  `json:"boxFetchInFlight"`
	AssetFetchInFlight bool                  `json:"assetFetchInFlight"`
	Reconciling        bool                  `json:"reconciling"`
	NodeInfo           *domain.NodeInfo      `json:"nodeInfo,omitempty"`
	LastBlock          *domain.BlockInfo     `json:"lastBlock,omitempty"`
	UpdatedAt          time.Time             `json:"updatedAt"`
}

// Update is sent to subscribers after every completed reconciliation that
// changed the snapshot.
type Update struct {
	Snapshot []*domain.Transaction
	Added    []*domain.Transaction
	Removed  []string
}

// Reconciler owns the mempool snapshot. At most one reconciliation runs at a
// time; payloads arriving while a cycle or a cache fetch is in flight are
// dropped, since the next full-state push supersedes them.
type Reconciler struct {
	boxes  BoxResolver
	assets AssetEnsurer
	codec  AddressCodec
	blocks BlockFetcher
	logger *zap.Logger
	now    func() time.Time

	pruneInterval time.Duration

	mu        sync.RWMutex
	snapshot  []*domain.Transaction
	ready     bool
	nodeInfo  *domain.NodeInfo
	lastBlock *domain.BlockInfo
	updatedAt time.Time

	reconciling atomic.Bool
	dropped     atomic.Uint64

	subsMu  sync.Mutex
	subs    map[int]chan Update
	nextSub int

	wg sync.WaitGroup
}

// NewReconciler creates a Reconciler.
func NewReconciler(boxes BoxResolver, assets AssetEnsurer, opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	return &Reconciler{
		boxes:         boxes,
		assets:        assets,
		codec:         opts.Codec,
		blocks:        opts.Blocks,
		logger:        opts.Logger.Named("mempool"),
		now:           opts.Now,
		pruneInterval: opts.PruneInterval,
		subs:          make(map[int]chan Update),
	}
}

// Run consumes feed events until ctx is cancelled or events is closed,
// then waits for in-flight work to finish.
func (r *Reconciler) Run(ctx context.Context, events <-chan explorer.Event) error {
	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()
	defer r.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			observability.RecordFeedEvent(ev.Name)
			switch ev.Name {
			case explorer.EventInfo:
				r.HandleInfo(ctx, ev.Data)
			case explorer.EventMempoolTxs:
				r.HandleMempool(ctx, ev.Data)
			default:
				r.logger.Debug("ignoring feed event", zap.String("event", ev.Name))
			}
		case <-ticker.C:
			r.prune()
		}
	}
}

// HandleMempool decodes a mempoolTxs payload and submits it.
func (r *Reconciler) HandleMempool(ctx context.Context, data json.RawMessage) bool {
	payload, skipped, err := DecodePayload(data)
	if err != nil {
		r.logger.Warn("malformed mempool payload", zap.Error(err))
		return false
	}
	for _, err := range skipped {
		r.logger.Debug("skipping malformed mempool transaction", zap.Error(err))
	}
	return r.Submit(ctx, payload)
}

// DecodePayload decodes a mempoolTxs payload element by element. Null entries
// and entries without an id are dropped; entries that fail to decode are
// dropped and reported in skipped. err is set only when data is not an array.
func DecodePayload(data json.RawMessage) (payload []*domain.Transaction, skipped []error, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	payload = make([]*domain.Transaction, 0, len(raw))
	for i, elem := range raw {
		var tx *domain.Transaction
		if err := json.Unmarshal(elem, &tx); err != nil {
			skipped = append(skipped, fmt.Errorf("transaction %d: %w", i, err))
			continue
		}
		if tx != nil && tx.ID != "" {
			payload = append(payload, tx)
		}
	}
	return payload, skipped, nil
}

// Submit starts a reconciliation of payload in the background. It returns
// false when the payload was dropped because a previous cycle is busy.
func (r *Reconciler) Submit(ctx context.Context, payload []*domain.Transaction) bool {
	if !r.acquire() {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cycle(ctx, payload)
	}()
	return true
}

// Reconcile runs a reconciliation of payload synchronously. It returns false
// when the payload was dropped because a previous cycle is busy.
func (r *Reconciler) Reconcile(ctx context.Context, payload []*domain.Transaction) bool {
	if !r.acquire() {
		return false
	}
	r.cycle(ctx, payload)
	return true
}

// acquire moves the state machine from idle to reconciling.
func (r *Reconciler) acquire() bool {
	if r.boxes.Fetching() || r.assets.Fetching() || !r.reconciling.CompareAndSwap(false, true) {
		n := r.dropped.Add(1)
		observability.RecordReconciliation("dropped", 0)
		r.logger.Warn("mempool update dropped, previous reconciliation still in flight",
			zap.Uint64("dropped_total", n))
		return false
	}
	return true
}

// Dropped returns how many payloads were dropped while busy.
func (r *Reconciler) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Reconciler) cycle(ctx context.Context, payload []*domain.Transaction) {
	start := r.now()
	defer r.reconciling.Store(false)

	r.mu.RLock()
	prev := r.snapshot
	wasReady := r.ready
	r.mu.RUnlock()

	// Collapse duplicate ids to their first occurrence.
	incoming := make(map[string]struct{}, len(payload))
	unique := make([]*domain.Transaction, 0, len(payload))
	for _, tx := range payload {
		if _, ok := incoming[tx.ID]; ok {
			continue
		}
		incoming[tx.ID] = struct{}{}
		unique = append(unique, tx)
	}

	known := make(map[string]struct{}, len(prev))
	kept := make([]*domain.Transaction, 0, len(prev))
	var removed []string
	for _, tx := range prev {
		known[tx.ID] = struct{}{}
		if _, ok := incoming[tx.ID]; ok {
			kept = append(kept, tx)
		} else {
			removed = append(removed, tx.ID)
		}
	}

	var fresh []*domain.Transaction
	for _, tx := range unique {
		if _, ok := known[tx.ID]; !ok {
			fresh = append(fresh, tx)
		}
	}

	var ids []string
	for _, tx := range fresh {
		ids = append(ids, tx.BoxIDs()...)
	}
	if len(ids) > 0 {
		if unresolved := r.boxes.ResolveAll(ctx, ids, unique); len(unresolved) > 0 {
			r.logger.Debug("some boxes unresolved this cycle", zap.Int("count", len(unresolved)))
		}
	}

	added := make([]*domain.Transaction, 0, len(fresh))
	for _, tx := range fresh {
		added = append(added, r.enrich(tx))
	}

	if tokenIDs := domain.CollectTokenIDs(added); len(tokenIDs) > 0 {
		r.assets.Ensure(ctx, tokenIDs)
	}

	next := make([]*domain.Transaction, 0, len(kept)+len(added))
	next = append(next, kept...)
	next = append(next, added...)

	changed := !wasReady || len(added) > 0 || len(removed) > 0

	r.mu.Lock()
	r.snapshot = next
	r.ready = true
	r.updatedAt = r.now()
	r.mu.Unlock()

	observability.UpdateMempoolSize(len(next))
	if !changed {
		observability.RecordReconciliation("unchanged", r.now().Sub(start))
		return
	}
	observability.RecordReconciliation("applied", r.now().Sub(start))

	r.logger.Debug("mempool reconciled",
		zap.Int("pending", len(next)),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)))

	r.notify(Update{Snapshot: next, Added: added, Removed: removed})
}

// enrich returns a copy of tx with derived output addresses and inputs
// replaced by resolved boxes. Unresolved inputs become bare references.
func (r *Reconciler) enrich(tx *domain.Transaction) *domain.Transaction {
	out := tx.Clone()
	for i := range out.Outputs {
		o := &out.Outputs[i]
		if o.TransactionID == "" {
			o.TransactionID = out.ID
		}
		if o.Address == "" && o.ErgoTree != "" && r.codec != nil {
			if addr, err := r.codec.Address(o.ErgoTree); err == nil {
				o.Address = addr
			}
		}
	}
	for i, in := range out.Inputs {
		if b, ok := r.boxes.Get(in.BoxID); ok {
			out.Inputs[i] = domain.Input{BoxID: in.BoxID, Box: b}
		} else {
			out.Inputs[i] = domain.Input{BoxID: in.BoxID}
		}
	}
	return out
}

// HandleInfo replaces the node info and refreshes the last block header
// when the full height increased.
func (r *Reconciler) HandleInfo(ctx context.Context, data json.RawMessage) {
	var info domain.NodeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		r.logger.Warn("malformed info payload", zap.Error(err))
		return
	}

	r.mu.Lock()
	prev := r.nodeInfo
	r.nodeInfo = &info
	r.mu.Unlock()

	observability.UpdateNodeHeight(info.FullHeight)

	if prev != nil && info.FullHeight <= prev.FullHeight {
		return
	}
	if r.blocks == nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.refreshLastBlock(ctx, info.FullHeight)
	}()
}

func (r *Reconciler) refreshLastBlock(ctx context.Context, height int64) {
	blk, err := r.blocks.GetBlockAtHeight(ctx, height)
	if err != nil {
		r.logger.Warn("last block fetch failed", zap.Int64("height", height), zap.Error(err))
		return
	}
	if blk == nil {
		blk = &domain.BlockInfo{Timestamp: r.now().UnixMilli()}
	}

	r.mu.Lock()
	if r.lastBlock == nil || blk.Height == 0 || blk.Height >= r.lastBlock.Height {
		r.lastBlock = blk
	}
	r.mu.Unlock()
}

// prune evicts stale box cache entries while no reconciliation is running.
func (r *Reconciler) prune() {
	if !r.reconciling.CompareAndSwap(false, true) {
		return
	}
	defer r.reconciling.Store(false)

	r.mu.RLock()
	snapshot := r.snapshot
	r.mu.RUnlock()

	r.boxes.Prune(snapshot)
}

// State returns the current published view. The snapshot slice is shared
// and must not be modified.
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State{
		Ready:              r.ready,
		Snapshot:           r.snapshot,
		MempoolCount:       len(r.snapshot),
		BoxFetchInFlight:   r.boxes.Fetching(),
		AssetFetchInFlight: r.assets.Fetching(),
		Reconciling:        r.reconciling.Load(),
		NodeInfo:           r.nodeInfo,
		LastBlock:          r.lastBlock,
		UpdatedAt:          r.updatedAt,
	}
}

// Transaction returns the pending transaction with id.
func (r *Reconciler) Transaction(id string) (*domain.Transaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tx := range r.snapshot {
		if tx.ID == id {
			return tx, true
		}
	}
	return nil, false
}

// Subscribe registers for snapshot updates. The returned cancel function
// must be called to release the subscription. Slow subscribers miss updates
// rather than blocking reconciliation.
func (r *Reconciler) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	r.subsMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, id)
			r.subsMu.Unlock()
			close(ch)
		})
	}
}

func (r *Reconciler) notify(u Update) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for id, ch := range r.subs {
		select {
		case ch <- u:
		default:
			r.logger.Warn("subscriber lagging, update skipped", zap.Int("subscriber", id))
		}
	}
}
