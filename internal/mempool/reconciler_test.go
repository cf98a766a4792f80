package mempool

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ergo-live/internal/assets"
	"ergo-live/internal/boxcache"
	"ergo-live/internal/domain"
	"ergo-live/internal/explorer"
)

type fakeBoxes struct {
	mu      sync.Mutex
	boxes   map[string]*domain.Box
	calls   int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeBoxes) GetBox(_ context.Context, id string) (*domain.Box, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if b, ok := f.boxes[id]; ok {
		return b.Clone(), nil
	}
	return nil, errors.New("not found")
}

type fakeTokens struct {
	mu      sync.Mutex
	batches [][]string
}

func (f *fakeTokens) GetTokensByID(_ context.Context, ids []string) ([]*domain.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, ids)
	out := make([]*domain.Token, 0, len(ids))
	for _, id := range ids {
		out = append(out, &domain.Token{ID: id, Name: "tok-" + id, Decimals: 2})
	}
	return out, nil
}

type treeCodec struct{}

func (treeCodec) Address(tree string) (string, error) { return "addr-" + tree, nil }

type fakeBlocks struct {
	mu      sync.Mutex
	heights []int64
	block   *domain.BlockInfo
}

func (f *fakeBlocks) GetBlockAtHeight(_ context.Context, h int64) (*domain.BlockInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heights = append(f.heights, h)
	return f.block, nil
}

func (f *fakeBlocks) calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.heights...)
}

type harness struct {
	rec    *Reconciler
	boxes  *fakeBoxes
	tokens *fakeTokens
	blocks *fakeBlocks
	cache  *boxcache.Cache
	assets *assets.Cache
}

func newHarness(chain ...*domain.Box) *harness {
	h := &harness{
		boxes:  &fakeBoxes{boxes: make(map[string]*domain.Box)},
		tokens: &fakeTokens{},
		blocks: &fakeBlocks{},
	}
	for _, b := range chain {
		h.boxes.boxes[b.ID] = b
	}
	h.cache = boxcache.New(h.boxes, treeCodec{}, boxcache.Options{})
	h.assets = assets.New(h.tokens, assets.Options{})
	h.rec = NewReconciler(h.cache, h.assets, Options{Codec: treeCodec{}, Blocks: h.blocks})
	return h
}

func simpleTx(id string) *domain.Transaction {
	return &domain.Transaction{
		ID:      id,
		Outputs: []domain.Box{{ID: id + "-out", ErgoTree: "t-" + id, Value: 1}},
	}
}

func ids(txs []*domain.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.ID)
	}
	return out
}

func TestReconcile_ReadyAfterFirstCycle(t *testing.T) {
	h := newHarness()
	assert.False(t, h.rec.State().Ready)

	require.True(t, h.rec.Reconcile(context.Background(), nil))
	st := h.rec.State()
	assert.True(t, st.Ready)
	assert.Equal(t, 0, st.MempoolCount)
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	updates, cancel := h.rec.Subscribe(8)
	defer cancel()

	payload := []*domain.Transaction{simpleTx("t1"), simpleTx("t2"), simpleTx("t3")}
	require.True(t, h.rec.Reconcile(ctx, payload))
	first := h.rec.State().Snapshot

	require.True(t, h.rec.Reconcile(ctx, payload))
	second := h.rec.State().Snapshot

	assert.Equal(t, ids(first), ids(second))
	for i := range first {
		assert.Same(t, first[i], second[i], "kept transactions keep their enriched record")
	}

	// Only the first cycle changed anything.
	assert.Len(t, updates, 1)
}

func TestReconcile_SubsetKeepsOrder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t1"), simpleTx("t2"), simpleTx("t3")})
	h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t3"), simpleTx("t1")})

	assert.Equal(t, []string{"t1", "t3"}, ids(h.rec.State().Snapshot))
}

func TestReconcile_NewAppendedInFeedOrder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	updates, cancel := h.rec.Subscribe(8)
	defer cancel()

	h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t1"), simpleTx("t2")})
	<-updates

	h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t4"), simpleTx("t1"), simpleTx("t4"), simpleTx("t5")})

	assert.Equal(t, []string{"t1", "t4", "t5"}, ids(h.rec.State().Snapshot))

	u := <-updates
	assert.Equal(t, []string{"t4", "t5"}, ids(u.Added))
	assert.Equal(t, []string{"t2"}, u.Removed)
}

func TestReconcile_Enrichment(t *testing.T) {
	chainBox := &domain.Box{
		ID:            "chain",
		TransactionID: "confirmed",
		ErgoTree:      "alice",
		Value:         1000,
		Assets:        []domain.Asset{{TokenID: "tokA"}},
	}
	h := newHarness(chainBox)
	ctx := context.Background()

	parent := &domain.Transaction{
		ID:      "parent",
		Inputs:  []domain.Input{{BoxID: "chain"}, {BoxID: "ghost"}},
		Outputs: []domain.Box{{ID: "p-out", ErgoTree: "bob", Value: 900, Assets: []domain.Asset{{TokenID: "tokB"}}}},
	}
	child := &domain.Transaction{
		ID:      "child",
		Inputs:  []domain.Input{{BoxID: "p-out"}},
		Outputs: []domain.Box{{ID: "c-out", ErgoTree: "carol", Value: 899}},
	}

	require.True(t, h.rec.Reconcile(ctx, []*domain.Transaction{parent, child}))
	snap := h.rec.State().Snapshot
	require.Len(t, snap, 2)

	p := snap[0]
	require.True(t, p.Inputs[0].Resolved())
	assert.Equal(t, "addr-alice", p.Inputs[0].Address())
	assert.False(t, p.Inputs[1].Resolved(), "unresolvable input stays a bare reference")
	assert.Equal(t, "ghost", p.Inputs[1].BoxID)
	assert.Equal(t, "addr-bob", p.Outputs[0].Address)

	c := snap[1]
	require.True(t, c.Inputs[0].Resolved(), "mempool-local output resolves without network")
	assert.Equal(t, "addr-bob", c.Inputs[0].Address())

	// Only "chain" and "ghost" went to the network.
	assert.Equal(t, 2, h.boxes.calls)

	// Payload records are not mutated.
	assert.Empty(t, parent.Outputs[0].Address)
	assert.Nil(t, parent.Inputs[0].Box)

	// Token metadata for the new transactions was requested in one batch.
	require.Len(t, h.tokens.batches, 1)
	assert.ElementsMatch(t, []string{"tokA", "tokB"}, h.tokens.batches[0])
	_, ok := h.assets.Get("tokA")
	assert.True(t, ok)
}

func TestReconcile_KeptTransactionsNotReresolved(t *testing.T) {
	h := newHarness(&domain.Box{ID: "in1", TransactionID: "c", ErgoTree: "x"})
	ctx := context.Background()

	tx := &domain.Transaction{ID: "t1", Inputs: []domain.Input{{BoxID: "in1"}}}
	h.rec.Reconcile(ctx, []*domain.Transaction{tx})
	h.cache.Prune(h.rec.State().Snapshot)

	h.rec.Reconcile(ctx, []*domain.Transaction{tx})
	assert.Equal(t, 1, h.boxes.calls)
	assert.True(t, h.rec.State().Snapshot[0].Inputs[0].Resolved())
}

func TestSubmit_DropsWhileBusy(t *testing.T) {
	h := newHarness(&domain.Box{ID: "slow", TransactionID: "c"})
	h.boxes.block = make(chan struct{})
	h.boxes.started = make(chan struct{}, 1)
	ctx := context.Background()

	first := &domain.Transaction{ID: "t1", Inputs: []domain.Input{{BoxID: "slow"}}}
	require.True(t, h.rec.Submit(ctx, []*domain.Transaction{first}))

	<-h.boxes.started
	assert.True(t, h.rec.State().BoxFetchInFlight)

	assert.False(t, h.rec.Submit(ctx, []*domain.Transaction{simpleTx("t2")}))
	assert.False(t, h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t3")}))
	assert.Equal(t, uint64(2), h.rec.Dropped())

	close(h.boxes.block)
	require.Eventually(t, func() bool {
		st := h.rec.State()
		return st.Ready && !st.Reconciling
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"t1"}, ids(h.rec.State().Snapshot))

	// Idle again: the next payload is accepted.
	assert.True(t, h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t2")}))
	assert.Equal(t, []string{"t2"}, ids(h.rec.State().Snapshot))
}

func TestHandleInfo_FetchesBlockOnHeightIncrease(t *testing.T) {
	h := newHarness()
	h.blocks.block = &domain.BlockInfo{ID: "b100", Height: 100, Timestamp: 1700000000000}
	ctx := context.Background()

	h.rec.HandleInfo(ctx, json.RawMessage(`{"fullHeight":100,"headersHeight":101}`))
	require.Eventually(t, func() bool { return h.rec.State().LastBlock != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1700000000000), h.rec.State().LastBlock.Timestamp)

	// Same height: no fetch. Node info still replaced.
	h.rec.HandleInfo(ctx, json.RawMessage(`{"fullHeight":100,"headersHeight":102}`))
	assert.Equal(t, int64(102), h.rec.State().NodeInfo.HeadersHeight)
	assert.Equal(t, []int64{100}, h.blocks.calls())

	h.rec.HandleInfo(ctx, json.RawMessage(`{"fullHeight":101}`))
	require.Eventually(t, func() bool { return len(h.blocks.calls()) == 2 }, time.Second, 5*time.Millisecond)

	h.rec.HandleInfo(ctx, json.RawMessage(`not json`))
	assert.Equal(t, int64(101), h.rec.State().NodeInfo.FullHeight)
}

func TestHandleInfo_EmptyBlockUsesNow(t *testing.T) {
	h := newHarness()
	now := time.UnixMilli(1234567)
	h.rec.now = func() time.Time { return now }

	h.rec.HandleInfo(context.Background(), json.RawMessage(`{"fullHeight":5}`))
	require.Eventually(t, func() bool { return h.rec.State().LastBlock != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1234567), h.rec.State().LastBlock.Timestamp)
}

func TestRun_DispatchesEvents(t *testing.T) {
	h := newHarness()
	events := make(chan explorer.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.rec.Run(ctx, events) }()

	events <- explorer.Event{Name: explorer.EventMempoolTxs, Data: json.RawMessage(`[{"id":"t1","outputs":[{"boxId":"o1","value":5}]}, null]`)}
	events <- explorer.Event{Name: "unknown", Data: json.RawMessage(`{}`)}

	require.Eventually(t, func() bool { return h.rec.State().MempoolCount == 1 }, 2*time.Second, 5*time.Millisecond)

	events <- explorer.Event{Name: explorer.EventMempoolTxs, Data: json.RawMessage(`{"broken":`)}
	close(events)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after events closed")
	}
	assert.Equal(t, []string{"t1"}, ids(h.rec.State().Snapshot))
}

func TestPrune_EvictsStaleEntries(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t1"), simpleTx("t2")})
	h.cache.CacheFromMempool([]string{"t1-out", "t2-out"}, h.rec.State().Snapshot)
	require.Equal(t, 2, h.cache.Len())

	h.rec.Reconcile(ctx, []*domain.Transaction{simpleTx("t2")})
	h.rec.prune()

	_, ok := h.cache.Get("t1-out")
	assert.False(t, ok)
	_, ok = h.cache.Get("t2-out")
	assert.True(t, ok)
}

func TestTransactionLookup(t *testing.T) {
	h := newHarness()
	h.rec.Reconcile(context.Background(), []*domain.Transaction{simpleTx("t1")})

	tx, ok := h.rec.Transaction("t1")
	require.True(t, ok)
	assert.Equal(t, "addr-t-t1", tx.Outputs[0].Address)

	_, ok = h.rec.Transaction("missing")
	assert.False(t, ok)
}

func TestDecodePayload(t *testing.T) {
	txs, skipped, err := DecodePayload(json.RawMessage(`[
		{"id":"a","inputs":[{"boxId":"i1"},{"boxId":"i2","ergoTree":"0008cd","value":3}],"outputs":[]},
		{"inputs":[]},
		null
	]`))
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Inputs[0].Resolved())
	assert.True(t, txs[0].Inputs[1].Resolved())

	_, _, err = DecodePayload(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDecodePayload_SkipsMalformedElements(t *testing.T) {
	txs, skipped, err := DecodePayload(json.RawMessage(`[
		{"id":"good","outputs":[{"boxId":"o1","value":5}]},
		{"id":"bad","outputs":[{"value":-1}]},
		{"id":"also-good","outputs":[]}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "also-good"}, ids(txs))
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Error(), "transaction 1")
}

func TestHandleMempool_KeepsWellFormedTransactions(t *testing.T) {
	h := newHarness()
	ok := h.rec.HandleMempool(context.Background(), json.RawMessage(`[
		{"id":"good","outputs":[{"boxId":"good-out","ergoTree":"t","value":5}]},
		{"id":"bad","outputs":[{"value":-1}]}
	]`))
	require.True(t, ok)

	require.Eventually(t, func() bool { return h.rec.State().Ready }, time.Second, 5*time.Millisecond)
	st := h.rec.State()
	assert.Equal(t, []string{"good"}, ids(st.Snapshot))
}
