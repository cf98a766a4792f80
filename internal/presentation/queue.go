// Package presentation paces enriched transactions towards the renderer.
package presentation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ergo-live/internal/observability"
)

// Default configuration values.
const (
	DefaultDelay        = 500 * time.Millisecond
	DefaultMaxDisplayed = 50
	DefaultBuffer       = 256
)

// Options configures Queue.
type Options struct {
	Delay        time.Duration
	MaxDisplayed int
	// Buffer is the capacity of the Deliveries channel.
	Buffer    int
	Sinks     []Sink
	Announcer Announcer
	Logger    *zap.Logger
	Now       func() time.Time
}

// Queue is a strictly ordered single-consumer delivery queue. A transaction
// id is delivered at most once until Clear.
type Queue struct {
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	items        []Item
	delivered    map[string]struct{}
	displayed    []Delivery
	paused       bool
	delay        time.Duration
	maxDisplayed int
	seq          uint64
	sinks        []Sink
	announcer    Announcer

	wake       chan struct{}
	deliveries chan Delivery
}

// NewQueue creates a Queue. Call Run to start consumption.
func NewQueue(opts Options) *Queue {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.MaxDisplayed <= 0 {
		opts.MaxDisplayed = DefaultMaxDisplayed
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		logger:       opts.Logger.Named("presentation"),
		now:          opts.Now,
		delivered:    make(map[string]struct{}),
		delay:        opts.Delay,
		maxDisplayed: opts.MaxDisplayed,
		sinks:        append([]Sink(nil), opts.Sinks...),
		announcer:    opts.Announcer,
		wake:         make(chan struct{}, 1),
		deliveries:   make(chan Delivery, opts.Buffer),
	}
}

// Deliveries returns deliveries in order. Sends never block; when the
// channel is full the delivery is skipped for this consumer only.
func (q *Queue) Deliveries() <-chan Delivery {
	return q.deliveries
}

// AddSink registers s for subsequent deliveries.
func (q *Queue) AddSink(s Sink) {
	q.mu.Lock()
	q.sinks = append(q.sinks, s)
	q.mu.Unlock()
}

// Enqueue appends it. Items without a transaction or whose transaction was
// already delivered are rejected.
func (q *Queue) Enqueue(it Item) bool {
	id := it.ID()
	if id == "" {
		return false
	}

	q.mu.Lock()
	if _, ok := q.delivered[id]; ok {
		q.mu.Unlock()
		observability.RecordSkipped("duplicate")
		q.logger.Debug("transaction already delivered", zap.String("tx_id", id))
		return false
	}
	q.items = append(q.items, it)
	n := len(q.items)
	q.mu.Unlock()

	observability.RecordEnqueued(1)
	observability.UpdateQueueLength(n)
	q.signal()
	return true
}

// EnqueueAll enqueues items in order and returns how many were accepted.
func (q *Queue) EnqueueAll(items []Item) int {
	accepted := 0
	for _, it := range items {
		if q.Enqueue(it) {
			accepted++
		}
	}
	return accepted
}

// Pause halts consumption. Enqueue keeps accepting items.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume restarts consumption where it left off.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// Paused reports whether consumption is halted.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Clear drops queued items, the delivered set and the displayed buffer,
// and silences the announcer.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.delivered = make(map[string]struct{})
	q.displayed = nil
	announcer := q.announcer
	q.mu.Unlock()

	observability.UpdateQueueLength(0)
	if announcer != nil {
		announcer.Stop()
	}
}

// SetDelay changes the pause between deliveries.
func (q *Queue) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	q.mu.Lock()
	q.delay = d
	q.mu.Unlock()
}

// Delay returns the pause between deliveries.
func (q *Queue) Delay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delay
}

// SetMaxDisplayed changes the displayed buffer capacity, trimming the
// oldest entries if needed.
func (q *Queue) SetMaxDisplayed(n int) {
	if n <= 0 {
		n = 1
	}
	q.mu.Lock()
	q.maxDisplayed = n
	q.trimDisplayed()
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Displayed returns the most recent deliveries, oldest first.
func (q *Queue) Displayed() []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Delivery(nil), q.displayed...)
}

// HasBeenDelivered reports whether id was delivered since the last Clear.
func (q *Queue) HasBeenDelivered(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.delivered[id]
	return ok
}

// Run consumes the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		d, delay, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
				continue
			}
		}

		q.emit(ctx, d)

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

// next pops the head if consumption is allowed, skipping items already
// delivered, and records the delivery.
func (q *Queue) next() (Delivery, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.paused && len(q.items) > 0 {
		it := q.items[0]
		q.items[0] = Item{}
		q.items = q.items[1:]

		id := it.ID()
		if _, ok := q.delivered[id]; ok {
			observability.RecordSkipped("duplicate")
			continue
		}
		q.delivered[id] = struct{}{}

		q.seq++
		d := Delivery{Item: it, Seq: q.seq, DeliveredAt: q.now()}
		q.displayed = append(q.displayed, d)
		q.trimDisplayed()

		observability.UpdateQueueLength(len(q.items))
		return d, q.delay, true
	}
	return Delivery{}, 0, false
}

func (q *Queue) trimDisplayed() {
	if over := len(q.displayed) - q.maxDisplayed; over > 0 {
		q.displayed = append([]Delivery(nil), q.displayed[over:]...)
	}
}

func (q *Queue) emit(ctx context.Context, d Delivery) {
	observability.RecordDelivered()

	select {
	case q.deliveries <- d:
	default:
		observability.RecordSkipped("channel_full")
		q.logger.Warn("deliveries channel full, renderer lagging", zap.String("tx_id", d.ID()))
	}

	q.mu.Lock()
	sinks := q.sinks
	announcer := q.announcer
	q.mu.Unlock()

	for _, s := range sinks {
		if err := s.Deliver(ctx, d); err != nil {
			q.logger.Warn("sink delivery failed", zap.String("tx_id", d.ID()), zap.Error(err))
		}
	}

	if announcer != nil && (d.Sound != SoundNone || d.Label != "") {
		announcer.Announce(ctx, d.Item)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
