// Package feeder turns newly reconciled transactions into presentation
// items: it computes their net flow, classifies them and enqueues them.
package feeder

import (
	"context"

	"go.uber.org/zap"

	"ergo-live/internal/domain"
	"ergo-live/internal/mempool"
	"ergo-live/internal/netflow"
	"ergo-live/internal/presentation"
)

// DefaultBuffer is the subscription buffer towards the reconciler.
const DefaultBuffer = 256

// Source publishes snapshot updates.
type Source interface {
	Subscribe(buffer int) (<-chan mempool.Update, func())
}

// Enqueuer accepts presentation items.
type Enqueuer interface {
	Enqueue(it presentation.Item) bool
}

// Feeder forwards newly added transactions to the presentation queue.
type Feeder struct {
	queue      Enqueuer
	decimals   netflow.DecimalsLookup
	classifier *Classifier
	logger     *zap.Logger

	updates <-chan mempool.Update
	cancel  func()
}

// New creates a Feeder and subscribes it to source right away, so updates
// published before Run starts are buffered rather than lost. decimals and
// classifier may be nil.
func New(source Source, queue Enqueuer, decimals netflow.DecimalsLookup, classifier *Classifier, logger *zap.Logger) *Feeder {
	if classifier == nil {
		classifier = NewClassifier(nil, 0, presentation.SoundNone)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	updates, cancel := source.Subscribe(DefaultBuffer)
	return &Feeder{
		queue:      queue,
		decimals:   decimals,
		classifier: classifier,
		logger:     logger.Named("feeder"),
		updates:    updates,
		cancel:     cancel,
	}
}

// Item builds the presentation item for tx.
func (f *Feeder) Item(tx *domain.Transaction) presentation.Item {
	transfers := netflow.ComputeTransfers(tx, f.decimals)
	if anomalies := transfers.Anomalies(); len(anomalies) > 0 {
		f.logger.Warn("inconsistent net flow", zap.String("tx_id", tx.ID), zap.Any("anomalies", anomalies))
	}
	cls := f.classifier.Classify(tx, transfers)
	return presentation.Item{
		Transaction: tx,
		Sound:       cls.Sound,
		Label:       cls.Label,
		Style:       cls.Style,
		Transfers:   transfers.Moved(),
	}
}

// Run enqueues added transactions in order until ctx is cancelled or the
// source closes the subscription. The subscription is released on return.
func (f *Feeder) Run(ctx context.Context) error {
	defer f.cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-f.updates:
			if !ok {
				return nil
			}
			accepted := 0
			for _, tx := range u.Added {
				if f.queue.Enqueue(f.Item(tx)) {
					accepted++
				}
			}
			if len(u.Added) > 0 {
				f.logger.Debug("enqueued new transactions",
					zap.Int("added", len(u.Added)),
					zap.Int("accepted", accepted))
			}
		}
	}
}
