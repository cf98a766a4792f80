package storage

import (
	"context"

	"ergo-live/internal/domain"
)

// TokenStore persists token metadata across restarts.
// Token metadata is immutable, so the store is append-only.
type TokenStore interface {
	// InsertBulk adds tokens. Tokens whose id already exists are skipped.
	InsertBulk(ctx context.Context, tokens []*domain.Token) error

	// GetByID retrieves a token by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Token, error)

	// GetByIDs retrieves all known tokens among ids. Unknown ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Token, error)
}

// LabelMetricsStore provides access to label_metrics_daily storage.
type LabelMetricsStore interface {
	// Upsert stores the metrics for m.Date, replacing any previous row for that day.
	Upsert(ctx context.Context, m *domain.DailyLabelMetrics) error

	// GetByDateRange retrieves days within [start, end] (inclusive, YYYY-MM-DD), newest first.
	GetByDateRange(ctx context.Context, start, end string) ([]*domain.DailyLabelMetrics, error)

	// GetLatest retrieves up to limit most recent days, newest first.
	GetLatest(ctx context.Context, limit int) ([]*domain.DailyLabelMetrics, error)

	// DeleteBefore removes days strictly older than date.
	DeleteBefore(ctx context.Context, date string) error

	// DeleteAll removes every stored day.
	DeleteAll(ctx context.Context) error
}
