package clickhouse

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

const dateLayout = "2006-01-02"

// LabelMetricsStore implements storage.LabelMetricsStore using ClickHouse.
// Each (date, label) pair is one row; rewriting a day inserts rows with a
// newer updated_at and reads use FINAL to collapse them.
type LabelMetricsStore struct {
	conn *Conn
	now  func() time.Time
}

// NewLabelMetricsStore creates a new LabelMetricsStore.
func NewLabelMetricsStore(conn *Conn) *LabelMetricsStore {
	return &LabelMetricsStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.LabelMetricsStore = (*LabelMetricsStore)(nil)

// Upsert stores the metrics for m.Date.
func (s *LabelMetricsStore) Upsert(ctx context.Context, m *domain.DailyLabelMetrics) error {
	if m == nil || m.Date == "" {
		return storage.ErrInvalidInput
	}
	date, err := time.Parse(dateLayout, m.Date)
	if err != nil {
		return fmt.Errorf("%w: date %q: %v", storage.ErrInvalidInput, m.Date, err)
	}
	if len(m.Labels) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO label_metrics_daily (date, label, count, updated_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	updatedAt := uint64(s.now().UnixNano())
	for _, lc := range m.Labels {
		if err := batch.Append(date, lc.Label, lc.Count, updatedAt); err != nil {
			return fmt.Errorf("append label %s: %w", lc.Label, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByDateRange retrieves days within [start, end], newest first.
func (s *LabelMetricsStore) GetByDateRange(ctx context.Context, start, end string) ([]*domain.DailyLabelMetrics, error) {
	query := `
		SELECT date, label, count
		FROM label_metrics_daily FINAL
		WHERE date >= toDate(?) AND date <= toDate(?)
		ORDER BY date DESC, label ASC
	`
	return s.queryDays(ctx, query, -1, start, end)
}

// GetLatest retrieves up to limit most recent days, newest first.
func (s *LabelMetricsStore) GetLatest(ctx context.Context, limit int) ([]*domain.DailyLabelMetrics, error) {
	query := `
		SELECT date, label, count
		FROM label_metrics_daily FINAL
		ORDER BY date DESC, label ASC
	`
	return s.queryDays(ctx, query, limit)
}

// DeleteBefore removes days strictly older than date.
func (s *LabelMetricsStore) DeleteBefore(ctx context.Context, date string) error {
	if err := s.conn.Exec(ctx, `ALTER TABLE label_metrics_daily DELETE WHERE date < toDate(?)`, date); err != nil {
		return fmt.Errorf("delete label metrics before %s: %w", date, err)
	}
	return nil
}

// DeleteAll removes every stored day.
func (s *LabelMetricsStore) DeleteAll(ctx context.Context) error {
	if err := s.conn.Exec(ctx, `TRUNCATE TABLE label_metrics_daily`); err != nil {
		return fmt.Errorf("truncate label metrics: %w", err)
	}
	return nil
}

// queryDays groups (date, label, count) rows into days, keeping at most limit days
// (limit < 0 means unlimited).
func (s *LabelMetricsStore) queryDays(ctx context.Context, query string, limit int, args ...any) ([]*domain.DailyLabelMetrics, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query label metrics: %w", err)
	}
	defer rows.Close()

	byDate := make(map[string]*domain.DailyLabelMetrics)
	var order []string
	for rows.Next() {
		var (
			date  time.Time
			label string
			count int64
		)
		if err := rows.Scan(&date, &label, &count); err != nil {
			return nil, fmt.Errorf("scan label metrics: %w", err)
		}

		key := date.Format(dateLayout)
		day, ok := byDate[key]
		if !ok {
			if limit >= 0 && len(order) == limit {
				break
			}
			day = &domain.DailyLabelMetrics{Date: key}
			byDate[key] = day
			order = append(order, key)
		}
		day.Labels = append(day.Labels, domain.LabelCount{Label: label, Count: count})
		day.TotalTransactions += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label metrics: %w", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(order)))
	result := make([]*domain.DailyLabelMetrics, 0, len(order))
	for _, key := range order {
		result = append(result, byDate[key])
	}
	return result, nil
}
