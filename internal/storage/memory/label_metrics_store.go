package memory

import (
	"context"
	"sort"
	"sync"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

// LabelMetricsStore is an in-memory implementation of storage.LabelMetricsStore.
type LabelMetricsStore struct {
	mu   sync.RWMutex
	days map[string]*domain.DailyLabelMetrics // keyed by date
}

// NewLabelMetricsStore creates a new in-memory label metrics store.
func NewLabelMetricsStore() *LabelMetricsStore {
	return &LabelMetricsStore{
		days: make(map[string]*domain.DailyLabelMetrics),
	}
}

// Upsert stores the metrics for m.Date, replacing any previous row for that day.
func (s *LabelMetricsStore) Upsert(_ context.Context, m *domain.DailyLabelMetrics) error {
	if m == nil || m.Date == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.days[m.Date] = copyDaily(m)
	return nil
}

// GetByDateRange retrieves days within [start, end], newest first.
func (s *LabelMetricsStore) GetByDateRange(_ context.Context, start, end string) ([]*domain.DailyLabelMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DailyLabelMetrics
	for date, m := range s.days {
		if date >= start && date <= end {
			result = append(result, copyDaily(m))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// GetLatest retrieves up to limit most recent days, newest first.
func (s *LabelMetricsStore) GetLatest(_ context.Context, limit int) ([]*domain.DailyLabelMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.DailyLabelMetrics, 0, len(s.days))
	for _, m := range s.days {
		result = append(result, copyDaily(m))
	}
	sortNewestFirst(result)
	if limit >= 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteBefore removes days strictly older than date.
func (s *LabelMetricsStore) DeleteBefore(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for d := range s.days {
		if d < date {
			delete(s.days, d)
		}
	}
	return nil
}

// DeleteAll removes every stored day.
func (s *LabelMetricsStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.days = make(map[string]*domain.DailyLabelMetrics)
	return nil
}

func copyDaily(m *domain.DailyLabelMetrics) *domain.DailyLabelMetrics {
	c := *m
	c.Labels = append([]domain.LabelCount(nil), m.Labels...)
	return &c
}

// YYYY-MM-DD sorts lexically.
func sortNewestFirst(days []*domain.DailyLabelMetrics) {
	sort.Slice(days, func(i, j int) bool {
		return days[i].Date > days[j].Date
	})
}

var _ storage.LabelMetricsStore = (*LabelMetricsStore)(nil)
