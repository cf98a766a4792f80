// Package labelstats counts displayed transactions per label and UTC day.
package labelstats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ergo-live/internal/domain"
	"ergo-live/internal/presentation"
	"ergo-live/internal/reporting"
	"ergo-live/internal/storage"
)

const (
	// RetentionDays is the number of days kept, today included.
	RetentionDays = 90

	DefaultFlushInterval = 30 * time.Second

	dateLayout = "2006-01-02"
)

// Options configures a Service.
type Options struct {
	FlushInterval time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service accumulates label counts in memory and flushes them to the store.
// Unlabelled deliveries are not counted.
type Service struct {
	store    storage.LabelMetricsStore
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]map[string]int64 // date -> label -> count
	dirty   map[string]bool
}

var _ presentation.Sink = (*Service)(nil)

// New creates a Service over store.
func New(store storage.LabelMetricsStore, opts Options) *Service {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		interval: opts.FlushInterval,
		logger:   opts.Logger,
		now:      opts.Now,
		pending:  make(map[string]map[string]int64),
		dirty:    make(map[string]bool),
	}
}

func (s *Service) today() string {
	return s.now().UTC().Format(dateLayout)
}

// Load seeds today's counters from the store so a restart continues the day.
func (s *Service) Load(ctx context.Context) error {
	day := s.today()
	rows, err := s.store.GetByDateRange(ctx, day, day)
	if err != nil {
		return fmt.Errorf("load label metrics for %s: %w", day, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.counts(day)
	for _, row := range rows {
		for _, lc := range row.Labels {
			counts[lc.Label] += lc.Count
		}
	}
	return nil
}

// counts must be called with mu held.
func (s *Service) counts(day string) map[string]int64 {
	c, ok := s.pending[day]
	if !ok {
		c = make(map[string]int64)
		s.pending[day] = c
	}
	return c
}

// Record counts one transaction displayed under label today.
func (s *Service) Record(label string) {
	if label == "" {
		return
	}
	day := s.today()

	s.mu.Lock()
	s.counts(day)[label]++
	s.dirty[day] = true
	s.mu.Unlock()
}

// Deliver implements presentation.Sink.
func (s *Service) Deliver(_ context.Context, d presentation.Delivery) error {
	s.Record(d.Label)
	return nil
}

// Today returns the in-memory counters for the current day.
func (s *Service) Today() *domain.DailyLabelMetrics {
	day := s.today()
	s.mu.Lock()
	defer s.mu.Unlock()
	return toDaily(day, s.pending[day])
}

// Flush writes every changed day to the store, drops finished days from
// memory and enforces retention.
func (s *Service) Flush(ctx context.Context) error {
	today := s.today()

	s.mu.Lock()
	var batch []*domain.DailyLabelMetrics
	for day := range s.dirty {
		batch = append(batch, toDaily(day, s.pending[day]))
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	var errs []error
	for _, m := range batch {
		if err := s.store.Upsert(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("upsert label metrics %s: %w", m.Date, err))
			s.markDirty(m.Date)
		}
	}

	s.mu.Lock()
	for day := range s.pending {
		if day < today && !s.dirty[day] {
			delete(s.pending, day)
		}
	}
	s.mu.Unlock()

	if err := s.store.DeleteBefore(ctx, CutoffDate(s.now())); err != nil {
		errs = append(errs, fmt.Errorf("apply label metrics retention: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) markDirty(day string) {
	s.mu.Lock()
	s.dirty[day] = true
	s.mu.Unlock()
}

// Run flushes periodically until ctx is cancelled, then flushes once more.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Warn("final label metrics flush failed", zap.Error(err))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("label metrics flush failed", zap.Error(err))
			}
		}
	}
}

// Range returns stored days within [start, end], newest first.
func (s *Service) Range(ctx context.Context, start, end string) ([]*domain.DailyLabelMetrics, error) {
	if err := validateDate(start); err != nil {
		return nil, err
	}
	if err := validateDate(end); err != nil {
		return nil, err
	}
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("label metrics flush before read failed", zap.Error(err))
	}
	return s.store.GetByDateRange(ctx, start, end)
}

// LastDays returns the most recent n stored days, newest first.
func (s *Service) LastDays(ctx context.Context, n int) ([]*domain.DailyLabelMetrics, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", storage.ErrInvalidInput)
	}
	if n > RetentionDays {
		n = RetentionDays
	}
	if err := s.Flush(ctx); err != nil {
		s.logger.Warn("label metrics flush before read failed", zap.Error(err))
	}
	return s.store.GetLatest(ctx, n)
}

// Report builds a report over every retained day.
func (s *Service) Report(ctx context.Context) (*reporting.Report, error) {
	days, err := s.LastDays(ctx, RetentionDays)
	if err != nil {
		return nil, err
	}
	return reporting.Build(days, s.now().UTC()), nil
}

// ExportJSON writes every retained day as JSON.
func (s *Service) ExportJSON(ctx context.Context, w io.Writer) error {
	r, err := s.Report(ctx)
	if err != nil {
		return err
	}
	return reporting.WriteJSON(w, r)
}

// ExportCSV writes every retained day as CSV.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	r, err := s.Report(ctx)
	if err != nil {
		return err
	}
	return reporting.WriteCSV(w, r)
}

// Clear discards all stored and pending counts.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.pending = make(map[string]map[string]int64)
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	if err := s.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear label metrics: %w", err)
	}
	s.logger.Info("label metrics cleared")
	return nil
}

// CutoffDate returns the oldest date kept under RetentionDays at now.
func CutoffDate(now time.Time) string {
	return now.UTC().AddDate(0, 0, -(RetentionDays - 1)).Format(dateLayout)
}

func validateDate(d string) error {
	if _, err := time.Parse(dateLayout, d); err != nil {
		return fmt.Errorf("%w: date %q", storage.ErrInvalidInput, d)
	}
	return nil
}

func toDaily(day string, counts map[string]int64) *domain.DailyLabelMetrics {
	m := &domain.DailyLabelMetrics{Date: day, Labels: []domain.LabelCount{}}
	for label, n := range counts {
		m.Labels = append(m.Labels, domain.LabelCount{Label: label, Count: n})
		m.TotalTransactions += n
	}
	sort.Slice(m.Labels, func(i, j int) bool { return m.Labels[i].Label < m.Labels[j].Label })
	return m
}
