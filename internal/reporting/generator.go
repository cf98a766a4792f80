package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

// Generator produces label reports from stored daily metrics.
type Generator struct {
	store storage.LabelMetricsStore
	now   func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(store storage.LabelMetricsStore) *Generator {
	return &Generator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate reports on days within [start, end].
func (g *Generator) Generate(ctx context.Context, start, end string) (*Report, error) {
	days, err := g.store.GetByDateRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load label metrics %s..%s: %w", start, end, err)
	}
	return Build(days, g.now()), nil
}

// GenerateLatest reports on the most recent n stored days.
func (g *Generator) GenerateLatest(ctx context.Context, n int) (*Report, error) {
	days, err := g.store.GetLatest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("load latest %d label metric days: %w", n, err)
	}
	return Build(days, g.now()), nil
}

// Build assembles a report from daily metrics in any order.
func Build(days []*domain.DailyLabelMetrics, generatedAt time.Time) *Report {
	r := &Report{
		GeneratedAt: generatedAt,
		Labels:      []string{},
		Days:        make([]DayRow, 0, len(days)),
		Totals:      make(map[string]int64),
	}

	for _, d := range days {
		if d == nil || d.Date == "" {
			continue
		}
		row := DayRow{
			Date:   d.Date,
			Counts: make(map[string]int64, len(d.Labels)),
			Total:  d.TotalTransactions,
		}
		for _, lc := range d.Labels {
			if lc.Label == "" {
				continue
			}
			if _, seen := r.Totals[lc.Label]; !seen {
				r.Labels = append(r.Labels, lc.Label)
			}
			row.Counts[lc.Label] += lc.Count
			r.Totals[lc.Label] += lc.Count
		}
		r.GrandTotal += row.Total
		r.Days = append(r.Days, row)
	}

	sort.Strings(r.Labels)
	// YYYY-MM-DD sorts lexically
	sort.Slice(r.Days, func(i, j int) bool { return r.Days[i].Date > r.Days[j].Date })
	if len(r.Days) > 0 {
		r.End = r.Days[0].Date
		r.Start = r.Days[len(r.Days)-1].Date
	}
	return r
}

func sortByTotal(labels []string, totals map[string]int64) {
	sort.SliceStable(labels, func(i, j int) bool {
		ti, tj := totals[labels[i]], totals[labels[j]]
		if ti != tj {
			return ti > tj
		}
		return labels[i] < labels[j]
	})
}
