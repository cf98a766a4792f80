package reporting

import "time"

// Report summarizes displayed-transaction labels over a range of days.
type Report struct {
	GeneratedAt time.Time `json:"generatedAt"`

	// Range covered by Days, YYYY-MM-DD. Empty when no days are stored.
	Start string `json:"start"`
	End   string `json:"end"`

	// Labels is the sorted union of labels seen across Days.
	Labels []string `json:"labels"`

	// Days, newest first.
	Days []DayRow `json:"days"`

	// Totals per label across all days.
	Totals     map[string]int64 `json:"totals"`
	GrandTotal int64            `json:"grandTotal"`
}

// DayRow is one day of label counts.
type DayRow struct {
	Date   string           `json:"date"`
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"totalTransactions"`
}

// Count returns the count for label on the day, zero when absent.
func (d DayRow) Count(label string) int64 {
	return d.Counts[label]
}

// TopLabels returns up to n labels ordered by total count desc, then name.
func (r *Report) TopLabels(n int) []string {
	labels := append([]string(nil), r.Labels...)
	sortByTotal(labels, r.Totals)
	if n >= 0 && len(labels) > n {
		labels = labels[:n]
	}
	return labels
}
