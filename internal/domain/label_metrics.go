package domain

// LabelCount is the number of displayed transactions carrying a label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// DailyLabelMetrics aggregates displayed-transaction labels for one UTC day.
// Corresponds to the label_metrics_daily table in ClickHouse.
type DailyLabelMetrics struct {
	Date              string       `json:"date"` // YYYY-MM-DD
	Labels            []LabelCount `json:"labels"`
	TotalTransactions int64        `json:"totalTransactions"`
}
