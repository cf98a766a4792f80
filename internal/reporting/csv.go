package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RenderCSV renders the report as CSV: one row per day, newest first,
// with a column per label.
func RenderCSV(r *Report) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, r); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WriteCSV writes the CSV rendering of r to w.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)

	header := append([]string{"date", "total_transactions"}, r.Labels...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, d := range r.Days {
		row := make([]string, 0, len(header))
		row = append(row, d.Date, strconv.FormatInt(d.Total, 10))
		for _, label := range r.Labels {
			row = append(row, strconv.FormatInt(d.Count(label), 10))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", d.Date, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
