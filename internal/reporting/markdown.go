package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Daily Label Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if len(r.Days) == 0 {
		sb.WriteString("No label metrics available.\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Range: %s .. %s | Days: %d | Transactions: %d\n\n",
		r.Start, r.End, len(r.Days), r.GrandTotal))

	// Label totals
	sb.WriteString("## Label Totals\n\n")
	if len(r.Labels) > 0 {
		sb.WriteString("| Label | Count | Share |\n")
		sb.WriteString("|-------|-------|-------|\n")
		for _, label := range r.TopLabels(-1) {
			share := 0.0
			if r.GrandTotal > 0 {
				share = float64(r.Totals[label]) / float64(r.GrandTotal) * 100
			}
			sb.WriteString(fmt.Sprintf("| %s | %d | %.1f%% |\n", escapeCell(label), r.Totals[label], share))
		}
	} else {
		sb.WriteString("No labels recorded.\n")
	}
	sb.WriteString("\n")

	// Per-day table
	sb.WriteString("## Daily\n\n")
	sb.WriteString("| Date | Total |")
	sep := "|------|-------|"
	for _, label := range r.Labels {
		sb.WriteString(fmt.Sprintf(" %s |", escapeCell(label)))
		sep += "---|"
	}
	sb.WriteString("\n" + sep + "\n")
	for _, d := range r.Days {
		sb.WriteString(fmt.Sprintf("| %s | %d |", d.Date, d.Total))
		for _, label := range r.Labels {
			sb.WriteString(fmt.Sprintf(" %d |", d.Count(label)))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
