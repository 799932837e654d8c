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
	sb.WriteString("# Run Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Run: %s | Table: %s\n\n", r.RunID, r.Table))
	if r.Succeeded {
		sb.WriteString("**Status: SUCCESS**\n\n")
	} else {
		sb.WriteString("**Status: INCOMPLETE**\n\n")
	}

	// Stages
	sb.WriteString("## Stages\n\n")
	if len(r.Stages) > 0 {
		sb.WriteString("| Stage | Outcome | Attempt | Rows | Duration | Detail |\n")
		sb.WriteString("|-------|---------|---------|------|----------|--------|\n")
		for _, s := range r.Stages {
			detail := s.Message
			if s.Error != "" {
				detail = s.Error
			}
			attempt := "-"
			if s.Attempt > 0 {
				attempt = fmt.Sprintf("%d", s.Attempt)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s | %s |\n",
				s.Stage, s.Outcome, attempt, s.Rows, s.Duration.Round(time.Millisecond), escapeCell(detail)))
		}
	} else {
		sb.WriteString("No stages were run.\n")
	}
	sb.WriteString("\n")

	// Data Quality
	sb.WriteString("## Data Quality\n\n")
	if t := r.Transform; t != nil {
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Rows Read | %d |\n", t.RowsRead))
		sb.WriteString(fmt.Sprintf("| Dropped: Duplicate | %d |\n", t.DroppedDuplicate))
		sb.WriteString(fmt.Sprintf("| Dropped: Missing Value | %d |\n", t.DroppedIncomplete))
		sb.WriteString(fmt.Sprintf("| Dropped: Unparseable Date | %d |\n", t.DroppedBadDate))
		sb.WriteString(fmt.Sprintf("| Dropped: Non-positive Volume | %d |\n", t.DroppedVolume))
		sb.WriteString(fmt.Sprintf("| Rows Emitted | %d |\n", t.RowsEmitted))
		if t.RowsRead > 0 {
			sb.WriteString(fmt.Sprintf("| Retention | %.2f%% |\n", float64(t.RowsEmitted)/float64(t.RowsRead)*100))
		}
	} else {
		sb.WriteString("Transform did not complete in this run.\n")
	}
	sb.WriteString("\n")

	// Load
	sb.WriteString("## Load\n\n")
	if r.Checksum != "" {
		sb.WriteString(fmt.Sprintf("Dataset SHA-256: `%s`\n\n", r.Checksum))
	}
	if r.Succeeded {
		sb.WriteString(fmt.Sprintf("Table %s replaced with %d rows.\n", r.Table, r.RowsLoad))
	} else {
		sb.WriteString("Table contents were not replaced by this run.\n")
	}

	return sb.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
