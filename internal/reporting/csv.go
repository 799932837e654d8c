package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// RenderCSV renders stage rows as CSV string.
func RenderCSV(r *Report) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	// Header
	if err := w.Write([]string{"run_id", "stage", "outcome", "attempt", "rows", "duration_ms", "message", "error"}); err != nil {
		return "", err
	}

	// Rows
	for _, s := range r.Stages {
		if err := w.Write([]string{
			r.RunID,
			s.Stage,
			s.Outcome,
			strconv.Itoa(s.Attempt),
			strconv.FormatInt(s.Rows, 10),
			strconv.FormatInt(s.Duration.Milliseconds(), 10),
			s.Message,
			s.Error,
		}); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}
