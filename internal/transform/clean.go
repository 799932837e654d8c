package transform

import (
	"strconv"
	"strings"
	"time"

	"mvr-etl/internal/domain"
)

// cleanRow is a raw row that survived cleaning, with its parsed date.
type cleanRow struct {
	line int
	date time.Time
	m    domain.OHLCV
	v    domain.OHLCV
}

// dropDuplicates keeps the first occurrence of each exact duplicate.
// Numeric fields compare by value; missing fields compare equal.
func dropDuplicates(records []*domain.RawRecord) []*domain.RawRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, r := range records {
		k := dedupKey(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func dedupKey(r *domain.RawRecord) string {
	var sb strings.Builder
	sb.WriteString(r.Date)
	for _, side := range []domain.RawOHLCV{r.M, r.V} {
		for _, p := range []*float64{side.Open, side.High, side.Low, side.Close, side.AdjClose, side.Volume} {
			sb.WriteByte(0x1f)
			if p == nil {
				sb.WriteString("NA")
				continue
			}
			sb.WriteString(strconv.FormatFloat(*p, 'g', -1, 64))
		}
	}
	return sb.String()
}

// dropIncomplete removes rows with any missing field.
func dropIncomplete(records []*domain.RawRecord) []*domain.RawRecord {
	out := records[:0:0]
	for _, r := range records {
		if strings.TrimSpace(r.Date) == "" || !r.M.Complete() || !r.V.Complete() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseDates removes rows whose date does not parse.
func parseDates(records []*domain.RawRecord) []cleanRow {
	out := make([]cleanRow, 0, len(records))
	for _, r := range records {
		d, ok := parseDate(r.Date)
		if !ok {
			continue
		}
		out = append(out, cleanRow{line: r.Line, date: d, m: r.M.Values(), v: r.V.Values()})
	}
	return out
}

// dropNonPositiveVolume removes rows where either volume is <= 0.
func dropNonPositiveVolume(rows []cleanRow) []cleanRow {
	out := rows[:0:0]
	for _, r := range rows {
		if r.m.Volume <= 0 || r.v.Volume <= 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}
