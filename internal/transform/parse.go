package transform

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/schema"
)

// Tokens read as missing values in numeric columns.
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"#n/a": {},
	"nan":  {},
	"null": {},
	"none": {},
}

// parseRecords reads positional rows. The header row, if any, is discarded
// unread: names come from schema.RawColumns regardless of its content.
func parseRecords(r io.Reader, comma rune, skipHeader bool) ([]*domain.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var records []*domain.RawRecord
	line := 0
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if line == 1 && skipHeader {
			continue
		}
		if len(fields) > len(schema.RawColumns) {
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(schema.RawColumns), len(fields))
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}

		records = append(records, toRawRecord(line, fields))
	}

	return records, nil
}

// toRawRecord binds fields by position; short rows leave trailing fields missing.
func toRawRecord(line int, fields []string) *domain.RawRecord {
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	return &domain.RawRecord{
		Line: line,
		Date: get(0),
		M: domain.RawOHLCV{
			Open:     parseNumber(get(1)),
			High:     parseNumber(get(2)),
			Low:      parseNumber(get(3)),
			Close:    parseNumber(get(4)),
			AdjClose: parseNumber(get(5)),
			Volume:   parseNumber(get(6)),
		},
		V: domain.RawOHLCV{
			Open:     parseNumber(get(7)),
			High:     parseNumber(get(8)),
			Low:      parseNumber(get(9)),
			Close:    parseNumber(get(10)),
			AdjClose: parseNumber(get(11)),
			Volume:   parseNumber(get(12)),
		},
	}
}

// parseNumber returns nil for missing, non-numeric, or non-finite text.
func parseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if _, missing := missingTokens[strings.ToLower(s)]; missing {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
