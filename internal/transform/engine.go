// Package transform cleans the paired OHLCV input and computes derived features.
package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"

	"mvr-etl/internal/domain"
)

// Options configures the engine.
type Options struct {
	Comma rune // field delimiter, default ','

	// SkipHeader discards the first row. Its content is never used for names.
	SkipHeader bool

	// SortByDate orders rows chronologically before windowing.
	// Off by default: windows follow post-cleaning file order.
	SortByDate bool
}

// DefaultOptions returns the options used by the pipeline.
func DefaultOptions() Options {
	return Options{Comma: ',', SkipHeader: true}
}

// Stats counts rows through each cleaning step.
type Stats struct {
	RowsRead          int
	DroppedDuplicate  int
	DroppedIncomplete int
	DroppedBadDate    int
	DroppedVolume     int
	RowsEmitted       int
}

// Dropped returns the total number of rows removed.
func (s Stats) Dropped() int {
	return s.DroppedDuplicate + s.DroppedIncomplete + s.DroppedBadDate + s.DroppedVolume
}

// Engine runs the transform over one input file.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine creates an engine. A nil logger is replaced with a no-op logger.
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger.With(zap.String("component", "transform"))}
}

// Run loads, cleans and enriches the file at path.
// Steps:
//  1. Parse positional rows (header discarded)
//  2. Drop exact duplicates
//  3. Drop rows with missing fields
//  4. Parse dates, drop failures
//  5. Drop rows with non-positive volume on either side
//  6. Compute derived and calendar features in row order
func (e *Engine) Run(ctx context.Context, path string) ([]*domain.EnrichedRecord, Stats, error) {
	var stats Stats

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, stats, newError(KindMissingInput, path, err)
		}
		return nil, stats, newError(KindMissingInput, path, fmt.Errorf("open input: %w", err))
	}
	defer f.Close()

	raw, err := parseRecords(bufio.NewReader(f), e.opts.Comma, e.opts.SkipHeader)
	if err != nil {
		return nil, stats, newError(KindMalformedInput, path, err)
	}
	stats.RowsRead = len(raw)
	if len(raw) == 0 {
		return nil, stats, newError(KindMalformedInput, path, errors.New("no data rows"))
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, newError(KindCancelled, path, err)
	}

	deduped := dropDuplicates(raw)
	stats.DroppedDuplicate = len(raw) - len(deduped)

	complete := dropIncomplete(deduped)
	stats.DroppedIncomplete = len(deduped) - len(complete)

	dated := parseDates(complete)
	stats.DroppedBadDate = len(complete) - len(dated)
	if len(complete) > 0 && len(dated) == 0 {
		return nil, stats, newError(KindMalformedDate, path,
			fmt.Errorf("none of %d dates could be parsed", len(complete)))
	}

	rows := dropNonPositiveVolume(dated)
	stats.DroppedVolume = len(dated) - len(rows)

	if len(rows) == 0 {
		return nil, stats, newError(KindNoSurvivingRows, path,
			fmt.Errorf("all %d rows dropped during cleaning", stats.RowsRead))
	}

	if e.opts.SortByDate {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })
	}

	records := computeFeatures(rows)
	stats.RowsEmitted = len(records)

	e.logger.Info("transform complete",
		zap.String("path", path),
		zap.Int("rows_read", stats.RowsRead),
		zap.Int("dropped_duplicate", stats.DroppedDuplicate),
		zap.Int("dropped_incomplete", stats.DroppedIncomplete),
		zap.Int("dropped_bad_date", stats.DroppedBadDate),
		zap.Int("dropped_volume", stats.DroppedVolume),
		zap.Int("rows_emitted", stats.RowsEmitted),
	)

	return records, stats, nil
}
