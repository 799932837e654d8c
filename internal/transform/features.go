package transform

import (
	"math"

	"mvr-etl/internal/domain"
)

// Trailing window sizes, in rows.
const (
	WindowShort = 7
	WindowLong  = 30
)

// computeFeatures builds enriched records in the given row order.
// Windows run over row positions; calendar gaps are not considered.
func computeFeatures(rows []cleanRow) []*domain.EnrichedRecord {
	n := len(rows)
	closeM := make([]float64, n)
	closeV := make([]float64, n)
	volM := make([]float64, n)
	volV := make([]float64, n)
	for i, r := range rows {
		closeM[i] = r.m.Close
		closeV[i] = r.v.Close
		volM[i] = r.m.Volume
		volV[i] = r.v.Volume
	}

	out := make([]*domain.EnrichedRecord, n)
	for i, r := range rows {
		rec := &domain.EnrichedRecord{
			Date:      r.date,
			M:         r.m,
			V:         r.v,
			DerivedM:  barFeatures(r.m),
			DerivedV:  barFeatures(r.v),
			DayOfWeek: domain.DayOfWeekOrdinal(r.date),
			Month:     int(r.date.Month()),
			Year:      r.date.Year(),
		}

		rec.DerivedM.MA7Close = trailingMean(closeM, i, WindowShort)
		rec.DerivedV.MA7Close = trailingMean(closeV, i, WindowShort)
		rec.DerivedM.MA30Close = trailingMean(closeM, i, WindowLong)
		rec.DerivedV.MA30Close = trailingMean(closeV, i, WindowLong)
		rec.DerivedM.VolumeMA7 = trailingMean(volM, i, WindowShort)
		rec.DerivedV.VolumeMA7 = trailingMean(volV, i, WindowShort)

		rec.VolumeRatioMV = finite(r.m.Volume / r.v.Volume)

		out[i] = rec
	}
	return out
}

// barFeatures computes the single-row features of one instrument.
func barFeatures(b domain.OHLCV) domain.Derived {
	change := b.Close - b.Open
	return domain.Derived{
		PriceChange: change,
		PctChange:   finite(change / b.Open * 100),
		Volatility:  b.High - b.Low,
	}
}

// trailingMean is the mean of values[i-window+1 .. i], NULL until the window is full.
// Each window is summed afresh so results do not depend on earlier rows.
func trailingMean(values []float64, i, window int) *float64 {
	if i+1 < window {
		return nil
	}
	var sum float64
	for _, v := range values[i-window+1 : i+1] {
		sum += v
	}
	return finite(sum / float64(window))
}

// finite returns nil for NaN and ±Inf.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
