package schema

import (
	"errors"
	"fmt"
	"math"
	"time"

	"mvr-etl/internal/domain"
)

// ErrTypeMismatch is returned when a value cannot be represented in its column type.
var ErrTypeMismatch = errors.New("type mismatch")

// Row returns the record's values in MVR column order.
// NULL columns are untyped nil; integer columns are int64; Date is time.Time.
func Row(r *domain.EnrichedRecord) ([]any, error) {
	volM, err := integral(ColVolumeM, r.M.Volume)
	if err != nil {
		return nil, err
	}
	volV, err := integral(ColVolumeV, r.V.Volume)
	if err != nil {
		return nil, err
	}

	return []any{
		r.Date,
		r.M.Open, r.M.High, r.M.Low, r.M.Close, r.M.AdjClose, volM,
		r.V.Open, r.V.High, r.V.Low, r.V.Close, r.V.AdjClose, volV,
		r.DerivedM.PriceChange, r.DerivedV.PriceChange,
		nullable(r.DerivedM.PctChange), nullable(r.DerivedV.PctChange),
		r.DerivedM.Volatility, r.DerivedV.Volatility,
		nullable(r.DerivedM.MA7Close), nullable(r.DerivedV.MA7Close),
		nullable(r.DerivedM.MA30Close), nullable(r.DerivedV.MA30Close),
		nullable(r.DerivedM.VolumeMA7), nullable(r.DerivedV.VolumeMA7),
		nullable(r.VolumeRatioMV),
		int64(r.DayOfWeek), int64(r.Month), int64(r.Year),
	}, nil
}

// DateOnly truncates t to UTC midnight.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// int64Limit is 2^63. float64(math.MaxInt64) rounds up to it, so the
// representable range is [-2^63, 2^63).
var int64Limit = math.Ldexp(1, 63)

func integral(col string, v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || v >= int64Limit || v < -int64Limit {
		return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrTypeMismatch, col, v)
	}
	return int64(v), nil
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
