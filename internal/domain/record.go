package domain

import "time"

// Instrument identifies one side of the paired series.
type Instrument string

const (
	InstrumentM Instrument = "M" // MasterCard
	InstrumentV Instrument = "V" // Visa
)

// Instruments lists both sides in column order.
var Instruments = []Instrument{InstrumentM, InstrumentV}

// OHLCV is one instrument's daily bar.
type OHLCV struct {
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   float64 // stored as integer; kept float for ratio math
}

// RawRecord is one positional input row.
// Numeric fields are nil when missing or not parseable as a number.
type RawRecord struct {
	Line int // 1-based line in the source file
	Date string

	M RawOHLCV
	V RawOHLCV
}

// RawOHLCV holds the unvalidated numeric fields for one instrument.
type RawOHLCV struct {
	Open     *float64
	High     *float64
	Low      *float64
	Close    *float64
	AdjClose *float64
	Volume   *float64
}

// Complete reports whether every field is present.
func (r RawOHLCV) Complete() bool {
	return r.Open != nil && r.High != nil && r.Low != nil &&
		r.Close != nil && r.AdjClose != nil && r.Volume != nil
}

// Values returns the bar, assuming Complete.
func (r RawOHLCV) Values() OHLCV {
	return OHLCV{
		Open:     *r.Open,
		High:     *r.High,
		Low:      *r.Low,
		Close:    *r.Close,
		AdjClose: *r.AdjClose,
		Volume:   *r.Volume,
	}
}

// Derived holds per-instrument computed features.
// Pointer fields are NULL when undefined (window not yet full, division by zero).
type Derived struct {
	PriceChange float64  // close - open
	PctChange   *float64 // price_change / open * 100
	Volatility  float64  // high - low
	MA7Close    *float64 // trailing 7-row mean of close
	MA30Close   *float64 // trailing 30-row mean of close
	VolumeMA7   *float64 // trailing 7-row mean of volume
}

// EnrichedRecord is one output row; it maps 1:1 onto the published table.
type EnrichedRecord struct {
	Date time.Time // UTC midnight

	M OHLCV
	V OHLCV

	DerivedM Derived
	DerivedV Derived

	VolumeRatioMV *float64 // volume_m / volume_v

	DayOfWeek int // Monday=0 .. Sunday=6
	Month     int
	Year      int
}

// Bar returns the raw bar for an instrument.
func (r *EnrichedRecord) Bar(i Instrument) OHLCV {
	if i == InstrumentV {
		return r.V
	}
	return r.M
}

// Features returns the derived features for an instrument.
func (r *EnrichedRecord) Features(i Instrument) Derived {
	if i == InstrumentV {
		return r.DerivedV
	}
	return r.DerivedM
}
