// Package dataset reads and writes the intermediate enriched CSV handed
// from the transform stage to the load stage.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/schema"
)

// DateLayout is the on-disk date format.
const DateLayout = "2006-01-02"

// ErrHeaderMismatch is returned when the file header is not the published column list.
var ErrHeaderMismatch = errors.New("dataset header does not match table contract")

var columns = schema.MVR("").Columns

// Write writes records to path. The file is written beside path and renamed
// into place, so a reader never sees a partial file.
func Write(path string, records []*domain.EnrichedRecord) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, records); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename dataset: %w", err)
	}
	return nil
}

// Encode writes the header and one row per record.
func Encode(w io.Writer, records []*domain.EnrichedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schema.MVR("").ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(encodeRecord(r)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read parses a dataset written by Write.
func Read(path string) ([]*domain.EnrichedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

// Decode parses the header and rows.
func Decode(r io.Reader) ([]*domain.EnrichedRecord, error) {
	cr := csv.NewReader(r)
	want := schema.MVR("").ColumnNames()
	cr.FieldsPerRecord = len(want)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range want {
		if header[i] != want[i] {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrHeaderMismatch, i, header[i], want[i])
		}
	}

	var records []*domain.EnrichedRecord
	line := 1
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line++
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRecord(r *domain.EnrichedRecord) []string {
	return []string{
		r.Date.Format(DateLayout),
		fmtFloat(r.M.Open), fmtFloat(r.M.High), fmtFloat(r.M.Low), fmtFloat(r.M.Close), fmtFloat(r.M.AdjClose), fmtFloat(r.M.Volume),
		fmtFloat(r.V.Open), fmtFloat(r.V.High), fmtFloat(r.V.Low), fmtFloat(r.V.Close), fmtFloat(r.V.AdjClose), fmtFloat(r.V.Volume),
		fmtFloat(r.DerivedM.PriceChange), fmtFloat(r.DerivedV.PriceChange),
		fmtNullable(r.DerivedM.PctChange), fmtNullable(r.DerivedV.PctChange),
		fmtFloat(r.DerivedM.Volatility), fmtFloat(r.DerivedV.Volatility),
		fmtNullable(r.DerivedM.MA7Close), fmtNullable(r.DerivedV.MA7Close),
		fmtNullable(r.DerivedM.MA30Close), fmtNullable(r.DerivedV.MA30Close),
		fmtNullable(r.DerivedM.VolumeMA7), fmtNullable(r.DerivedV.VolumeMA7),
		fmtNullable(r.VolumeRatioMV),
		strconv.Itoa(r.DayOfWeek), strconv.Itoa(r.Month), strconv.Itoa(r.Year),
	}
}

// fieldReader parses fields in order and keeps the first error.
type fieldReader struct {
	fields []string
	pos    int
	err    error
}

func (f *fieldReader) next() (string, string) {
	name := columns[f.pos].Name
	v := f.fields[f.pos]
	f.pos++
	return name, v
}

func (f *fieldReader) float() float64 {
	name, s := f.next()
	if f.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func (f *fieldReader) nullable() *float64 {
	name, s := f.next()
	if f.err != nil || s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
		return nil
	}
	return &v
}

func (f *fieldReader) int() int {
	name, s := f.next()
	if f.err != nil {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func (f *fieldReader) date() time.Time {
	name, s := f.next()
	if f.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		f.err = fmt.Errorf("column %s: %w", name, err)
	}
	return t
}

func decodeRecord(fields []string) (*domain.EnrichedRecord, error) {
	f := &fieldReader{fields: fields}
	r := &domain.EnrichedRecord{}

	r.Date = f.date()
	r.M = domain.OHLCV{Open: f.float(), High: f.float(), Low: f.float(), Close: f.float(), AdjClose: f.float(), Volume: f.float()}
	r.V = domain.OHLCV{Open: f.float(), High: f.float(), Low: f.float(), Close: f.float(), AdjClose: f.float(), Volume: f.float()}
	r.DerivedM.PriceChange = f.float()
	r.DerivedV.PriceChange = f.float()
	r.DerivedM.PctChange = f.nullable()
	r.DerivedV.PctChange = f.nullable()
	r.DerivedM.Volatility = f.float()
	r.DerivedV.Volatility = f.float()
	r.DerivedM.MA7Close = f.nullable()
	r.DerivedV.MA7Close = f.nullable()
	r.DerivedM.MA30Close = f.nullable()
	r.DerivedV.MA30Close = f.nullable()
	r.DerivedM.VolumeMA7 = f.nullable()
	r.DerivedV.VolumeMA7 = f.nullable()
	r.VolumeRatioMV = f.nullable()
	r.DayOfWeek = f.int()
	r.Month = f.int()
	r.Year = f.int()

	if f.err != nil {
		return nil, f.err
	}
	return r, nil
}

// fmtFloat uses the shortest representation that round-trips.
func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fmtNullable(p *float64) string {
	if p == nil {
		return ""
	}
	return fmtFloat(*p)
}
