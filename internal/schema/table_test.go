package schema

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvr-etl/internal/domain"
)

func TestMVR_ColumnOrder(t *testing.T) {
	tbl := MVR("")

	assert.Equal(t, DefaultTableName, tbl.Name)
	require.Len(t, tbl.Columns, 29)

	names := tbl.ColumnNames()
	assert.Equal(t, RawColumns, names[:13])
	assert.Equal(t, ColPriceChangeM, names[13])
	assert.Equal(t, ColVolumeRatioMV, names[25])
	assert.Equal(t, []string{ColDayOfWeek, ColMonth, ColYear}, names[26:])

	col, ok := tbl.Column(ColVolumeM)
	require.True(t, ok)
	assert.Equal(t, TypeInteger, col.Type)

	col, ok = tbl.Column(ColDayOfWeek)
	require.True(t, ok)
	assert.Equal(t, TypeInteger, col.Type)

	_, ok = tbl.Column("nope")
	assert.False(t, ok)

	require.NoError(t, tbl.Validate())
}

func TestMVR_CustomName(t *testing.T) {
	assert.Equal(t, "mvr_staging", MVR("mvr_staging").Name)
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"MVR", "mvr_2024", "_tmp", "A"}
	for _, name := range valid {
		assert.NoError(t, ValidateIdentifier(name), name)
	}

	invalid := []string{
		"",
		"1abc",
		`MVR"; DROP TABLE users; --`,
		"mvr table",
		"public.mvr",
		"a-b",
		string(make([]byte, 64)),
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateIdentifier(name), ErrInvalidIdentifier, name)
	}
}

func TestTable_ValidateDuplicateColumn(t *testing.T) {
	tbl := Table{Name: "t", Columns: []Column{{Name: "a"}, {Name: "a"}}}
	assert.Error(t, tbl.Validate())
}

func TestRow(t *testing.T) {
	ma := 12.5
	rec := &domain.EnrichedRecord{
		Date:      time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		M:         domain.OHLCV{Open: 1, High: 2, Low: 0.5, Close: 1.5, AdjClose: 1.4, Volume: 1000},
		V:         domain.OHLCV{Open: 3, High: 4, Low: 2, Close: 3.5, AdjClose: 3.3, Volume: 500},
		DerivedM:  domain.Derived{PriceChange: 0.5, MA7Close: &ma},
		DayOfWeek: 0,
		Month:     3,
		Year:      2024,
	}

	row, err := Row(rec)
	require.NoError(t, err)
	require.Len(t, row, len(MVR("").Columns))

	assert.Equal(t, rec.Date, row[0])
	assert.Equal(t, int64(1000), row[6])
	assert.Equal(t, int64(500), row[12])
	assert.Nil(t, row[15])
	assert.Equal(t, 12.5, row[19])
	assert.Nil(t, row[25])
	assert.Equal(t, []any{int64(0), int64(3), int64(2024)}, row[26:])
}

func TestRow_FractionalVolume(t *testing.T) {
	tests := []struct {
		name   string
		volume float64
	}{
		{"fractional", 10.5},
		{"two to the 63", 9223372036854775808},
		{"above int64", 1e19},
		{"below int64", -1e19},
		{"infinite", math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &domain.EnrichedRecord{
				M: domain.OHLCV{Volume: tt.volume},
				V: domain.OHLCV{Volume: 1},
			}

			_, err := Row(rec)
			assert.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestRow_LargestVolume(t *testing.T) {
	// Largest float64 below 2^63.
	v := math.Nextafter(math.Ldexp(1, 63), 0)
	rec := &domain.EnrichedRecord{
		M: domain.OHLCV{Volume: v},
		V: domain.OHLCV{Volume: 1},
	}

	row, err := Row(rec)
	require.NoError(t, err)
	assert.Equal(t, int64(v), row[6])
	assert.Positive(t, row[6].(int64))
}
