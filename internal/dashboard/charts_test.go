package dashboard

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

func chartIDs(charts []Chart) []string {
	ids := make([]string, len(charts))
	for i, c := range charts {
		ids[i] = c.ID
	}
	return ids
}

func TestBuildCharts_AllColumns(t *testing.T) {
	rs := seededResultSet(t, 40)

	charts := BuildCharts(rs)
	assert.Equal(t, []string{
		"close", "pct_change", "volatility", "volume", "moving_average",
		"volume_ma", "volume_ratio", "sentiment", "volume_share",
	}, chartIDs(charts))

	closeChart := charts[0]
	require.Len(t, closeChart.Series, 2)
	assert.Equal(t, schema.ColCloseM, closeChart.Series[0].Name)
	assert.Equal(t, "2024-01-01", closeChart.Series[0].X[0])
	assert.Len(t, closeChart.Series[0].Y, 40)

	pie := charts[len(charts)-1]
	assert.Equal(t, KindPie, pie.Kind)
	assert.Equal(t, []string{"MasterCard", "Visa"}, pie.Labels)
	assert.InDelta(t, 40*1000.0, pie.Values[0], 1e-9)
	assert.InDelta(t, 40*2000.0, pie.Values[1], 1e-9)
}

func TestBuildCharts_OmitsUnselected(t *testing.T) {
	rs, err := seededResultSet(t, 5).Project([]string{schema.ColDate, schema.ColCloseM, schema.ColCloseV})
	require.NoError(t, err)

	assert.Equal(t, []string{"close"}, chartIDs(BuildCharts(rs)))
}

func TestBuildCharts_NoDate(t *testing.T) {
	rs, err := seededResultSet(t, 5).Project([]string{schema.ColVolumeM, schema.ColVolumeV})
	require.NoError(t, err)

	assert.Equal(t, []string{"volume_share"}, chartIDs(BuildCharts(rs)))
}

func TestBuildCharts_Empty(t *testing.T) {
	assert.Empty(t, BuildCharts(&storage.ResultSet{}))
}

func TestCell(t *testing.T) {
	assert.Nil(t, Cell(nil))
	assert.Nil(t, Cell(math.NaN()))
	assert.Nil(t, Cell(math.Inf(1)))
	assert.Nil(t, Cell((*float64)(nil)))
	assert.Equal(t, "2024-03-01", Cell(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 42.0, Cell(int64(42)))
	assert.Equal(t, 1.5, Cell(1.5))
	assert.Equal(t, "x", Cell("x"))
}

func TestDisplayCell(t *testing.T) {
	assert.Equal(t, "2 (Wednesday)", displayCell(schema.ColDayOfWeek, int64(2)))
	assert.Equal(t, "405.5", displayCell(schema.ColCloseM, 405.5))
	assert.Equal(t, "", displayCell(schema.ColMA7CloseM, nil))
}
