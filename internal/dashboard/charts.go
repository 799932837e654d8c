package dashboard

import (
	"math"
	"time"

	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

// Chart kinds.
const (
	KindLine    = "line"
	KindBar     = "bar"
	KindScatter = "scatter"
	KindPie     = "pie"
)

// Series is one plotted trace.
type Series struct {
	Name  string `json:"name"`
	X     []any  `json:"x"`
	Y     []any  `json:"y"`
	Color []any  `json:"color,omitempty"`
}

// Chart is a client-side plottable dataset.
type Chart struct {
	ID      string    `json:"id"`
	Section string    `json:"section"`
	Title   string    `json:"title"`
	Kind    string    `json:"kind"`
	XLabel  string    `json:"x_label,omitempty"`
	YLabel  string    `json:"y_label,omitempty"`
	Series  []Series  `json:"series,omitempty"`
	Labels  []string  `json:"labels,omitempty"`
	Values  []float64 `json:"values,omitempty"`
}

type seriesChart struct {
	id, section, title, kind string
	xLabel, yLabel           string
	y                        []string
}

var seriesCharts = []seriesChart{
	{
		id: "close", section: "Insights sur les prix", kind: KindLine,
		title:  "Prix de clôture de MasterCard et Visa",
		xLabel: "Date", yLabel: "Prix",
		y: []string{schema.ColCloseM, schema.ColCloseV},
	},
	{
		id: "pct_change", section: "Insights sur les prix", kind: KindLine,
		title:  "Changement en pourcentage des prix au fil du temps",
		xLabel: "Date", yLabel: "Changement en pourcentage",
		y: []string{schema.ColPctChangeM, schema.ColPctChangeV},
	},
	{
		id: "volatility", section: "Insights sur le risque et la volatilité", kind: KindLine,
		title:  "Volatilité des prix pour MasterCard et Visa",
		xLabel: "Date", yLabel: "Volatilité",
		y: []string{schema.ColVolatilityM, schema.ColVolatilityV},
	},
	{
		id: "volume", section: "Insights sur le volume", kind: KindBar,
		title: "Volumes des transactions pour MasterCard et Visa",
		y:     []string{schema.ColVolumeM, schema.ColVolumeV},
	},
	{
		id: "moving_average", section: "Insights sur le volume", kind: KindLine,
		title: "Moyennes mobiles sur 7 jours et 30 jours des prix de clôture",
		y:     []string{schema.ColMA7CloseM, schema.ColMA7CloseV, schema.ColMA30CloseM, schema.ColMA30CloseV},
	},
	{
		id: "volume_ma", section: "Insights sur le volume", kind: KindLine,
		title: "Moyenne mobile sur 7 jours des volumes",
		y:     []string{schema.ColVolumeMA7M, schema.ColVolumeMA7V},
	},
	{
		id: "volume_ratio", section: "Insights avancés", kind: KindLine,
		title: "Ratio volume / prix pour MasterCard et Visa",
		y:     []string{schema.ColVolumeRatioMV},
	},
}

// BuildCharts derives every chart whose columns are all present in rs.
func BuildCharts(rs *storage.ResultSet) []Chart {
	var charts []Chart

	dateIdx := rs.ColumnIndex(schema.ColDate)
	if dateIdx >= 0 {
		x := column(rs, dateIdx)
		for _, def := range seriesCharts {
			idx, ok := indexes(rs, def.y)
			if !ok {
				continue
			}
			c := Chart{
				ID: def.id, Section: def.section, Title: def.title, Kind: def.kind,
				XLabel: def.xLabel, YLabel: def.yLabel,
			}
			for i, name := range def.y {
				c.Series = append(c.Series, Series{Name: name, X: x, Y: column(rs, idx[i])})
			}
			charts = append(charts, c)
		}
	}

	if idx, ok := indexes(rs, []string{schema.ColPctChangeM, schema.ColVolumeRatioMV}); ok {
		s := Series{Name: schema.ColVolumeRatioMV, X: column(rs, idx[0]), Y: column(rs, idx[1])}
		if dateIdx >= 0 {
			s.Color = column(rs, dateIdx)
		}
		charts = append(charts, Chart{
			ID: "sentiment", Section: "Sentiment du marché et prise de décision", Kind: KindScatter,
			Title:  "Sentiment du marché : Changement de prix vs Volume",
			XLabel: "Changement de prix", YLabel: "Ratio volume / prix",
			Series: []Series{s},
		})
	}

	if idx, ok := indexes(rs, []string{schema.ColVolumeM, schema.ColVolumeV}); ok {
		charts = append(charts, Chart{
			ID: "volume_share", Section: "Répartition du volume", Kind: KindPie,
			Title:  "Répartition du volume : MasterCard vs Visa",
			Labels: []string{"MasterCard", "Visa"},
			Values: []float64{sum(rs, idx[0]), sum(rs, idx[1])},
		})
	}

	return charts
}

func indexes(rs *storage.ResultSet, names []string) ([]int, bool) {
	out := make([]int, len(names))
	for i, n := range names {
		out[i] = rs.ColumnIndex(n)
		if out[i] < 0 {
			return nil, false
		}
	}
	return out, true
}

func column(rs *storage.ResultSet, idx int) []any {
	out := make([]any, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = Cell(row[idx])
	}
	return out
}

func sum(rs *storage.ResultSet, idx int) float64 {
	var total float64
	for _, row := range rs.Rows {
		if f, ok := toFloat(row[idx]); ok {
			total += f
		}
	}
	return total
}

// Cell normalizes a driver value for JSON and display: dates become
// YYYY-MM-DD strings, numbers become float64, NaN and nil become nil.
func Cell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format("2006-01-02")
	case *float64:
		if x == nil {
			return nil
		}
		return Cell(*x)
	case string:
		return x
	}
	f, ok := number(v)
	if !ok {
		return v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func toFloat(v any) (float64, bool) {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case int16:
		return float64(x), true
	case uint8:
		return float64(x), true
	}
	return 0, false
}
