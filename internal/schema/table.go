// Package schema publishes the enriched table contract shared by the
// provisioner, loader, intermediate dataset and dashboard.
package schema

// Type is a logical column type. Backends map it to their own DDL.
type Type string

const (
	TypeDate    Type = "DATE"
	TypeFloat   Type = "FLOAT"
	TypeInteger Type = "INTEGER"
)

// DefaultTableName is the table written by the pipeline and read by the dashboard.
const DefaultTableName = "MVR"

// Column is one published column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
}

// Table is a named, ordered column set.
type Table struct {
	Name    string
	Columns []Column
}

// Column names, in published order.
const (
	ColDate          = "Date"
	ColOpenM         = "Open_M"
	ColHighM         = "High_M"
	ColLowM          = "Low_M"
	ColCloseM        = "Close_M"
	ColAdjCloseM     = "Adj_Close_M"
	ColVolumeM       = "Volume_M"
	ColOpenV         = "Open_V"
	ColHighV         = "High_V"
	ColLowV          = "Low_V"
	ColCloseV        = "Close_V"
	ColAdjCloseV     = "Adj_Close_V"
	ColVolumeV       = "Volume_V"
	ColPriceChangeM  = "Price_Change_M"
	ColPriceChangeV  = "Price_Change_V"
	ColPctChangeM    = "Pct_Change_M"
	ColPctChangeV    = "Pct_Change_V"
	ColVolatilityM   = "Volatility_M"
	ColVolatilityV   = "Volatility_V"
	ColMA7CloseM     = "MA7_Close_M"
	ColMA7CloseV     = "MA7_Close_V"
	ColMA30CloseM    = "MA30_Close_M"
	ColMA30CloseV    = "MA30_Close_V"
	ColVolumeMA7M    = "Volume_MA7_M"
	ColVolumeMA7V    = "Volume_MA7_V"
	ColVolumeRatioMV = "Volume_Ratio_MV"
	ColDayOfWeek     = "Day_of_Week"
	ColMonth         = "Month"
	ColYear          = "Year"
)

// RawColumns is the fixed positional mapping of the 13 input fields.
// Input headers are never trusted; every row is rebound to these names.
var RawColumns = []string{
	ColDate,
	ColOpenM, ColHighM, ColLowM, ColCloseM, ColAdjCloseM, ColVolumeM,
	ColOpenV, ColHighV, ColLowV, ColCloseV, ColAdjCloseV, ColVolumeV,
}

// MVR returns the published enriched table contract under the given name.
// An empty name selects DefaultTableName.
func MVR(name string) Table {
	if name == "" {
		name = DefaultTableName
	}
	return Table{
		Name: name,
		Columns: []Column{
			{Name: ColDate, Type: TypeDate},
			{Name: ColOpenM, Type: TypeFloat},
			{Name: ColHighM, Type: TypeFloat},
			{Name: ColLowM, Type: TypeFloat},
			{Name: ColCloseM, Type: TypeFloat},
			{Name: ColAdjCloseM, Type: TypeFloat},
			{Name: ColVolumeM, Type: TypeInteger},
			{Name: ColOpenV, Type: TypeFloat},
			{Name: ColHighV, Type: TypeFloat},
			{Name: ColLowV, Type: TypeFloat},
			{Name: ColCloseV, Type: TypeFloat},
			{Name: ColAdjCloseV, Type: TypeFloat},
			{Name: ColVolumeV, Type: TypeInteger},
			{Name: ColPriceChangeM, Type: TypeFloat},
			{Name: ColPriceChangeV, Type: TypeFloat},
			{Name: ColPctChangeM, Type: TypeFloat, Nullable: true},
			{Name: ColPctChangeV, Type: TypeFloat, Nullable: true},
			{Name: ColVolatilityM, Type: TypeFloat},
			{Name: ColVolatilityV, Type: TypeFloat},
			{Name: ColMA7CloseM, Type: TypeFloat, Nullable: true},
			{Name: ColMA7CloseV, Type: TypeFloat, Nullable: true},
			{Name: ColMA30CloseM, Type: TypeFloat, Nullable: true},
			{Name: ColMA30CloseV, Type: TypeFloat, Nullable: true},
			{Name: ColVolumeMA7M, Type: TypeFloat, Nullable: true},
			{Name: ColVolumeMA7V, Type: TypeFloat, Nullable: true},
			{Name: ColVolumeRatioMV, Type: TypeFloat, Nullable: true},
			{Name: ColDayOfWeek, Type: TypeInteger},
			{Name: ColMonth, Type: TypeInteger},
			{Name: ColYear, Type: TypeInteger},
		},
	}
}

// ColumnNames returns column names in published order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by exact name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
