package storage

import (
	"context"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/schema"
)

// Provisioner creates the enriched table.
type Provisioner interface {
	// EnsureTable creates the table if absent. A compatible existing table is left untouched.
	// Returns *ProvisioningError on connectivity failure or incompatible structure.
	EnsureTable(ctx context.Context, table schema.Table) error
}

// Loader replaces table contents.
type Loader interface {
	// ReplaceAll discards all rows and writes records in order, atomically.
	// Returns the number of rows written, or *LoadError with the prior contents intact.
	ReplaceAll(ctx context.Context, table schema.Table, records []*domain.EnrichedRecord) (int64, error)
}

// Reader serves ad hoc reads to the dashboard.
type Reader interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Query returns up to limit rows of table in storage order.
	// table must already be validated with schema.ValidateIdentifier.
	Query(ctx context.Context, table string, limit int) (*ResultSet, error)
}

// Store is a backend offering all three operations.
type Store interface {
	Provisioner
	Loader
	Reader
	Close()
}

// ResultSet is a generic tabular result.
// Values are driver-native: time.Time, float64, int64, string or nil.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the index of name, or -1.
func (r *ResultSet) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Project returns a new result set restricted to the given columns, in the given order.
// Unknown columns are reported as ErrUnknownColumn.
func (r *ResultSet) Project(columns []string) (*ResultSet, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		j := r.ColumnIndex(c)
		if j < 0 {
			return nil, &UnknownColumnError{Column: c}
		}
		idx[i] = j
	}

	out := &ResultSet{Columns: append([]string(nil), columns...), Rows: make([][]any, len(r.Rows))}
	for i, row := range r.Rows {
		projected := make([]any, len(idx))
		for k, j := range idx {
			projected[k] = row[j]
		}
		out.Rows[i] = projected
	}
	return out, nil
}
