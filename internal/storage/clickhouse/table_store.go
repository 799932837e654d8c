package clickhouse

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/observability"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

const dbName = "clickhouse"

// StagingSuffix names the twin table each replace is staged into.
const StagingSuffix = "__staging"

// TableStore implements storage.Store using ClickHouse.
// Replaces are staged into a twin table and swapped in with EXCHANGE TABLES.
type TableStore struct {
	conn *Conn
}

// NewTableStore creates a new TableStore.
func NewTableStore(conn *Conn) *TableStore {
	return &TableStore{conn: conn}
}

// Compile-time interface check.
var _ storage.Store = (*TableStore)(nil)

func stagingName(table string) string {
	return table + StagingSuffix
}

// chType maps a logical column to its ClickHouse type.
// Date32 spans 1900-2299; Date would reject anything before 1970.
func chType(c schema.Column) string {
	var t string
	switch c.Type {
	case schema.TypeDate:
		t = "Date32"
	case schema.TypeInteger:
		t = "Int64"
	default:
		t = "Float64"
	}
	if c.Nullable {
		t = "Nullable(" + t + ")"
	}
	return t
}

func createTableSQL(name string, def schema.Table) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = quote(c.Name) + " " + chType(c)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s
) ENGINE = MergeTree()
ORDER BY %s
SETTINGS index_granularity = 8192`, quote(name), strings.Join(cols, ",\n\t"), quote(schema.ColDate))
}

// EnsureTable creates the table and its staging twin, then verifies the
// columns of both, since EXCHANGE TABLES swaps the twin in.
func (s *TableStore) EnsureTable(ctx context.Context, def schema.Table) (err error) {
	if err := def.Validate(); err != nil {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name, err)
	}
	staging := stagingName(def.Name)
	if err := schema.ValidateIdentifier(staging); err != nil {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name, err)
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery(dbName, "ensure_table", time.Since(start).Seconds(), err)
	}()

	for _, name := range []string{def.Name, staging} {
		if err := s.conn.Exec(ctx, createTableSQL(name, def)); err != nil {
			return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, fmt.Errorf("create table %s: %w", name, err))
		}
	}

	var mismatches []storage.IncompatibleColumn
	for _, name := range []string{def.Name, staging} {
		existing, err := s.columns(ctx, name)
		if err != nil {
			return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, err)
		}

		prefix := ""
		if name == staging {
			prefix = staging + "."
		}
		for _, c := range def.Columns {
			got, ok := existing[c.Name]
			switch {
			case !ok:
				mismatches = append(mismatches, storage.IncompatibleColumn{Column: prefix + c.Name, Want: chType(c)})
			case got != chType(c):
				mismatches = append(mismatches, storage.IncompatibleColumn{Column: prefix + c.Name, Want: chType(c), Got: got})
			}
		}
	}
	if len(mismatches) > 0 {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name,
			&storage.IncompatibleSchemaError{Columns: mismatches})
	}
	return nil
}

func (s *TableStore) columns(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT name, type
		FROM system.columns
		WHERE database = currentDatabase() AND table = ?
	`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect columns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out[name] = typ
	}
	return out, rows.Err()
}

// ReplaceAll fills the staging twin and exchanges it with the live table.
// The previous contents remain live until the exchange succeeds.
func (s *TableStore) ReplaceAll(ctx context.Context, def schema.Table, records []*domain.EnrichedRecord) (n int64, err error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		row, err := schema.Row(r)
		if err != nil {
			return 0, storage.NewLoadError(storage.LoadTypeMismatch, def.Name, fmt.Errorf("row %d: %w", i+1, err))
		}
		rows[i] = row
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery(dbName, "replace_all", time.Since(start).Seconds(), err)
	}()

	staging := stagingName(def.Name)
	if err := s.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+quote(staging)); err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("truncate staging: %w", err))
	}

	if len(rows) > 0 {
		cols := make([]string, len(def.Columns))
		for i, c := range def.Columns {
			cols[i] = quote(c.Name)
		}
		batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", quote(staging), strings.Join(cols, ", ")))
		if err != nil {
			return 0, classifyLoadError(def.Name, fmt.Errorf("prepare batch: %w", err))
		}
		defer batch.Abort()

		for i, row := range rows {
			if err := batch.Append(row...); err != nil {
				return 0, storage.NewLoadError(storage.LoadTypeMismatch, def.Name, fmt.Errorf("append row %d: %w", i+1, err))
			}
		}
		if err := batch.Send(); err != nil {
			return 0, classifyLoadError(def.Name, fmt.Errorf("send batch: %w", err))
		}
	}

	if err := s.conn.Exec(ctx, fmt.Sprintf("EXCHANGE TABLES %s AND %s", quote(staging), quote(def.Name))); err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("exchange tables: %w", err))
	}

	// Staging now holds the previous contents.
	if err := s.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+quote(staging)); err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("truncate staging: %w", err))
	}

	n = int64(len(rows))
	observability.RecordRowsLoaded(dbName, n)
	return n, nil
}

func classifyLoadError(table string, err error) error {
	if isTypeMismatchError(err) {
		return storage.NewLoadError(storage.LoadTypeMismatch, table, err)
	}
	return storage.NewLoadError(storage.LoadConnectionFailure, table, err)
}

// Ping verifies the connection.
func (s *TableStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Query returns up to limit rows of table, scanning each column into its
// driver type. Nullable columns yield untyped nil.
func (s *TableStore) Query(ctx context.Context, table string, limit int) (rs *storage.ResultSet, err error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery(dbName, "query", time.Since(start).Seconds(), err)
	}()

	rows, err := s.conn.Query(ctx, "SELECT * FROM "+quote(table)+" LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	rs = &storage.ResultSet{Columns: make([]string, len(types))}
	for i, ct := range types {
		rs.Columns[i] = ct.Name()
	}

	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		values := make([]any, len(dest))
		for i, d := range dest {
			values[i] = deref(reflect.ValueOf(d).Elem())
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return rs, nil
}

// deref unwraps pointer scan targets, mapping nil pointers to nil.
func deref(v reflect.Value) any {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// Close closes the connection.
func (s *TableStore) Close() {
	s.conn.Close()
}
