package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/observability"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

// RefreshChannel is the NOTIFY channel signalled after every committed replace.
const RefreshChannel = "mvr_table_refreshed"

const dbName = "postgres"

// TableStore implements storage.Store using PostgreSQL.
type TableStore struct {
	pool *Pool
}

// NewTableStore creates a new TableStore.
func NewTableStore(pool *Pool) *TableStore {
	return &TableStore{pool: pool}
}

// Compile-time interface check.
var _ storage.Store = (*TableStore)(nil)

// ddlType maps a logical column type to its Postgres DDL.
func ddlType(c schema.Column) string {
	switch c.Type {
	case schema.TypeDate:
		return "DATE"
	case schema.TypeInteger:
		if c.Name == schema.ColVolumeM || c.Name == schema.ColVolumeV {
			return "BIGINT"
		}
		return "INTEGER"
	default:
		return "DOUBLE PRECISION"
	}
}

// compatible lists the information_schema data types accepted for each logical type.
var compatible = map[schema.Type][]string{
	schema.TypeDate:    {"date"},
	schema.TypeFloat:   {"double precision", "real", "numeric"},
	schema.TypeInteger: {"bigint", "integer", "smallint"},
}

func createTableSQL(def schema.Table) string {
	cols := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		col := quote(c.Name) + " " + ddlType(c)
		if !c.Nullable {
			col += " NOT NULL"
		}
		cols[i] = col
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(def.Name), strings.Join(cols, ",\n\t"))
}

// EnsureTable creates the table if it does not exist and verifies its columns.
func (s *TableStore) EnsureTable(ctx context.Context, def schema.Table) (err error) {
	if err := def.Validate(); err != nil {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name, err)
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery(dbName, "ensure_table", time.Since(start).Seconds(), err)
	}()

	if _, err := s.pool.Exec(ctx, createTableSQL(def)); err != nil {
		return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, fmt.Errorf("create table: %w", err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, def.Name)
	if err != nil {
		return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, fmt.Errorf("inspect columns: %w", err))
	}
	defer rows.Close()

	existing := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, fmt.Errorf("scan column: %w", err))
		}
		existing[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, fmt.Errorf("iterate columns: %w", err))
	}

	if mismatches := diffColumns(def, existing); len(mismatches) > 0 {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name,
			&storage.IncompatibleSchemaError{Columns: mismatches})
	}
	return nil
}

func diffColumns(def schema.Table, existing map[string]string) []storage.IncompatibleColumn {
	var out []storage.IncompatibleColumn
	for _, c := range def.Columns {
		got, ok := existing[c.Name]
		if !ok {
			out = append(out, storage.IncompatibleColumn{Column: c.Name, Want: ddlType(c)})
			continue
		}
		if !contains(compatible[c.Type], got) {
			out = append(out, storage.IncompatibleColumn{Column: c.Name, Want: ddlType(c), Got: got})
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// ReplaceAll swaps the table contents for records in one transaction and
// notifies RefreshChannel on commit. On any failure the previous contents remain.
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM "+quote(def.Name)); err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("clear table: %w", err))
	}

	n, err = tx.CopyFrom(ctx, pgx.Identifier{def.Name}, def.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("copy rows: %w", err))
	}

	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", RefreshChannel, def.Name); err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("notify: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classifyLoadError(def.Name, fmt.Errorf("commit tx: %w", err))
	}

	observability.RecordRowsLoaded(dbName, n)
	return n, nil
}

func classifyLoadError(table string, err error) error {
	if isConnectionError(err) && !isTypeMismatchError(err) {
		return storage.NewLoadError(storage.LoadConnectionFailure, table, err)
	}
	return storage.NewLoadError(storage.LoadTypeMismatch, table, err)
}

// Ping verifies the pool can reach the server.
func (s *TableStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Query returns up to limit rows of table. The caller is responsible for
// allow-listing table; it is validated and quoted here regardless.
func (s *TableStore) Query(ctx context.Context, table string, limit int) (rs *storage.ResultSet, err error) {
	if err := schema.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery(dbName, "query", time.Since(start).Seconds(), err)
	}()

	rows, err := s.pool.Query(ctx, "SELECT * FROM "+quote(table)+" LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs = &storage.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return rs, nil
}

// Close closes the underlying pool.
func (s *TableStore) Close() {
	s.pool.Close()
}
