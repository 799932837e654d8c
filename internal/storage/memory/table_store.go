package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

// ErrUnreachable simulates a store that cannot be contacted.
var ErrUnreachable = errors.New("memory store unreachable")

// TableStore is an in-memory implementation of storage.Store.
type TableStore struct {
	mu          sync.RWMutex
	tables      map[string]*table
	unreachable bool

	// failRow, if set, is called before each staged row; an error aborts the replace.
	failRow func(i int) error
}

type table struct {
	def  schema.Table
	rows [][]any
}

// NewTableStore creates an empty store.
func NewTableStore() *TableStore {
	return &TableStore{tables: make(map[string]*table)}
}

// Compile-time interface check.
var _ storage.Store = (*TableStore)(nil)

// SetUnreachable makes every operation fail as if the store were down.
func (s *TableStore) SetUnreachable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable = down
}

// FailDuringWrite installs a hook that can abort ReplaceAll mid-write.
func (s *TableStore) FailDuringWrite(hook func(i int) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRow = hook
}

// TableCount returns the number of tables created.
func (s *TableStore) TableCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}

// EnsureTable creates the table if absent and checks compatibility otherwise.
func (s *TableStore) EnsureTable(_ context.Context, def schema.Table) error {
	if err := def.Validate(); err != nil {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unreachable {
		return storage.NewProvisioningError(storage.ProvisioningUnreachable, def.Name, ErrUnreachable)
	}

	existing, ok := s.tables[def.Name]
	if !ok {
		s.tables[def.Name] = &table{def: def}
		return nil
	}

	var mismatches []storage.IncompatibleColumn
	for _, want := range def.Columns {
		got, ok := existing.def.Column(want.Name)
		switch {
		case !ok:
			mismatches = append(mismatches, storage.IncompatibleColumn{Column: want.Name, Want: string(want.Type)})
		case got.Type != want.Type:
			mismatches = append(mismatches, storage.IncompatibleColumn{Column: want.Name, Want: string(want.Type), Got: string(got.Type)})
		}
	}
	if len(mismatches) > 0 {
		return storage.NewProvisioningError(storage.ProvisioningIncompatible, def.Name,
			&storage.IncompatibleSchemaError{Columns: mismatches})
	}
	return nil
}

// ReplaceAll stages every row, then swaps it in. Any failure leaves prior rows intact.
func (s *TableStore) ReplaceAll(_ context.Context, def schema.Table, records []*domain.EnrichedRecord) (int64, error) {
	staged := make([][]any, 0, len(records))
	for _, r := range records {
		row, err := schema.Row(r)
		if err != nil {
			return 0, storage.NewLoadError(storage.LoadTypeMismatch, def.Name, err)
		}
		staged = append(staged, row)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unreachable {
		return 0, storage.NewLoadError(storage.LoadConnectionFailure, def.Name, ErrUnreachable)
	}
	t, ok := s.tables[def.Name]
	if !ok {
		return 0, storage.NewLoadError(storage.LoadTypeMismatch, def.Name,
			fmt.Errorf("table %s does not exist", def.Name))
	}
	if s.failRow != nil {
		for i := range staged {
			if err := s.failRow(i); err != nil {
				return 0, storage.NewLoadError(storage.LoadConnectionFailure, def.Name, err)
			}
		}
	}

	t.rows = staged
	return int64(len(staged)), nil
}

// Ping reports whether the store is reachable.
func (s *TableStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unreachable {
		return ErrUnreachable
	}
	return nil
}

// Query returns up to limit rows.
func (s *TableStore) Query(_ context.Context, name string, limit int) (*storage.ResultSet, error) {
	if err := schema.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.unreachable {
		return nil, ErrUnreachable
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}

	n := len(t.rows)
	if limit >= 0 && limit < n {
		n = limit
	}
	rs := &storage.ResultSet{Columns: t.def.ColumnNames(), Rows: make([][]any, n)}
	for i := 0; i < n; i++ {
		rs.Rows[i] = append([]any(nil), t.rows[i]...)
	}
	return rs, nil
}

// Close is a no-op.
func (s *TableStore) Close() {}
