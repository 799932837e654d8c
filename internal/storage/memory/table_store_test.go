package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvr-etl/internal/domain"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
)

func records(n int, base float64) []*domain.EnrichedRecord {
	out := make([]*domain.EnrichedRecord, n)
	for i := range out {
		out[i] = &domain.EnrichedRecord{
			Date: time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC),
			M:    domain.OHLCV{Close: base + float64(i), Volume: 100},
			V:    domain.OHLCV{Close: base * 2, Volume: 50},
			Year: 2024,
		}
	}
	return out
}

func TestTableStore_EnsureTableIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	tbl := schema.MVR("")

	require.NoError(t, store.EnsureTable(ctx, tbl))
	require.NoError(t, store.EnsureTable(ctx, tbl))
	assert.Equal(t, 1, store.TableCount())
}

func TestTableStore_EnsureTableIncompatible(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()

	legacy := schema.Table{Name: schema.DefaultTableName, Columns: []schema.Column{
		{Name: schema.ColDate, Type: schema.TypeDate},
		{Name: schema.ColVolumeM, Type: schema.TypeFloat},
	}}
	require.NoError(t, store.EnsureTable(ctx, legacy))

	err := store.EnsureTable(ctx, schema.MVR(""))
	assert.True(t, storage.IsProvisioningKind(err, storage.ProvisioningIncompatible))

	var inc *storage.IncompatibleSchemaError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, schema.ColVolumeM, inc.Columns[0].Column)
}

func TestTableStore_Unreachable(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	store.SetUnreachable(true)

	err := store.EnsureTable(ctx, schema.MVR(""))
	assert.True(t, storage.IsProvisioningKind(err, storage.ProvisioningUnreachable))

	_, err = store.ReplaceAll(ctx, schema.MVR(""), records(1, 1))
	assert.True(t, storage.IsLoadKind(err, storage.LoadConnectionFailure))

	assert.Error(t, store.Ping(ctx))
}

func TestTableStore_ReplaceAllReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	tbl := schema.MVR("")
	require.NoError(t, store.EnsureTable(ctx, tbl))

	n, err := store.ReplaceAll(ctx, tbl, records(5, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = store.ReplaceAll(ctx, tbl, records(3, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rs, err := store.Query(ctx, tbl.Name, 100)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 3)
	assert.Equal(t, 20.0, rs.Rows[0][rs.ColumnIndex(schema.ColCloseM)])
}

func TestTableStore_ReplaceAllAtomicOnFailure(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	tbl := schema.MVR("")
	require.NoError(t, store.EnsureTable(ctx, tbl))

	_, err := store.ReplaceAll(ctx, tbl, records(4, 10))
	require.NoError(t, err)

	store.FailDuringWrite(func(i int) error {
		if i == 2 {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err = store.ReplaceAll(ctx, tbl, records(6, 99))
	assert.True(t, storage.IsLoadKind(err, storage.LoadConnectionFailure))

	rs, err := store.Query(ctx, tbl.Name, 100)
	require.NoError(t, err)
	require.Len(t, rs.Rows, 4, "previous contents must survive")
	assert.Equal(t, 10.0, rs.Rows[0][rs.ColumnIndex(schema.ColCloseM)])
}

func TestTableStore_ReplaceAllTypeMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	tbl := schema.MVR("")
	require.NoError(t, store.EnsureTable(ctx, tbl))

	bad := records(2, 1)
	bad[1].V.Volume = 12.75

	_, err := store.ReplaceAll(ctx, tbl, bad)
	assert.True(t, storage.IsLoadKind(err, storage.LoadTypeMismatch))
	assert.ErrorIs(t, err, schema.ErrTypeMismatch)
}

func TestTableStore_QueryLimit(t *testing.T) {
	ctx := context.Background()
	store := NewTableStore()
	tbl := schema.MVR("")
	require.NoError(t, store.EnsureTable(ctx, tbl))
	_, err := store.ReplaceAll(ctx, tbl, records(10, 1))
	require.NoError(t, err)

	rs, err := store.Query(ctx, tbl.Name, 3)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 3)
	assert.Equal(t, tbl.ColumnNames(), rs.Columns)

	_, err = store.Query(ctx, "missing", 3)
	assert.Error(t, err)

	_, err = store.Query(ctx, "x; drop", 3)
	assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)
}
