package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"mvr-etl/internal/domain"
)

// setupTestDB creates a ClickHouse container and returns a connection.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60 * time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/mvr_test", host, port.Port())

	// Creates mvr_test on first use.
	conn, err := EnsureDatabase(ctx, dsn)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

func testRecords(n int, closeM float64) []*domain.EnrichedRecord {
	out := make([]*domain.EnrichedRecord, n)
	for i := range out {
		d := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		out[i] = &domain.EnrichedRecord{
			Date:          d,
			M:             domain.OHLCV{Open: 380, High: 390, Low: 375, Close: closeM, AdjClose: closeM, Volume: 3_000_000},
			V:             domain.OHLCV{Open: 230, High: 235, Low: 228, Close: 233, AdjClose: 233, Volume: 7_000_000},
			DerivedM:      domain.Derived{PriceChange: closeM - 380, Volatility: 15, MA7Close: ptr(381.5)},
			DerivedV:      domain.Derived{PriceChange: 3, Volatility: 7},
			VolumeRatioMV: ptr(3.0 / 7.0),
			DayOfWeek:     domain.DayOfWeekOrdinal(d),
			Month:         int(d.Month()),
			Year:          d.Year(),
		}
	}
	return out
}

// ptr is a helper to create pointers for test values
func ptr[T any](v T) *T {
	return &v
}
