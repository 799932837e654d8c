package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"mvr-etl/internal/domain"
)

// setupTestDB creates a PostgreSQL container for testing.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// testRecords builds n consecutive daily records starting 2024-01-01.
func testRecords(n int) []*domain.EnrichedRecord {
	out := make([]*domain.EnrichedRecord, n)
	for i := range out {
		d := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		out[i] = &domain.EnrichedRecord{
			Date: d,
			M:    domain.OHLCV{Open: 400, High: 410, Low: 395, Close: 405 + float64(i), AdjClose: 405, Volume: 2_500_000},
			V:    domain.OHLCV{Open: 250, High: 255, Low: 248, Close: 252, AdjClose: 252, Volume: 6_100_000},
			DerivedM: domain.Derived{
				PriceChange: 5,
				PctChange:   ptr(1.25),
				Volatility:  15,
			},
			DerivedV: domain.Derived{
				PriceChange: 2,
				Volatility:  7,
			},
			VolumeRatioMV: ptr(2_500_000.0 / 6_100_000.0),
			DayOfWeek:     domain.DayOfWeekOrdinal(d),
			Month:         int(d.Month()),
			Year:          d.Year(),
		}
	}
	return out
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}
