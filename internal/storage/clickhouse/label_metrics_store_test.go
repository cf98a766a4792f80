package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

func TestLabelMetricsStore_UpsertAndGetLatest(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLabelMetricsStore(conn)

	require.NoError(t, store.Upsert(ctx, &domain.DailyLabelMetrics{
		Date: "2025-01-01",
		Labels: []domain.LabelCount{
			{Label: "dex", Count: 2},
			{Label: "sigusd", Count: 1},
		},
		TotalTransactions: 3,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.DailyLabelMetrics{
		Date:   "2025-01-02",
		Labels: []domain.LabelCount{{Label: "dex", Count: 5}},
	}))

	days, err := store.GetLatest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "2025-01-02", days[0].Date)
	assert.Equal(t, int64(5), days[0].TotalTransactions)
	assert.Equal(t, "2025-01-01", days[1].Date)
	assert.Equal(t, int64(3), days[1].TotalTransactions)
	assert.Len(t, days[1].Labels, 2)

	limited, err := store.GetLatest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "2025-01-02", limited[0].Date)
}

func TestLabelMetricsStore_UpsertNewerRowWins(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLabelMetricsStore(conn)

	clock := time.UnixMilli(1700000000000)
	store.now = func() time.Time { return clock }
	require.NoError(t, store.Upsert(ctx, &domain.DailyLabelMetrics{
		Date: "2025-01-01", Labels: []domain.LabelCount{{Label: "dex", Count: 1}},
	}))

	clock = clock.Add(time.Second)
	require.NoError(t, store.Upsert(ctx, &domain.DailyLabelMetrics{
		Date: "2025-01-01", Labels: []domain.LabelCount{{Label: "dex", Count: 4}},
	}))

	days, err := store.GetByDateRange(ctx, "2025-01-01", "2025-01-01")
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Len(t, days[0].Labels, 1)
	assert.Equal(t, int64(4), days[0].Labels[0].Count)
}

func TestLabelMetricsStore_InvalidDate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLabelMetricsStore(conn)
	err := store.Upsert(context.Background(), &domain.DailyLabelMetrics{Date: "01/02/2025"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestLabelMetricsStore_DeleteAll(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewLabelMetricsStore(conn)

	require.NoError(t, store.Upsert(ctx, &domain.DailyLabelMetrics{
		Date: "2025-01-01", Labels: []domain.LabelCount{{Label: "p2p", Count: 1}},
	}))
	require.NoError(t, store.DeleteAll(ctx))

	days, err := store.GetLatest(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, days)
}
