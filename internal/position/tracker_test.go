package position

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(nil, nil)
	require.NoError(t, err)
	return tracker
}

func TestTracker_SetAndGetEntryPrice(t *testing.T) {
	tracker := newMemoryTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.SetEntryPrice(ctx, "XBT", 100, 2))

	price, err := tracker.EntryPrice(ctx, "XBT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

func TestTracker_RepeatedBuysWeightedAverage(t *testing.T) {
	tracker := newMemoryTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.SetEntryPrice(ctx, "XBT", 100, 1))
	require.NoError(t, tracker.SetEntryPrice(ctx, "XBT", 130, 3))

	price, err := tracker.EntryPrice(ctx, "XBT")
	require.NoError(t, err)
	// (100×1 + 130×3) / 4 = 122.5
	assert.InDelta(t, 122.5, price, 1e-9)
}

func TestTracker_ClearEntryPrice(t *testing.T) {
	tracker := newMemoryTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.SetEntryPrice(ctx, "XBT", 100, 2))
	require.NoError(t, tracker.ClearEntryPrice(ctx, "XBT"))

	price, err := tracker.EntryPrice(ctx, "XBT")
	require.NoError(t, err)
	assert.Equal(t, 0.0, price)

	// 清除后的首次买入重新开仓，不受历史均价影响。
	require.NoError(t, tracker.SetEntryPrice(ctx, "XBT", 90, 1))
	price, err = tracker.EntryPrice(ctx, "XBT")
	require.NoError(t, err)
	assert.Equal(t, 90.0, price)
}

func TestTracker_UnknownAssetIsZero(t *testing.T) {
	tracker := newMemoryTracker(t)

	price, err := tracker.EntryPrice(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Equal(t, 0.0, price)
}

func TestTracker_RejectsInvalidEntry(t *testing.T) {
	tracker := newMemoryTracker(t)
	ctx := context.Background()

	assert.Error(t, tracker.SetEntryPrice(ctx, "XBT", 0, 1))
	assert.Error(t, tracker.SetEntryPrice(ctx, "XBT", 100, 0))
}
