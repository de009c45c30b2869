package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-trader/internal/config"
	"kraken-trader/internal/execution"
	"kraken-trader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:        true,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	require.NoError(t, err)
	return svc
}

func TestService_RecordAndListByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordReport(ctx, execution.ExecutionReport{PlanID: "plan-1"})
	svc.RecordStats(ctx, "market", execution.StatsSnapshot{TotalOrders: 3})
	svc.RecordError(ctx, "boom", assert.AnError, map[string]interface{}{"pair": "XBT/USD"})

	reports, err := svc.ListEvents(ctx, EventExecutionReport, 10)
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_ListLimitsResults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordStats(ctx, "limit", execution.StatsSnapshot{})
	}

	events, err := svc.ListEvents(ctx, EventExecutorStats, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
