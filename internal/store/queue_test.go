package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraken-trader/internal/config"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewSQLite(config.DatabaseConfig{
		InMemory:        true,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPlanQueue_EnqueueAndPending(t *testing.T) {
	queue, err := NewPlanQueue(newMemoryStore(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "plan-1", []byte(`{"id":"plan-1"}`)))
	require.NoError(t, queue.Enqueue(ctx, "plan-2", []byte(`{"id":"plan-2"}`)))

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "plan-1", pending[0].ID)
	assert.JSONEq(t, `{"id":"plan-1"}`, string(pending[0].Payload))
}

func TestPlanQueue_MarkFinishedRemovesFromPending(t *testing.T) {
	queue, err := NewPlanQueue(newMemoryStore(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "plan-1", []byte(`{}`)))
	require.NoError(t, queue.MarkFinished(ctx, "plan-1", PlanDone))

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlanQueue_FailedPlansStayOut(t *testing.T) {
	queue, err := NewPlanQueue(newMemoryStore(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "plan-1", []byte(`{}`)))
	require.NoError(t, queue.Enqueue(ctx, "plan-2", []byte(`{}`)))
	require.NoError(t, queue.MarkFinished(ctx, "plan-1", PlanFailed))

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "plan-2", pending[0].ID)
}
