package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherBoundsQueuedStatements(t *testing.T) {
	var sizes []int
	b := newBatcher(func(_ context.Context, batch *pgx.Batch) error {
		sizes = append(sizes, batch.Len())
		return nil
	}, 3)

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, b.queue(ctx, "SELECT $1", i))
	}
	assert.Equal(t, []int{3, 3}, sizes)

	require.NoError(t, b.flush(ctx))
	require.NoError(t, b.flush(ctx))
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestBatcherStopsOnSendError(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0
	b := newBatcher(func(context.Context, *pgx.Batch) error {
		calls++
		return boom
	}, 2)

	ctx := context.Background()
	require.NoError(t, b.queue(ctx, "SELECT 1"))
	assert.ErrorIs(t, b.queue(ctx, "SELECT 2"), boom)
	assert.Equal(t, 1, calls)
}

func TestNewBatcherDefaultLimit(t *testing.T) {
	assert.Equal(t, MaxBatch, newBatcher(nil, 0).limit)
}
