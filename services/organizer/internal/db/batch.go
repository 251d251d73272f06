package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// MaxBatch bounds the statements queued in one pgx.Batch.
const MaxBatch = 5000

// batcher queues statements and sends them whenever limit is reached.
type batcher struct {
	send  func(ctx context.Context, b *pgx.Batch) error
	limit int
	batch *pgx.Batch
}

func newBatcher(send func(ctx context.Context, b *pgx.Batch) error, limit int) *batcher {
	if limit <= 0 {
		limit = MaxBatch
	}
	return &batcher{send: send, limit: limit, batch: &pgx.Batch{}}
}

func (b *batcher) queue(ctx context.Context, sql string, args ...any) error {
	b.batch.Queue(sql, args...)
	if b.batch.Len() >= b.limit {
		return b.flush(ctx)
	}
	return nil
}

// flush sends whatever is queued.
func (b *batcher) flush(ctx context.Context) error {
	if b.batch.Len() == 0 {
		return nil
	}
	batch := b.batch
	b.batch = &pgx.Batch{}
	return b.send(ctx, batch)
}
