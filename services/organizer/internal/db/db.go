package db

import (
	"context"
	_ "embed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Store persists organizer results into the wearables schema.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the wearables tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// StartRun records a new run.
func (s *Store) StartRun(ctx context.Context, run models.Run) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO wearables.runs (id, started_at, sensor, status)
VALUES ($1,$2,$3,$4)`, run.ID, run.StartedAt, run.Sensor, run.Status)
	return err
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.pool.Exec(ctx, `UPDATE wearables.runs SET status = $2, finished_at = NOW() WHERE id = $1`, id, status)
	return err
}

// UpsertWearEvents inserts/updates resolved wear intervals.
func (s *Store) UpsertWearEvents(ctx context.Context, events []models.WearEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO wearables.wear_events (person, wrist, device, start_ts, stop_ts, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (person, wrist, device, start_ts) DO UPDATE
SET stop_ts = EXCLUDED.stop_ts,
    updated_at = NOW()`

	for _, ev := range events {
		batch.Queue(query, ev.Person, string(ev.Wrist), ev.Device, ev.Start, ev.Stop)
	}
	return s.send(ctx, batch)
}

// UpsertChunk writes a merged chunk in long form, one row per non-missing
// cell, sent in batches of at most MaxBatch statements. A failed batch
// leaves the earlier ones applied; rerunning the chunk overwrites them.
func (s *Store) UpsertChunk(ctx context.Context, runID uuid.UUID, chunk models.Chunk) error {
	b := newBatcher(s.send, MaxBatch)
	query := `INSERT INTO wearables.merged_samples (run_id, person, wrist, chunk_start, ts, column_name, value)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (person, wrist, ts, column_name) DO UPDATE
SET run_id = EXCLUDED.run_id,
    chunk_start = EXCLUDED.chunk_start,
    value = EXCLUDED.value`

	t := chunk.Table
	for _, row := range t.Rows {
		for c, v := range row.Values {
			if v == nil {
				continue
			}
			if err := b.queue(ctx, query, runID, t.Person, string(t.Wrist), chunk.Start, row.Timestamp, t.Columns[c], *v); err != nil {
				return err
			}
		}
	}
	return b.flush(ctx)
}

// InsertAgreement stores the pairwise statistics of a chunk.
func (s *Store) InsertAgreement(ctx context.Context, runID uuid.UUID, chunk models.Chunk, rows []models.Agreement) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO wearables.agreement (run_id, person, wrist, chunk_start, device_a, device_b, n, pearson_r, mean_diff, sd_diff, loa_low, loa_high)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (run_id, person, wrist, chunk_start, device_a, device_b) DO UPDATE
SET n = EXCLUDED.n,
    pearson_r = EXCLUDED.pearson_r,
    mean_diff = EXCLUDED.mean_diff,
    sd_diff = EXCLUDED.sd_diff,
    loa_low = EXCLUDED.loa_low,
    loa_high = EXCLUDED.loa_high`

	t := chunk.Table
	for _, a := range rows {
		batch.Queue(query, runID, t.Person, string(t.Wrist), chunk.Start, a.DeviceA, a.DeviceB, a.N,
			a.PearsonR, a.MeanDiff, a.SDDiff, a.LoALow, a.LoAHigh)
	}
	return s.send(ctx, batch)
}

// UpsertActivities stores activity annotations.
func (s *Store) UpsertActivities(ctx context.Context, activities []models.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO wearables.activities (person, start_ts, stop_ts, activity)
VALUES ($1,$2,$3,$4)
ON CONFLICT (person, start_ts, activity) DO UPDATE
SET stop_ts = EXCLUDED.stop_ts`

	for _, a := range activities {
		batch.Queue(query, a.Wearer, a.Start, a.Stop, a.Activity)
	}
	return s.send(ctx, batch)
}

func (s *Store) send(ctx context.Context, batch *pgx.Batch) error {
	n := batch.Len()
	if n == 0 {
		return nil
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()

	for i := 0; i < n; i++ {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
