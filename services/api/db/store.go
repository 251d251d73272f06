package db

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps database access helpers.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by a pgx pool.
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

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WearEvent is one resolved wear interval.
type WearEvent struct {
	Person string    `json:"person"`
	Wrist  string    `json:"wrist"`
	Device string    `json:"device"`
	Start  time.Time `json:"start"`
	Stop   time.Time `json:"stop"`
}

// WearEventQuery filters wear events; empty fields match everything.
type WearEventQuery struct {
	Person string
	Wrist  string
}

// ListWearEvents returns wear events ordered by occupant, device and start.
func (s *Store) ListWearEvents(ctx context.Context, q WearEventQuery) ([]WearEvent, error) {
	sql := `
    SELECT person, wrist, device, start_ts, stop_ts
    FROM wearables.wear_events
    WHERE TRUE`
	args := []any{}
	if q.Person != "" {
		args = append(args, q.Person)
		sql += " AND person = $" + strconv.Itoa(len(args))
	}
	if q.Wrist != "" {
		args = append(args, q.Wrist)
		sql += " AND wrist = $" + strconv.Itoa(len(args))
	}
	sql += " ORDER BY person, wrist, device, start_ts"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]WearEvent, 0)
	for rows.Next() {
		var ev WearEvent
		if err := rows.Scan(&ev.Person, &ev.Wrist, &ev.Device, &ev.Start, &ev.Stop); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Occupant summarizes one person/wrist pair.
type Occupant struct {
	Person  string    `json:"person"`
	Wrist   string    `json:"wrist"`
	Devices []string  `json:"devices"`
	Start   time.Time `json:"start"`
	Stop    time.Time `json:"stop"`
}

const listPeopleSQL = `
    SELECT person, wrist, ARRAY_AGG(DISTINCT device ORDER BY device), MIN(start_ts), MAX(stop_ts)
    FROM wearables.wear_events
    GROUP BY person, wrist
    ORDER BY person, wrist
`

// ListPeople returns every occupant with the devices it wore and its
// overall wear range.
func (s *Store) ListPeople(ctx context.Context) ([]Occupant, error) {
	rows, err := s.pool.Query(ctx, listPeopleSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	people := make([]Occupant, 0)
	for rows.Next() {
		var o Occupant
		if err := rows.Scan(&o.Person, &o.Wrist, &o.Devices, &o.Start, &o.Stop); err != nil {
			return nil, err
		}
		people = append(people, o)
	}
	return people, rows.Err()
}

// MergedSample is one cell of a merged table in long form.
type MergedSample struct {
	Timestamp  time.Time `json:"ts"`
	Column     string    `json:"column"`
	Value      *float64  `json:"value"`
	ChunkStart time.Time `json:"chunk_start"`
}

// MergedQuery holds filters for retrieving merged samples.
type MergedQuery struct {
	Person string
	Wrist  string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

// FetchMerged returns merged samples for an occupant in time order.
func (s *Store) FetchMerged(ctx context.Context, q MergedQuery) ([]MergedSample, error) {
	sql := `
    SELECT ts, column_name, value, chunk_start
    FROM wearables.merged_samples
    WHERE person = $1 AND wrist = $2`
	args := []any{q.Person, q.Wrist}
	argPos := 3
	if q.Since != nil {
		sql += " AND ts >= $" + strconv.Itoa(argPos)
		args = append(args, *q.Since)
		argPos++
	}
	if q.Until != nil {
		sql += " AND ts <= $" + strconv.Itoa(argPos)
		args = append(args, *q.Until)
		argPos++
	}
	sql += " ORDER BY ts, column_name"
	if q.Limit > 0 {
		sql += " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]MergedSample, 0)
	for rows.Next() {
		var m MergedSample
		if err := rows.Scan(&m.Timestamp, &m.Column, &m.Value, &m.ChunkStart); err != nil {
			return nil, err
		}
		samples = append(samples, m)
	}
	return samples, rows.Err()
}

// Run describes one organizer invocation.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Sensor     string     `json:"sensor"`
	Status     string     `json:"status"`
}

const latestRunSQL = `
    SELECT id, started_at, finished_at, sensor, status
    FROM wearables.runs
    ORDER BY started_at DESC
    LIMIT 1
`

// LatestRun returns the most recent run, or nil when there is none.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var r Run
	err := s.pool.QueryRow(ctx, latestRunSQL).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Sensor, &r.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Agreement is a stored pairwise comparison for one chunk.
type Agreement struct {
	ChunkStart time.Time `json:"chunk_start"`
	DeviceA    string    `json:"device_a"`
	DeviceB    string    `json:"device_b"`
	N          int       `json:"n"`
	PearsonR   *float64  `json:"pearson_r,omitempty"`
	MeanDiff   *float64  `json:"mean_diff,omitempty"`
	SDDiff     *float64  `json:"sd_diff,omitempty"`
	LoALow     *float64  `json:"loa_low,omitempty"`
	LoAHigh    *float64  `json:"loa_high,omitempty"`
}

const latestAgreementSQL = `
    WITH latest AS (
        SELECT a.run_id
        FROM wearables.agreement a
        JOIN wearables.runs r ON r.id = a.run_id
        WHERE a.person = $1 AND a.wrist = $2
        ORDER BY r.started_at DESC
        LIMIT 1
    )
    SELECT a.run_id, a.chunk_start, a.device_a, a.device_b, a.n, a.pearson_r, a.mean_diff, a.sd_diff, a.loa_low, a.loa_high
    FROM wearables.agreement a
    JOIN latest ON latest.run_id = a.run_id
    WHERE a.person = $1 AND a.wrist = $2
    ORDER BY a.chunk_start, a.device_a, a.device_b
`

// LatestAgreement returns the agreement rows of the most recent run that
// covered the occupant, along with that run's id. The id is uuid.Nil when
// no run has.
func (s *Store) LatestAgreement(ctx context.Context, person, wrist string) (uuid.UUID, []Agreement, error) {
	rows, err := s.pool.Query(ctx, latestAgreementSQL, person, wrist)
	if err != nil {
		return uuid.Nil, nil, err
	}
	defer rows.Close()

	runID := uuid.Nil
	out := make([]Agreement, 0)
	for rows.Next() {
		var a Agreement
		if err := rows.Scan(&runID, &a.ChunkStart, &a.DeviceA, &a.DeviceB, &a.N,
			&a.PearsonR, &a.MeanDiff, &a.SDDiff, &a.LoALow, &a.LoAHigh); err != nil {
			return uuid.Nil, nil, err
		}
		out = append(out, a)
	}
	return runID, out, rows.Err()
}

// Activity is one annotated activity window.
type Activity struct {
	Person   string    `json:"person"`
	Start    time.Time `json:"start"`
	Stop     time.Time `json:"stop"`
	Activity string    `json:"activity"`
}

// ListActivities returns the activities of person, or of everyone when
// person is empty.
func (s *Store) ListActivities(ctx context.Context, person string) ([]Activity, error) {
	sql := `
    SELECT person, start_ts, stop_ts, activity
    FROM wearables.activities`
	args := []any{}
	if person != "" {
		sql += " WHERE LOWER(person) = LOWER($1)"
		args = append(args, person)
	}
	sql += " ORDER BY person, start_ts"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.Person, &a.Start, &a.Stop, &a.Activity); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
