package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/config"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/devices"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/placement"
)

const table = `devices:
  - id: A
    sensor: accelerometer
    dir: A
    suffix: .csv
    encoding: epoch_ms
    header: true
    timestamp_column: timestamp
    channels:
      - {source: x, name: x}
      - {source: y, name: y}
      - {source: z, name: z}
    scale: 8
  - id: B
    placement_column: Band B
    sensor: accelerometer
    dir: B
    suffix: .csv
    encoding: epoch_ms
    header: true
    timestamp_column: timestamp
    channels:
      - {source: x, name: x}
      - {source: y, name: y}
      - {source: z, name: z}
    scale: 8
`

var start = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeStore struct {
	runs       []models.Run
	finished   map[uuid.UUID]string
	events     []models.WearEvent
	chunks     []models.Chunk
	agreements int
	activities []models.Activity
}

func (f *fakeStore) StartRun(_ context.Context, run models.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) FinishRun(_ context.Context, id uuid.UUID, status string) error {
	if f.finished == nil {
		f.finished = map[uuid.UUID]string{}
	}
	f.finished[id] = status
	return nil
}

func (f *fakeStore) UpsertWearEvents(_ context.Context, events []models.WearEvent) error {
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeStore) UpsertChunk(_ context.Context, _ uuid.UUID, chunk models.Chunk) error {
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeStore) InsertAgreement(_ context.Context, _ uuid.UUID, _ models.Chunk, rows []models.Agreement) error {
	f.agreements += len(rows)
	return nil
}

func (f *fakeStore) UpsertActivities(_ context.Context, activities []models.Activity) error {
	f.activities = append(f.activities, activities...)
	return nil
}

type keyRecorder struct{ keys []string }

func (k *keyRecorder) Upload(_ context.Context, key, _ string) error {
	k.keys = append(k.keys, filepath.ToSlash(key))
	return nil
}

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// readRows returns the header and the records of a written CSV.
func readRows(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	return records[0], records[1:]
}

func cell(t *testing.T, v string) float64 {
	t.Helper()
	var f float64
	_, err := fmt.Sscan(v, &f)
	require.NoError(t, err, v)
	return f
}

func ms(sec int) int64 { return start.Add(time.Duration(sec) * time.Second).UnixMilli() }

// fixture lays out raw exports, a placement log and an activity log:
// A is worn by P/left for the first minute and by Q/right for the second,
// B only by P/left.
func fixture(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()

	var a strings.Builder
	a.WriteString("timestamp,x,y,z\n")
	for sec := 0; sec <= 120; sec += 10 {
		fmt.Fprintf(&a, "%d,8,8,8\n", ms(sec))
	}
	write(t, filepath.Join(root, "data", "A", "a.csv"), a.String())

	var b strings.Builder
	b.WriteString("timestamp,x,y,z\n")
	for i, sec := range []int{0, 10, 20, 30} {
		fmt.Fprintf(&b, "%d,%d,0,0\n", ms(sec), 8>>i)
	}
	write(t, filepath.Join(root, "data", "B", "b.csv"), b.String())

	epoch := func(sec int) int64 { return start.Unix() + int64(sec) }
	write(t, filepath.Join(root, "placement", "placement.csv"), fmt.Sprintf(
		"Timestamp,A,Band B\n%d,P/left,P/left\n%d,Q/right,\n%d,,\n",
		epoch(0), epoch(60), epoch(120)))

	write(t, filepath.Join(root, "activities.csv"),
		"wearer,start,stop,activity\n"+
			"P,2021-01-01 00:00:10,2021-01-01 00:00:40,charging (after)\n"+
			"Z,2021-01-01 00:00:10,2021-01-01 00:00:40,walking\n")

	cfg, err := config.FromEnv(func(k string) string {
		return map[string]string{
			"ORGANIZER_DATA_DIR":      filepath.Join(root, "data"),
			"ORGANIZER_OUTPUT_DIR":    filepath.Join(root, "out"),
			"ORGANIZER_PLACEMENT_DIR": filepath.Join(root, "placement"),
			"ORGANIZER_ACTIVITY_LOG":  filepath.Join(root, "activities.csv"),
		}[k]
	})
	require.NoError(t, err)
	return cfg
}

func registry(t *testing.T) *devices.Registry {
	t.Helper()
	reg, err := devices.Parse([]byte(table))
	require.NoError(t, err)
	return reg
}

func TestRunEndToEnd(t *testing.T) {
	cfg := fixture(t)
	store := &fakeStore{}
	uploads := &keyRecorder{}
	r := &Runner{
		Config:   cfg,
		Registry: registry(t),
		Store:    store,
		Uploader: uploads,
		Now:      func() time.Time { return start },
	}

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, res.Run.Status)
	assert.Equal(t, []string{"A", "B"}, res.Devices)
	assert.Equal(t, 2, res.Chunks)
	require.Len(t, res.Events, 3)

	require.Len(t, store.runs, 1)
	assert.Equal(t, models.RunSucceeded, store.finished[res.Run.ID])
	assert.Len(t, store.events, 3)
	require.Len(t, store.chunks, 2)
	assert.Equal(t, 1, store.agreements)
	require.Len(t, store.activities, 2)
	assert.Equal(t, "charging", store.activities[0].Activity)

	dir := cfg.SensorDir()
	header, rows := readRows(t, filepath.Join(dir, "P_left.csv"))
	assert.Equal(t, []string{"Timestamp", "A", "B"}, header)
	// A at 0..60 every 10s, B at 0..30: seven shared or A-only instants
	require.Len(t, rows, 7)
	assert.InDelta(t, 1.0, cell(t, rows[0][1]), 1e-12)
	assert.InDelta(t, 1/math.Sqrt(3), cell(t, rows[0][2]), 1e-12)
	assert.Empty(t, rows[6][2])

	q, err := os.ReadFile(filepath.Join(dir, "Q_right.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(q), "Timestamp,A\n"))

	agreement, err := os.ReadFile(filepath.Join(dir, "P_left_agreement.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(agreement), "A,B,4,")

	for _, name := range []string{"wear_events.csv", "A_normalized_unit.csv", "B_normalized_unit.csv", "P_left_activities.csv", "Q_right_agreement.csv"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "Q_right_activities.csv"))
	// four paired rows never fill the default window of twelve
	assert.NoFileExists(t, filepath.Join(dir, "P_left_rolling.csv"))

	assert.Contains(t, uploads.keys, "accelerometer/P_left.csv")
	assert.Len(t, uploads.keys, len(res.Artifacts))
}

func TestRunDryRunSkipsStoreAndUpload(t *testing.T) {
	cfg := fixture(t)
	cfg.DryRun = true
	store := &fakeStore{}
	uploads := &keyRecorder{}

	res, err := (&Runner{Config: cfg, Registry: registry(t), Store: store, Uploader: uploads}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Empty(t, store.runs)
	assert.Empty(t, store.chunks)
	assert.Empty(t, store.activities)
	assert.Empty(t, uploads.keys)
	assert.FileExists(t, filepath.Join(cfg.SensorDir(), "P_left.csv"))
}

func TestRunReusesNormalizedCache(t *testing.T) {
	cfg := fixture(t)
	first, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(cfg.SensorDir(), "P_left.csv"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(cfg.DataDir))
	cfg.UseCache = true
	second, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Devices, second.Devices)

	after, err := os.ReadFile(filepath.Join(cfg.SensorDir(), "P_left.csv"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestRunMissingPlacementColumnFails(t *testing.T) {
	cfg := fixture(t)
	reg := registry(t)
	reg.Devices[1].PlacementColumn = "Band C"
	store := &fakeStore{}

	res, err := (&Runner{Config: cfg, Registry: reg, Store: store}).Run(context.Background())
	var se *placement.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "B", se.Device)
	assert.Equal(t, models.RunFailed, res.Run.Status)
	assert.Equal(t, models.RunFailed, store.finished[res.Run.ID])
}

func TestRunWithoutSamplesIsNotAnError(t *testing.T) {
	cfg := fixture(t)
	require.NoError(t, os.RemoveAll(cfg.DataDir))

	res, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Devices)
	assert.Zero(t, res.Chunks)
	assert.Len(t, res.Events, 3)
}

func TestRunDateChunks(t *testing.T) {
	cfg := fixture(t)
	cfg.ChunkMode = config.ChunkDate

	_, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.SensorDir(), "P_left_2021-01-01.csv"))
}

func TestChunkName(t *testing.T) {
	occ := models.Occupant{Person: "Jon Doe", Wrist: models.WristLeft}
	assert.Equal(t, "Jon_Doe_left", ChunkName(occ, models.Chunk{Start: start}, 1))
	assert.Equal(t, "Jon_Doe_left_2021-01-01", ChunkName(occ, models.Chunk{Date: "2021-01-01"}, 3))
	assert.Equal(t, "Jon_Doe_left_20210101T000000Z", ChunkName(occ, models.Chunk{Start: start}, 2))
}

func TestCachePath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "E4_normalized_unit.csv"),
		CachePath("out", devices.Device{ID: "E4", Sensor: Accelerometer}))
	assert.Equal(t, filepath.Join("out", "E4.csv"),
		CachePath("out", devices.Device{ID: "E4", Sensor: "photoplethysmograph"}))
}

func TestRunReadsFetchedExports(t *testing.T) {
	cfg := fixture(t)
	local := filepath.Join(cfg.DataDir, "B")
	body, err := os.ReadFile(filepath.Join(local, "b.csv"))
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(local))

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	reg := registry(t)
	reg.Devices[1].RawURL = srv.URL + "/b.csv"
	cfg.Fetch = true

	res, err := (&Runner{Config: cfg, Registry: reg}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{"A", "B"}, res.Devices)

	header, rows := readRows(t, filepath.Join(cfg.SensorDir(), "P_left.csv"))
	assert.Equal(t, []string{"Timestamp", "A", "B"}, header)
	assert.InDelta(t, 1/math.Sqrt(3), cell(t, rows[0][2]), 1e-12)
}

func TestRunWritesRollingCorrelation(t *testing.T) {
	cfg := fixture(t)
	cfg.Rolling = 2

	res, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.NoError(t, err)

	path := filepath.Join(cfg.SensorDir(), "P_left_rolling.csv")
	assert.Contains(t, res.Artifacts, path)
	header, rows := readRows(t, path)
	assert.Equal(t, []string{"Timestamp", "device_a", "device_b", "pearson_r"}, header)
	// windows ending at 10s, 20s and 30s; A is constant so r is undefined
	require.Len(t, rows, 3)
	assert.Equal(t, []string{start.Add(10 * time.Second).Format(time.RFC3339Nano), "A", "B", ""}, rows[0])

	// Q_right has a single column
	assert.NoFileExists(t, filepath.Join(cfg.SensorDir(), "Q_right_rolling.csv"))
}

func TestRunRebasesVectorLengths(t *testing.T) {
	cfg := fixture(t)
	cfg.Rebase = true

	_, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.NoError(t, err)

	_, rows := readRows(t, filepath.Join(cfg.SensorDir(), "P_left.csv"))
	require.Len(t, rows, 7)
	want := []float64{1, 0.5, 0, 0}
	for i, w := range want {
		assert.InDelta(t, w, cell(t, rows[i][2]), 1e-12, "row %d", i)
	}
	for _, row := range rows {
		assert.Equal(t, 0.0, cell(t, row[1]))
	}

	// the normalized cache keeps the unscaled vector lengths
	header, cached := readRows(t, filepath.Join(cfg.SensorDir(), "B_normalized_unit.csv"))
	assert.Equal(t, "vector_length", header[len(header)-1])
	assert.InDelta(t, 1/math.Sqrt(3), cell(t, cached[0][len(header)-1]), 1e-12)
}

func TestRunRejectsCollidingOccupantNames(t *testing.T) {
	cfg := fixture(t)
	epoch := start.Unix()
	write(t, filepath.Join(cfg.PlacementDir, "placement.csv"), fmt.Sprintf(
		"Timestamp,A,Band B\n%d,A B/left,A_B/left\n%d,,\n", epoch, epoch+60))

	_, err := (&Runner{Config: cfg, Registry: registry(t)}).Run(context.Background())
	require.True(t, errors.Is(err, ErrNameCollision))
	assert.Contains(t, err.Error(), "A_B_left")
	assert.NoFileExists(t, filepath.Join(cfg.SensorDir(), "A_B_left.csv"))
}

func TestCheckStems(t *testing.T) {
	left := models.WristLeft
	assert.NoError(t, checkStems([]models.Occupant{{Person: "A B", Wrist: left}, {Person: "A B", Wrist: models.WristRight}}))
	assert.Error(t, checkStems([]models.Occupant{{Person: "A B", Wrist: left}, {Person: "A_B", Wrist: left}}))
}
