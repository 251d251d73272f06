package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/activity"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/align"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/config"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/devices"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/export"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/merge"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/normalize"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/osf"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/placement"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/stats"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/utils"
)

// Accelerometer is the sensor whose devices are reduced to vector_length.
const Accelerometer = "accelerometer"

// ErrNameCollision is returned when two occupants map to the same output
// file stem.
var ErrNameCollision = errors.New("occupant names collide")

// Store persists run results. *db.Store satisfies it.
type Store interface {
	StartRun(ctx context.Context, run models.Run) error
	FinishRun(ctx context.Context, id uuid.UUID, status string) error
	UpsertWearEvents(ctx context.Context, events []models.WearEvent) error
	UpsertChunk(ctx context.Context, runID uuid.UUID, chunk models.Chunk) error
	InsertAgreement(ctx context.Context, runID uuid.UUID, chunk models.Chunk, rows []models.Agreement) error
	UpsertActivities(ctx context.Context, activities []models.Activity) error
}

// Result summarizes one run.
type Result struct {
	Run       models.Run
	Events    []models.WearEvent
	Devices   []string
	Chunks    int
	Artifacts []string
}

// Runner executes one organizer pass. Store and Uploader are optional.
type Runner struct {
	Config   config.Config
	Registry *devices.Registry
	Logger   *zap.Logger
	Store    Store
	Uploader export.Uploader
	Client   *http.Client
	Now      func() time.Time
}

// Run loads, aligns, merges and exports every occupant of the placement log.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	r.defaults()
	cfg := r.Config

	res := Result{Run: models.Run{
		ID:        uuid.New(),
		StartedAt: r.Now().UTC().Truncate(time.Second),
		Sensor:    cfg.Sensor,
		Status:    models.RunRunning,
	}}
	log := r.Logger.With(zap.String("run", res.Run.ID.String()), zap.String("sensor", cfg.Sensor))

	if r.persisting() {
		if err := r.Store.StartRun(ctx, res.Run); err != nil {
			return res, fmt.Errorf("start run: %w", err)
		}
	}

	err := r.run(ctx, log, &res)
	res.Run.Status = models.RunSucceeded
	if err != nil {
		res.Run.Status = models.RunFailed
	}
	if r.persisting() {
		// The run context may be the one that failed.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if ferr := r.Store.FinishRun(finishCtx, res.Run.ID, res.Run.Status); ferr != nil {
			log.Warn("failed to record run status", zap.Error(ferr))
		}
	}
	return res, err
}

func (r *Runner) defaults() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Client == nil {
		r.Client = &http.Client{Timeout: r.Config.FetchTimeout}
	}
}

func (r *Runner) persisting() bool {
	return r.Store != nil && !r.Config.DryRun
}

func (r *Runner) run(ctx context.Context, log *zap.Logger, res *Result) error {
	cfg := r.Config

	devs := r.Registry.ForSensor(cfg.Sensor)
	if len(devs) == 0 {
		log.Warn("no devices configured for sensor", zap.Strings("known", r.Registry.Sensors()))
		return nil
	}

	loader := devices.NewLoader(cfg.DataDir, r.Logger)
	if cfg.Fetch {
		if err := r.fetch(ctx, log, devs, loader); err != nil {
			return err
		}
	}

	events, err := r.resolve(log, devs)
	if err != nil {
		return err
	}
	res.Events = events
	if len(events) == 0 {
		log.Warn("placement log produced no wear events")
		return nil
	}
	if err := checkStems(placement.Occupants(events)); err != nil {
		return err
	}

	eventsPath := filepath.Join(cfg.SensorDir(), "wear_events.csv")
	if err := export.WriteEvents(eventsPath, events); err != nil {
		return fmt.Errorf("write wear events: %w", err)
	}
	res.Artifacts = append(res.Artifacts, eventsPath)

	if r.persisting() {
		if err := r.Store.UpsertWearEvents(ctx, events); err != nil {
			return fmt.Errorf("upsert wear events: %w", err)
		}
	} else if cfg.DryRun {
		log.Info("dry-run: skipping wear event upsert", zap.Int("events", len(events)))
	}

	activities, err := r.activities(ctx, log)
	if err != nil {
		return err
	}

	series, written := r.loadSeries(log, loader, devs)
	res.Artifacts = append(res.Artifacts, written...)
	for id := range series {
		res.Devices = append(res.Devices, id)
	}
	sort.Strings(res.Devices)
	if len(series) == 0 {
		log.Warn("no device produced samples")
		return nil
	}

	for _, occ := range placement.Occupants(events) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, paths, err := r.occupant(ctx, log, res.Run.ID, series, events, activities, occ)
		if err != nil {
			return fmt.Errorf("%s: %w", occ, err)
		}
		res.Chunks += n
		res.Artifacts = append(res.Artifacts, paths...)
	}

	return r.upload(ctx, log, res.Artifacts)
}

// fetch downloads the raw export of every device with a raw_url and adds the
// local copy to the loader's inputs for that device.
func (r *Runner) fetch(ctx context.Context, log *zap.Logger, devs []devices.Device, loader *devices.Loader) error {
	urls := make([]string, 0, len(devs))
	for _, d := range devs {
		urls = append(urls, d.RawURL)
	}
	downloads, err := osf.FetchAll(ctx, r.Client, urls, r.Config.CacheDir())
	if err != nil {
		return fmt.Errorf("fetch raw samples: %w", err)
	}
	byURL := make(map[string]osf.Download, len(downloads))
	for _, d := range downloads {
		byURL[d.URL] = d
		log.Info("raw sample archive ready",
			zap.String("url", d.URL),
			zap.String("path", d.Path),
			zap.String("sha256", d.SHA256),
			zap.Bool("cached", d.Cached),
		)
	}
	for _, d := range devs {
		if dl, ok := byURL[d.RawURL]; ok {
			loader.AddFile(d, dl.Path)
		}
	}
	return nil
}

// resolve reads the placement log, combined form first, then the split
// person/wrist pair.
func (r *Runner) resolve(log *zap.Logger, devs []devices.Device) ([]models.WearEvent, error) {
	pl, err := readPlacement(r.Config.PlacementDir)
	if err != nil {
		return nil, err
	}
	log.Info("placement log loaded", zap.Int("change_points", pl.Len()), zap.Int("columns", len(pl.Columns)))

	bindings := make([]placement.Binding, 0, len(devs))
	for _, d := range devs {
		bindings = append(bindings, placement.Binding{Column: d.PlacementColumn, Device: d.ID})
	}
	return placement.Resolve(pl, bindings)
}

func readPlacement(dir string) (*placement.Log, error) {
	combined := filepath.Join(dir, "placement.csv")
	if f, err := os.Open(combined); err == nil {
		defer f.Close()
		return placement.ReadCombined(f)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	person, err := os.Open(filepath.Join(dir, "person.csv"))
	if err != nil {
		return nil, fmt.Errorf("open placement log: %w", err)
	}
	defer person.Close()
	wrist, err := os.Open(filepath.Join(dir, "wrist.csv"))
	if err != nil {
		return nil, fmt.Errorf("open placement log: %w", err)
	}
	defer wrist.Close()
	return placement.ReadSplit(person, wrist)
}

func (r *Runner) activities(ctx context.Context, log *zap.Logger) ([]models.Activity, error) {
	if r.Config.ActivityLog == "" {
		return nil, nil
	}
	f, err := os.Open(r.Config.ActivityLog)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	acts, skipped, err := activity.Read(f)
	if err != nil {
		return nil, err
	}
	log.Info("activity log loaded", zap.Int("activities", len(acts)), zap.Int("skipped", skipped))

	if r.persisting() {
		if err := r.Store.UpsertActivities(ctx, acts); err != nil {
			return nil, fmt.Errorf("upsert activities: %w", err)
		}
	}
	return acts, nil
}

// CachePath is where the normalized series of d is written and reused.
func CachePath(sensorDir string, d devices.Device) string {
	if d.Sensor == Accelerometer {
		return filepath.Join(sensorDir, d.ID+"_normalized_unit.csv")
	}
	return filepath.Join(sensorDir, d.ID+".csv")
}

// loadSeries returns the usable series by device id and the cache files it
// wrote. Devices that fail to load or normalize are logged and left out.
func (r *Runner) loadSeries(log *zap.Logger, loader *devices.Loader, devs []devices.Device) (map[string]models.Series, []string) {
	out := make(map[string]models.Series, len(devs))
	var written []string

	for _, d := range devs {
		dlog := log.With(zap.String("device", d.ID))
		path := CachePath(r.Config.SensorDir(), d)

		var s models.Series
		cached := false
		if r.Config.UseCache {
			if c, err := export.LoadSeries(path, d.ID, d.Sensor); err == nil {
				s, cached = c, true
				dlog.Info("using normalized cache", zap.String("file", path), zap.Int("samples", s.Len()))
			} else if !errors.Is(err, os.ErrNotExist) {
				dlog.Warn("ignoring unreadable cache", zap.String("file", path), zap.Error(err))
			}
		}
		if !cached {
			var err error
			if s, err = loader.Load(d); err != nil {
				dlog.Warn("device skipped", zap.Error(err))
				continue
			}
		}

		if d.Sensor == Accelerometer {
			if err := normalize.Series(&s, d.Scale); err != nil {
				dlog.Warn("normalization failed", zap.Error(err))
				continue
			}
		}

		if !cached {
			if err := export.WriteSeries(path, s); err != nil {
				dlog.Warn("failed to write normalized series", zap.Error(err))
			} else {
				written = append(written, path)
			}
		}
		out[d.ID] = s
	}
	return out, written
}

func (r *Runner) occupant(ctx context.Context, log *zap.Logger, runID uuid.UUID, series map[string]models.Series, events []models.WearEvent, acts []models.Activity, occ models.Occupant) (int, []string, error) {
	olog := log.With(zap.String("person", occ.Person), zap.String("wrist", string(occ.Wrist)))
	worn := placement.ForOccupant(events, occ)
	if first, last, ok := placement.OverallRange(worn, occ); ok {
		olog.Info("occupant",
			zap.Time("start", first),
			zap.Time("stop", last),
			zap.Strings("devices", placement.Devices(worn, occ)),
		)
	}

	var aligned []models.AlignedSeries
	for _, a := range align.Occupant(series, worn, occ) {
		if a.Series.Len() == 0 {
			olog.Info("no samples inside wear intervals", zap.String("device", a.Device))
			continue
		}
		aligned = append(aligned, a)
	}
	if len(aligned) == 0 {
		olog.Info("nothing to merge")
		return 0, nil, nil
	}

	channel := ""
	if r.Config.Sensor == Accelerometer {
		channel = normalize.Column
	}
	table := merge.Outer(aligned, channel)
	if len(table.Rows) == 0 || len(table.Columns) == 0 {
		olog.Info("merged table is empty")
		return 0, nil, nil
	}
	olog.Info("merged", zap.Int("rows", len(table.Rows)), zap.Int("columns", len(table.Columns)))
	if r.Config.Rebase && channel != "" {
		rebase(table)
	}

	var chunks []models.Chunk
	if r.Config.ChunkMode == config.ChunkDate {
		chunks = merge.Dates(table)
	} else {
		chunks = merge.Windows(table, r.Config.ChunkSpan)
	}

	var paths []string
	for _, chunk := range chunks {
		if r.Config.ChunkMode == config.ChunkDate {
			chunk.Table = merge.DropEmptyColumns(chunk.Table)
		}
		base := filepath.Join(r.Config.SensorDir(), ChunkName(occ, chunk, len(chunks)))
		written, err := r.chunk(ctx, olog, runID, base, chunk, acts)
		paths = append(paths, written...)
		if err != nil {
			return 0, paths, err
		}
	}
	return len(chunks), paths, nil
}

// rebase applies normalize.Rebase to the values present in each column.
func rebase(t models.MergedTable) {
	for c := range t.Columns {
		var rows []int
		var vals []float64
		for i, row := range t.Rows {
			if row.Values[c] != nil {
				rows = append(rows, i)
				vals = append(vals, *row.Values[c])
			}
		}
		normalize.Rebase(vals)
		for k, i := range rows {
			t.Rows[i].Values[c] = utils.Float(vals[k])
		}
	}
}

func stem(occ models.Occupant) string {
	return utils.SafeName(occ.Person) + "_" + string(occ.Wrist)
}

// checkStems fails when two occupants would write to the same files.
func checkStems(occs []models.Occupant) error {
	seen := make(map[string]models.Occupant, len(occs))
	for _, occ := range occs {
		s := stem(occ)
		if prev, ok := seen[s]; ok {
			return fmt.Errorf("%w: %q and %q both write %s", ErrNameCollision, prev.Person, occ.Person, s)
		}
		seen[s] = occ
	}
	return nil
}

// ChunkName is the file stem of a chunk: person_wrist, plus the date for
// calendar chunks or the start instant when a window split produced more
// than one chunk.
func ChunkName(occ models.Occupant, chunk models.Chunk, total int) string {
	name := stem(occ)
	switch {
	case chunk.Date != "":
		name += "_" + chunk.Date
	case total > 1:
		name += "_" + chunk.Start.UTC().Format("20060102T150405Z")
	}
	return name
}

func (r *Runner) chunk(ctx context.Context, log *zap.Logger, runID uuid.UUID, base string, chunk models.Chunk, acts []models.Activity) ([]string, error) {
	var paths []string

	tablePath := base + ".csv"
	if err := export.WriteTable(tablePath, chunk.Table); err != nil {
		return paths, fmt.Errorf("write chunk: %w", err)
	}
	paths = append(paths, tablePath)

	agreement := stats.Table(chunk.Table)
	agreementPath := base + "_agreement.csv"
	if err := export.WriteAgreement(agreementPath, agreement); err != nil {
		return paths, fmt.Errorf("write agreement: %w", err)
	}
	paths = append(paths, agreementPath)

	rolling := stats.RollingTable(chunk.Table, r.Config.Rolling)
	if len(rolling) > 0 {
		rollingPath := base + "_rolling.csv"
		if err := export.WriteRolling(rollingPath, rolling); err != nil {
			return paths, fmt.Errorf("write rolling correlation: %w", err)
		}
		paths = append(paths, rollingPath)
	}

	overlap := activity.Overlapping(acts, chunk.Table.Person, chunk.Start, chunk.Stop)
	if len(overlap) > 0 {
		actPath := base + "_activities.csv"
		if err := export.WriteActivities(actPath, overlap); err != nil {
			return paths, fmt.Errorf("write activities: %w", err)
		}
		paths = append(paths, actPath)
	}

	log.Info("chunk written",
		zap.String("file", filepath.Base(tablePath)),
		zap.Time("start", chunk.Start),
		zap.Time("stop", chunk.Stop),
		zap.Int("rows", len(chunk.Table.Rows)),
		zap.Int("pairs", len(agreement)),
		zap.Int("rolling", len(rolling)),
		zap.Int("activities", len(overlap)),
	)

	if r.Config.DryRun {
		for _, a := range agreement {
			log.Info("dry-run: would store agreement",
				zap.String("device_a", a.DeviceA),
				zap.String("device_b", a.DeviceB),
				zap.Int("n", a.N),
				zap.String("pearson_r", utils.ValuePtrString(a.PearsonR)),
				zap.String("mean_diff", utils.ValuePtrString(a.MeanDiff)),
			)
		}
		return paths, nil
	}
	if r.Store == nil {
		return paths, nil
	}
	if err := r.Store.UpsertChunk(ctx, runID, chunk); err != nil {
		return paths, fmt.Errorf("upsert chunk: %w", err)
	}
	if err := r.Store.InsertAgreement(ctx, runID, chunk, agreement); err != nil {
		return paths, fmt.Errorf("insert agreement: %w", err)
	}
	return paths, nil
}

func (r *Runner) upload(ctx context.Context, log *zap.Logger, paths []string) error {
	if r.Uploader == nil || len(paths) == 0 {
		return nil
	}
	if r.Config.DryRun {
		log.Info("dry-run: skipping artifact upload", zap.Int("artifacts", len(paths)))
		return nil
	}
	if err := export.UploadTree(ctx, r.Uploader, r.Config.OutputDir, paths); err != nil {
		return err
	}
	log.Info("artifacts uploaded", zap.Int("artifacts", len(paths)))
	return nil
}
