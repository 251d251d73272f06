package devices

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// ErrNoData is returned when a device has no readable export files.
var ErrNoData = errors.New("no readable export files")

// Loader reads raw device exports below a data directory. Files added with
// AddFile are read along with the device directory, for exports that were
// fetched into a cache instead of unpacked under DataDir.
type Loader struct {
	DataDir string
	Logger  *zap.Logger
	extra   map[string][]string
}

// NewLoader creates a Loader rooted at dataDir.
func NewLoader(dataDir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{DataDir: dataDir, Logger: logger}
}

func key(d Device) string { return d.Sensor + "/" + d.ID }

// AddFile registers path as one more export file of d.
func (l *Loader) AddFile(d Device, path string) {
	if l.extra == nil {
		l.extra = make(map[string][]string)
	}
	for _, p := range l.extra[key(d)] {
		if p == path {
			return
		}
	}
	l.extra[key(d)] = append(l.extra[key(d)], path)
}

// Files lists the export files of d in lexical order. A missing device
// directory is an error only when no file was added for d.
func (l *Loader) Files(d Device) ([]string, error) {
	files := append([]string(nil), l.extra[key(d)]...)

	dir := filepath.Join(l.DataDir, d.Dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if len(files) > 0 {
			sort.Strings(files)
			return files, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !d.Match.Any(name) {
			continue
		}
		if d.Suffix != "" && !strings.HasSuffix(name, d.Suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Load decodes and concatenates every export file of d, sorted by time.
// Malformed files are skipped with a warning; ErrNoData is returned only
// when nothing could be read.
func (l *Loader) Load(d Device) (models.Series, error) {
	series := models.Series{Device: d.ID, Sensor: d.Sensor, Columns: d.ChannelNames()}

	files, err := l.Files(d)
	if err != nil {
		l.Logger.Warn("device export directory unavailable",
			zap.String("device", d.ID),
			zap.String("sensor", d.Sensor),
			zap.Error(err),
		)
		return series, fmt.Errorf("%s: %w", d.ID, ErrNoData)
	}

	parsed := 0
	for _, path := range files {
		part, stats, err := l.decodeFile(d, path)
		if err != nil {
			l.Logger.Warn("skipping malformed export",
				zap.String("device", d.ID),
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		parsed++
		series.Samples = append(series.Samples, part.Samples...)
		l.Logger.Info("loaded export",
			zap.String("device", d.ID),
			zap.String("file", filepath.Base(path)),
			zap.Int("rows", stats.Rows),
			zap.Int("dropped", stats.Dropped),
			zap.Int("total", len(series.Samples)),
		)
	}
	if parsed == 0 {
		return series, fmt.Errorf("%s: %w", d.ID, ErrNoData)
	}

	if !series.Sorted() {
		series.SortByTime()
	}
	return series, nil
}

func (l *Loader) decodeFile(d Device, path string) (models.Series, DecodeStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Series{}, DecodeStats{}, err
	}
	defer f.Close()
	return Decode(d, f)
}
