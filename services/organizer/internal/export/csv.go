package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/utils"
)

// TimestampHeader is the first column of every written table.
const TimestampHeader = "Timestamp"

// TimeLayout is the canonical timestamp encoding of written tables.
const TimeLayout = time.RFC3339Nano

// create opens path for writing, creating parent directories. Existing
// files are truncated so reruns overwrite rather than append.
func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return os.Create(path)
}

func writeAll(path string, fill func(w *csv.Writer) error) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSeries writes a normalized series as Timestamp + channel columns.
func WriteSeries(path string, s models.Series) error {
	return writeAll(path, func(w *csv.Writer) error {
		if err := w.Write(append([]string{TimestampHeader}, s.Columns...)); err != nil {
			return err
		}
		rec := make([]string, len(s.Columns)+1)
		for _, sample := range s.Samples {
			rec[0] = sample.Timestamp.UTC().Format(TimeLayout)
			for i, v := range sample.Values {
				rec[i+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadSeries reads a table written by WriteSeries.
func ReadSeries(r io.Reader, device, sensor string) (models.Series, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return models.Series{}, fmt.Errorf("read series header: %w", err)
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) != TimestampHeader {
		return models.Series{}, fmt.Errorf("series header must start with %s", TimestampHeader)
	}
	s := models.Series{Device: device, Sensor: sensor, Columns: append([]string(nil), header[1:]...)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s, err
		}
		ts, err := time.Parse(TimeLayout, rec[0])
		if err != nil {
			return s, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, len(s.Columns))
		for i := range vals {
			if vals[i], err = strconv.ParseFloat(rec[i+1], 64); err != nil {
				return s, fmt.Errorf("line %d column %s: %w", line, s.Columns[i], err)
			}
		}
		s.Samples = append(s.Samples, models.Sample{Timestamp: ts.UTC(), Values: vals})
	}
	s.SortByTime()
	return s, nil
}

// LoadSeries opens and reads a cached series file.
func LoadSeries(path, device, sensor string) (models.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Series{}, err
	}
	defer f.Close()
	return ReadSeries(f, device, sensor)
}

// WriteTable writes a merged table; missing values are empty cells.
func WriteTable(path string, t models.MergedTable) error {
	return writeAll(path, func(w *csv.Writer) error {
		if err := w.Write(append([]string{TimestampHeader}, t.Columns...)); err != nil {
			return err
		}
		rec := make([]string, len(t.Columns)+1)
		for _, r := range t.Rows {
			rec[0] = r.Timestamp.UTC().Format(TimeLayout)
			for i, v := range r.Values {
				rec[i+1] = utils.FormatValue(v)
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteAgreement writes pairwise statistics, one row per column pair.
func WriteAgreement(path string, rows []models.Agreement) error {
	return writeAll(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"device_a", "device_b", "n", "pearson_r", "mean_diff", "sd_diff", "loa_low", "loa_high"}); err != nil {
			return err
		}
		for _, a := range rows {
			if err := w.Write([]string{
				a.DeviceA, a.DeviceB, strconv.Itoa(a.N),
				utils.FormatValue(a.PearsonR),
				utils.FormatValue(a.MeanDiff),
				utils.FormatValue(a.SDDiff),
				utils.FormatValue(a.LoALow),
				utils.FormatValue(a.LoAHigh),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteRolling writes rolling correlations, one row per window.
func WriteRolling(path string, rows []models.RollingPoint) error {
	return writeAll(path, func(w *csv.Writer) error {
		if err := w.Write([]string{TimestampHeader, "device_a", "device_b", "pearson_r"}); err != nil {
			return err
		}
		for _, p := range rows {
			if err := w.Write([]string{
				p.Timestamp.UTC().Format(TimeLayout),
				p.DeviceA, p.DeviceB,
				utils.FormatValue(p.PearsonR),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteActivities writes activity annotations for a chunk.
func WriteActivities(path string, rows []models.Activity) error {
	return writeAll(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"wearer", "start", "stop", "activity"}); err != nil {
			return err
		}
		for _, a := range rows {
			if err := w.Write([]string{
				a.Wearer,
				a.Start.UTC().Format(TimeLayout),
				a.Stop.UTC().Format(TimeLayout),
				a.Activity,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteEvents writes resolved wear events.
func WriteEvents(path string, events []models.WearEvent) error {
	return writeAll(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"person", "wrist", "device", "start", "stop"}); err != nil {
			return err
		}
		for _, ev := range events {
			if err := w.Write([]string{
				ev.Person, string(ev.Wrist), ev.Device,
				ev.Start.UTC().Format(TimeLayout),
				ev.Stop.UTC().Format(TimeLayout),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
