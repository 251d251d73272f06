package devices

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// DecodeStats counts what happened to the records of one file.
type DecodeStats struct {
	Rows    int
	Dropped int
}

// Decode reads one raw export of d and returns its samples with canonical
// UTC timestamps. Rows with an unparseable timestamp or value are dropped
// and counted rather than failing the file.
func Decode(d Device, r io.Reader) (models.Series, DecodeStats, error) {
	series := models.Series{Device: d.ID, Sensor: d.Sensor, Columns: d.ChannelNames()}
	var stats DecodeStats

	br := bufio.NewReader(r)
	for i := 0; i < d.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return series, stats, fmt.Errorf("%s: file ends inside the %d-row preamble", d.ID, d.SkipRows)
			}
			return series, stats, err
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	if d.CommentPrefix != "" {
		cr.Comment = []rune(d.CommentPrefix)[0]
	}

	tsIdx := d.TimestampIndex
	chIdx := make([]int, len(d.Channels))
	for i, ch := range d.Channels {
		chIdx[i] = ch.Index
	}
	if d.Header {
		header, err := cr.Read()
		if err != nil {
			return series, stats, fmt.Errorf("%s: read header: %w", d.ID, err)
		}
		cols := make(map[string]int, len(header))
		for i, h := range header {
			cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
		}
		if d.Encoding != EncodingE4Counter {
			idx, ok := cols[d.TimestampColumn]
			if !ok {
				return series, stats, fmt.Errorf("%s: timestamp column %q not in header", d.ID, d.TimestampColumn)
			}
			tsIdx = idx
		}
		for i, ch := range d.Channels {
			idx, ok := cols[strings.TrimSpace(ch.Source)]
			if !ok {
				return series, stats, fmt.Errorf("%s: channel column %q not in header", d.ID, ch.Source)
			}
			chIdx[i] = idx
		}
	}

	var err error
	switch d.Encoding {
	case EncodingE4Counter:
		err = decodeCounter(cr, chIdx, &series, &stats)
	case EncodingStringTimestamp:
		err = decodeStamped(cr, tsIdx, chIdx, func(v string) (time.Time, error) {
			return ParseTimestamp(v, d.Layouts)
		}, &series, &stats)
	case EncodingEpochMillis:
		err = decodeStamped(cr, tsIdx, chIdx, ParseEpochMillis, &series, &stats)
	default:
		err = fmt.Errorf("%s: %w %q", d.ID, ErrUnknownEncoding, d.Encoding)
	}
	return series, stats, err
}

func decodeCounter(cr *csv.Reader, chIdx []int, series *models.Series, stats *DecodeStats) error {
	startRec, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read start record: %w", err)
	}
	rateRec, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read rate record: %w", err)
	}
	if len(startRec) == 0 || len(rateRec) == 0 {
		return errors.New("empty start or rate record")
	}
	start, err := ParseEpochSeconds(startRec[0])
	if err != nil {
		return fmt.Errorf("start record: %w", err)
	}
	rate, err := strconv.ParseFloat(strings.TrimSpace(rateRec[0]), 64)
	if err != nil || rate <= 0 || math.IsInf(rate, 0) {
		return fmt.Errorf("invalid sample rate %q", rateRec[0])
	}

	i := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		stats.Rows++
		ts := start.Add(time.Duration(math.Round(float64(i) / rate * float64(time.Second))))
		i++
		values, ok := pick(rec, chIdx)
		if !ok {
			stats.Dropped++
			continue
		}
		series.Samples = append(series.Samples, models.Sample{Timestamp: ts, Values: values})
	}
}

func decodeStamped(cr *csv.Reader, tsIdx int, chIdx []int, parse func(string) (time.Time, error), series *models.Series, stats *DecodeStats) error {
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if isBlank(rec) {
			continue
		}
		stats.Rows++
		if tsIdx >= len(rec) {
			stats.Dropped++
			continue
		}
		ts, err := parse(rec[tsIdx])
		if err != nil {
			stats.Dropped++
			continue
		}
		values, ok := pick(rec, chIdx)
		if !ok {
			stats.Dropped++
			continue
		}
		series.Samples = append(series.Samples, models.Sample{Timestamp: ts, Values: values})
	}
}

func pick(rec []string, idx []int) ([]float64, bool) {
	values := make([]float64, len(idx))
	for i, j := range idx {
		if j >= len(rec) {
			return nil, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		values[i] = f
	}
	return values, true
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
