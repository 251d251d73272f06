package placement

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/devices"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// TimestampColumn is the header of the change-point column.
const TimestampColumn = "Timestamp"

// Log is a parsed device-placement log: one row per configuration change,
// one column per device. A nil cell means the device was not worn.
type Log struct {
	Timestamps []time.Time
	Columns    []string
	Cells      map[string][]*models.Occupant
}

// HasColumn reports whether the log carries a device column.
func (l *Log) HasColumn(name string) bool {
	_, ok := l.Cells[name]
	return ok
}

// Len returns the number of rows.
func (l *Log) Len() int {
	return len(l.Timestamps)
}

type rawTable struct {
	columns []string
	rows    []time.Time
	cells   map[string][]string
}

func readTable(r io.Reader) (*rawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read placement header: %w", err)
	}
	tsIdx := -1
	t := &rawTable{cells: make(map[string][]string)}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		if h == TimestampColumn {
			tsIdx = i
			continue
		}
		t.columns = append(t.columns, h)
		t.cells[h] = nil
	}
	if tsIdx < 0 {
		return nil, &SchemaError{Column: TimestampColumn}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read placement row %d: %w", line+1, err)
		}
		line++
		if tsIdx >= len(rec) || strings.TrimSpace(rec[tsIdx]) == "" {
			continue
		}
		ts, err := devices.ParseInstant(rec[tsIdx], nil)
		if err != nil {
			return nil, fmt.Errorf("placement row %d: %w", line, err)
		}
		t.rows = append(t.rows, ts)
		for i, h := range header {
			if i == tsIdx {
				continue
			}
			cell := ""
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			t.cells[h] = append(t.cells[h], cell)
		}
	}
	return t, nil
}

func emptyCell(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return true
	}
	return false
}

// ParseOccupant parses a "person/wrist" cell. Empty cells yield nil.
func ParseOccupant(cell string) (*models.Occupant, error) {
	cell = strings.TrimSpace(cell)
	if emptyCell(cell) {
		return nil, nil
	}
	i := strings.LastIndex(cell, "/")
	if i <= 0 {
		return nil, fmt.Errorf("occupant %q is not person/wrist", cell)
	}
	wrist, err := models.ParseWrist(cell[i+1:])
	if err != nil {
		return nil, err
	}
	return &models.Occupant{Person: strings.TrimSpace(cell[:i]), Wrist: wrist}, nil
}

// ReadCombined parses a single placement CSV whose device cells hold
// "person/wrist" occupants.
func ReadCombined(r io.Reader) (*Log, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	log := &Log{Timestamps: t.rows, Columns: t.columns, Cells: make(map[string][]*models.Occupant, len(t.columns))}
	for _, col := range t.columns {
		occ := make([]*models.Occupant, len(t.rows))
		for i, cell := range t.cells[col] {
			o, err := ParseOccupant(cell)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", col, i+1, err)
			}
			occ[i] = o
		}
		log.Cells[col] = occ
	}
	return log, nil
}

// ReadSplit outer-joins a person log and a wrist log on Timestamp. Only
// device columns present in both logs are kept; a device is worn at a
// change-point when both its person and wrist cells are set.
func ReadSplit(person, wrist io.Reader) (*Log, error) {
	pt, err := readTable(person)
	if err != nil {
		return nil, fmt.Errorf("person log: %w", err)
	}
	wt, err := readTable(wrist)
	if err != nil {
		return nil, fmt.Errorf("wrist log: %w", err)
	}

	var columns []string
	for _, c := range pt.columns {
		if _, ok := wt.cells[c]; ok {
			columns = append(columns, c)
		}
	}

	pIdx := firstIndex(pt.rows)
	wIdx := firstIndex(wt.rows)
	var times []time.Time
	seen := make(map[int64]bool)
	for _, ts := range append(append([]time.Time{}, pt.rows...), wt.rows...) {
		if !seen[ts.UnixNano()] {
			seen[ts.UnixNano()] = true
			times = append(times, ts)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	log := &Log{Timestamps: times, Columns: columns, Cells: make(map[string][]*models.Occupant, len(columns))}
	for _, col := range columns {
		occ := make([]*models.Occupant, len(times))
		for i, ts := range times {
			pi, pok := pIdx[ts.UnixNano()]
			wi, wok := wIdx[ts.UnixNano()]
			if !pok || !wok {
				continue
			}
			p, w := pt.cells[col][pi], wt.cells[col][wi]
			if emptyCell(p) || emptyCell(w) {
				continue
			}
			side, err := models.ParseWrist(w)
			if err != nil {
				return nil, fmt.Errorf("column %q at %s: %w", col, ts.Format(time.RFC3339), err)
			}
			occ[i] = &models.Occupant{Person: p, Wrist: side}
		}
		log.Cells[col] = occ
	}
	return log, nil
}

func firstIndex(rows []time.Time) map[int64]int {
	idx := make(map[int64]int, len(rows))
	for i, ts := range rows {
		if _, ok := idx[ts.UnixNano()]; !ok {
			idx[ts.UnixNano()] = i
		}
	}
	return idx
}
