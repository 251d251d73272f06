package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wrist identifies which wrist a device was strapped to.
type Wrist string

const (
	WristLeft  Wrist = "left"
	WristRight Wrist = "right"
)

// ParseWrist accepts "left"/"right" in any case, with surrounding spaces.
func ParseWrist(s string) (Wrist, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return WristLeft, nil
	case "right", "r":
		return WristRight, nil
	default:
		return "", fmt.Errorf("unknown wrist %q", s)
	}
}

// Occupant is the (person, wrist) pair a device is assigned to.
type Occupant struct {
	Person string
	Wrist  Wrist
}

func (o Occupant) String() string {
	return o.Person + "/" + string(o.Wrist)
}

// Less orders occupants by person, then wrist.
func (o Occupant) Less(other Occupant) bool {
	if o.Person != other.Person {
		return o.Person < other.Person
	}
	return o.Wrist < other.Wrist
}

// WearEvent is one interval during which a device was worn by an occupant.
type WearEvent struct {
	Person string    `json:"person"`
	Wrist  Wrist     `json:"wrist"`
	Device string    `json:"device"`
	Start  time.Time `json:"start"`
	Stop   time.Time `json:"stop"`
}

// Occupant returns the (person, wrist) pair of the event.
func (e WearEvent) Occupant() Occupant {
	return Occupant{Person: e.Person, Wrist: e.Wrist}
}

// Sample is one timestamped row of channel values. Values are positional
// and follow the owning Series' Columns.
type Sample struct {
	Timestamp time.Time
	Values    []float64
}

// Series is a time-indexed set of samples from one device and sensor.
type Series struct {
	Device  string
	Sensor  string
	Columns []string
	Samples []Sample
}

// Column returns the index of a named column, or -1.
func (s *Series) Column(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Len returns the number of samples.
func (s *Series) Len() int {
	return len(s.Samples)
}

// SortByTime stably orders samples by timestamp.
func (s *Series) SortByTime() {
	sort.SliceStable(s.Samples, func(i, j int) bool {
		return s.Samples[i].Timestamp.Before(s.Samples[j].Timestamp)
	})
}

// Sorted reports whether samples are in non-decreasing time order.
func (s *Series) Sorted() bool {
	return sort.SliceIsSorted(s.Samples, func(i, j int) bool {
		return s.Samples[i].Timestamp.Before(s.Samples[j].Timestamp)
	})
}

// Span returns the first and last timestamps. ok is false for an empty series.
func (s *Series) Span() (first, last time.Time, ok bool) {
	if len(s.Samples) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.Samples[0].Timestamp, s.Samples[len(s.Samples)-1].Timestamp, true
}

// AlignedSeries is a series trimmed to the wear intervals of one occupant.
type AlignedSeries struct {
	Person string
	Wrist  Wrist
	Device string
	Events []WearEvent
	Series Series
}

// Occupant returns the (person, wrist) pair of the aligned series.
func (a AlignedSeries) Occupant() Occupant {
	return Occupant{Person: a.Person, Wrist: a.Wrist}
}

// Row is one timestamp of a merged table; nil values are missing.
type Row struct {
	Timestamp time.Time
	Values    []*float64
}

// MergedTable is an outer join of aligned series on timestamp.
// Rows have unique timestamps in ascending order.
type MergedTable struct {
	Person  string
	Wrist   Wrist
	Columns []string
	Rows    []Row
}

// Span returns the first and last row timestamps. ok is false when empty.
func (t *MergedTable) Span() (first, last time.Time, ok bool) {
	if len(t.Rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return t.Rows[0].Timestamp, t.Rows[len(t.Rows)-1].Timestamp, true
}

// Column returns the index of a named column, or -1.
func (t *MergedTable) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Chunk is one bounded slice of a merged table.
type Chunk struct {
	Start time.Time
	Stop  time.Time
	Date  string // set for calendar-day chunks, empty otherwise
	Table MergedTable
}

// Activity is one annotated activity window for a wearer.
type Activity struct {
	Wearer   string    `json:"wearer"`
	Start    time.Time `json:"start"`
	Stop     time.Time `json:"stop"`
	Activity string    `json:"activity"`
}

// Agreement captures pairwise comparison statistics between two columns.
type Agreement struct {
	DeviceA  string   `json:"device_a"`
	DeviceB  string   `json:"device_b"`
	N        int      `json:"n"`
	PearsonR *float64 `json:"pearson_r,omitempty"`
	MeanDiff *float64 `json:"mean_diff,omitempty"`
	SDDiff   *float64 `json:"sd_diff,omitempty"`
	LoALow   *float64 `json:"loa_low,omitempty"`
	LoAHigh  *float64 `json:"loa_high,omitempty"`
}

// RollingPoint is the trailing-window correlation of two columns at the
// last paired row of the window.
type RollingPoint struct {
	Timestamp time.Time `json:"ts"`
	DeviceA   string    `json:"device_a"`
	DeviceB   string    `json:"device_b"`
	PearsonR  *float64  `json:"pearson_r,omitempty"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run records one organizer invocation.
type Run struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Sensor    string    `json:"sensor"`
	Status    string    `json:"status"`
}
