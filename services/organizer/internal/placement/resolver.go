package placement

import (
	"fmt"
	"sort"
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// SchemaError reports a column the placement log was expected to carry.
type SchemaError struct {
	Column string
	Device string
}

func (e *SchemaError) Error() string {
	if e.Device != "" && e.Device != e.Column {
		return fmt.Sprintf("placement log has no column %q for device %s", e.Column, e.Device)
	}
	return fmt.Sprintf("placement log has no column %q", e.Column)
}

// Binding ties a placement log column to the device id used downstream.
type Binding struct {
	Column string
	Device string
}

// Resolve turns change-point rows into wear events. Each row is active
// from its timestamp up to the next distinct timestamp; the last timestamp
// has no stop and never starts an event, so a trailing still-worn interval
// is dropped. A binding whose column is absent fails with *SchemaError.
func Resolve(log *Log, bindings []Binding) ([]models.WearEvent, error) {
	for _, b := range bindings {
		if !log.HasColumn(b.Column) {
			return nil, &SchemaError{Column: b.Column, Device: b.Device}
		}
	}

	stops := StopTimes(log.Timestamps)

	var events []models.WearEvent
	seen := make(map[models.WearEvent]bool)
	for _, b := range bindings {
		for i, occ := range log.Cells[b.Column] {
			if occ == nil {
				continue
			}
			start := log.Timestamps[i]
			stop, ok := stops[start.UnixNano()]
			if !ok {
				continue
			}
			ev := models.WearEvent{
				Person: occ.Person,
				Wrist:  occ.Wrist,
				Device: b.Device,
				Start:  start,
				Stop:   stop,
			}
			if seen[ev] {
				continue
			}
			seen[ev] = true
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Occupant() != b.Occupant() {
			return a.Occupant().Less(b.Occupant())
		}
		if a.Device != b.Device {
			return a.Device < b.Device
		}
		return a.Start.Before(b.Start)
	})
	return events, nil
}

// StopTimes maps each distinct timestamp (UnixNano) to the next distinct
// timestamp. The latest timestamp has no entry.
func StopTimes(timestamps []time.Time) map[int64]time.Time {
	distinct := make([]time.Time, 0, len(timestamps))
	seen := make(map[int64]bool, len(timestamps))
	for _, ts := range timestamps {
		if !seen[ts.UnixNano()] {
			seen[ts.UnixNano()] = true
			distinct = append(distinct, ts)
		}
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].Before(distinct[j]) })

	stops := make(map[int64]time.Time, len(distinct))
	for i := 0; i < len(distinct)-1; i++ {
		stops[distinct[i].UnixNano()] = distinct[i+1]
	}
	return stops
}

// Occupants lists the distinct (person, wrist) pairs in events, sorted.
func Occupants(events []models.WearEvent) []models.Occupant {
	seen := make(map[models.Occupant]bool)
	var out []models.Occupant
	for _, ev := range events {
		o := ev.Occupant()
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ForOccupant filters events down to one (person, wrist).
func ForOccupant(events []models.WearEvent, occ models.Occupant) []models.WearEvent {
	var out []models.WearEvent
	for _, ev := range events {
		if ev.Occupant() == occ {
			out = append(out, ev)
		}
	}
	return out
}

// OverallRange returns the earliest start and latest stop for occ.
func OverallRange(events []models.WearEvent, occ models.Occupant) (start, stop time.Time, ok bool) {
	for _, ev := range events {
		if ev.Occupant() != occ {
			continue
		}
		if !ok || ev.Start.Before(start) {
			start = ev.Start
		}
		if !ok || ev.Stop.After(stop) {
			stop = ev.Stop
		}
		ok = true
	}
	return start, stop, ok
}

// Devices lists the distinct devices worn by occ, in first-seen order.
func Devices(events []models.WearEvent, occ models.Occupant) []string {
	seen := make(map[string]bool)
	var out []string
	for _, ev := range events {
		if ev.Occupant() == occ && !seen[ev.Device] {
			seen[ev.Device] = true
			out = append(out, ev.Device)
		}
	}
	return out
}
