package align

import (
	"sort"
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// Window returns the samples of s with start <= t <= stop. s must be
// sorted by time. An interval with no samples yields an empty slice.
func Window(s *models.Series, start, stop time.Time) []models.Sample {
	lo := sort.Search(len(s.Samples), func(i int) bool {
		return !s.Samples[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(s.Samples), func(i int) bool {
		return s.Samples[i].Timestamp.After(stop)
	})
	if lo >= hi {
		return []models.Sample{}
	}
	out := make([]models.Sample, hi-lo)
	copy(out, s.Samples[lo:hi])
	return out
}

// Event trims s to a single wear event.
func Event(s *models.Series, ev models.WearEvent) models.AlignedSeries {
	return models.AlignedSeries{
		Person: ev.Person,
		Wrist:  ev.Wrist,
		Device: ev.Device,
		Events: []models.WearEvent{ev},
		Series: models.Series{
			Device:  s.Device,
			Sensor:  s.Sensor,
			Columns: s.Columns,
			Samples: Window(s, ev.Start, ev.Stop),
		},
	}
}

// Occupant aligns every device worn by occ. Slices of the same device are
// concatenated in event order without de-duplication. Devices absent from
// series are skipped; devices with no samples in their intervals are
// returned with an empty series.
func Occupant(series map[string]models.Series, events []models.WearEvent, occ models.Occupant) []models.AlignedSeries {
	byDevice := make(map[string]*models.AlignedSeries)
	var order []string
	for _, ev := range events {
		if ev.Occupant() != occ {
			continue
		}
		s, ok := series[ev.Device]
		if !ok {
			continue
		}
		slice := Event(&s, ev)
		if cur, ok := byDevice[ev.Device]; ok {
			cur.Events = append(cur.Events, ev)
			cur.Series.Samples = append(cur.Series.Samples, slice.Series.Samples...)
			continue
		}
		byDevice[ev.Device] = &slice
		order = append(order, ev.Device)
	}

	out := make([]models.AlignedSeries, 0, len(order))
	for _, d := range order {
		out = append(out, *byDevice[d])
	}
	return out
}
