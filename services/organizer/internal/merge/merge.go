package merge

import (
	"sort"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// ColumnName names a merged column. With a single selected channel the
// column is the device itself; otherwise it is "device.channel".
func ColumnName(device, channel string, single bool) string {
	if single {
		return device
	}
	return device + "." + channel
}

// Outer joins aligned series on timestamp. When channel is non-empty each
// device contributes one column holding that channel (devices lacking it
// are skipped); otherwise every channel of every device becomes a column.
// Rows are unique per timestamp and ascending; a device sampled more than
// once at the same instant keeps its first value.
func Outer(series []models.AlignedSeries, channel string) models.MergedTable {
	table := models.MergedTable{}
	if len(series) > 0 {
		table.Person = series[0].Person
		table.Wrist = series[0].Wrist
	}

	type source struct {
		aligned *models.AlignedSeries
		idx     []int
		offset  int
	}
	var sources []source
	single := channel != ""
	for i := range series {
		s := &series[i]
		var idx []int
		if single {
			c := s.Series.Column(channel)
			if c < 0 {
				continue
			}
			idx = []int{c}
			table.Columns = append(table.Columns, ColumnName(s.Device, channel, true))
		} else {
			for c, name := range s.Series.Columns {
				idx = append(idx, c)
				table.Columns = append(table.Columns, ColumnName(s.Device, name, false))
			}
		}
		sources = append(sources, source{aligned: s, idx: idx, offset: len(table.Columns) - len(idx)})
	}

	rows := make(map[int64]*models.Row)
	width := len(table.Columns)
	for _, src := range sources {
		for _, sample := range src.aligned.Series.Samples {
			key := sample.Timestamp.UnixNano()
			row, ok := rows[key]
			if !ok {
				row = &models.Row{Timestamp: sample.Timestamp, Values: make([]*float64, width)}
				rows[key] = row
			}
			for k, c := range src.idx {
				if row.Values[src.offset+k] != nil {
					continue
				}
				v := sample.Values[c]
				row.Values[src.offset+k] = &v
			}
		}
	}

	table.Rows = make([]models.Row, 0, len(rows))
	for _, r := range rows {
		table.Rows = append(table.Rows, *r)
	}
	sort.Slice(table.Rows, func(i, j int) bool {
		return table.Rows[i].Timestamp.Before(table.Rows[j].Timestamp)
	})
	return table
}

// DropEmptyColumns removes columns with no values, as the per-date PPG
// export does before writing.
func DropEmptyColumns(t models.MergedTable) models.MergedTable {
	keep := make([]int, 0, len(t.Columns))
	for c := range t.Columns {
		for _, r := range t.Rows {
			if r.Values[c] != nil {
				keep = append(keep, c)
				break
			}
		}
	}
	if len(keep) == len(t.Columns) {
		return t
	}
	out := models.MergedTable{Person: t.Person, Wrist: t.Wrist}
	for _, c := range keep {
		out.Columns = append(out.Columns, t.Columns[c])
	}
	out.Rows = make([]models.Row, len(t.Rows))
	for i, r := range t.Rows {
		vals := make([]*float64, len(keep))
		for k, c := range keep {
			vals[k] = r.Values[c]
		}
		out.Rows[i] = models.Row{Timestamp: r.Timestamp, Values: vals}
	}
	return out
}
