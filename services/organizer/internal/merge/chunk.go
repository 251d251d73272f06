package merge

import (
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// DefaultSpan is the longest time range one chunk may cover.
const DefaultSpan = 24 * time.Hour

// DateLayout names calendar-day chunks.
const DateLayout = "2006-01-02"

// Windows splits t into consecutive windows starting at its first row:
// [t0, min(t0+span, tmax)], [prev_stop, min(prev_stop+span, tmax)], ...
// Each window is half-open except the last, which includes tmax, so
// every row lands in exactly one chunk. Windows without rows are omitted.
func Windows(t models.MergedTable, span time.Duration) []models.Chunk {
	if span <= 0 {
		span = DefaultSpan
	}
	first, last, ok := t.Span()
	if !ok {
		return nil
	}

	var chunks []models.Chunk
	i := 0
	for start := first; ; {
		stop := start.Add(span)
		final := !stop.Before(last)
		if final {
			stop = last
		}
		j := i
		for j < len(t.Rows) && (final || t.Rows[j].Timestamp.Before(stop)) {
			j++
		}
		if j > i {
			chunks = append(chunks, models.Chunk{
				Start: start,
				Stop:  stop,
				Table: slice(t, i, j),
			})
		}
		i = j
		if final {
			break
		}
		start = stop
	}
	return chunks
}

// Dates splits t by UTC calendar day.
func Dates(t models.MergedTable) []models.Chunk {
	var chunks []models.Chunk
	i := 0
	for i < len(t.Rows) {
		day := t.Rows[i].Timestamp.UTC().Format(DateLayout)
		j := i + 1
		for j < len(t.Rows) && t.Rows[j].Timestamp.UTC().Format(DateLayout) == day {
			j++
		}
		chunks = append(chunks, models.Chunk{
			Start: t.Rows[i].Timestamp,
			Stop:  t.Rows[j-1].Timestamp,
			Date:  day,
			Table: slice(t, i, j),
		})
		i = j
	}
	return chunks
}

func slice(t models.MergedTable, i, j int) models.MergedTable {
	rows := make([]models.Row, j-i)
	copy(rows, t.Rows[i:j])
	return models.MergedTable{
		Person:  t.Person,
		Wrist:   t.Wrist,
		Columns: t.Columns,
		Rows:    rows,
	}
}
