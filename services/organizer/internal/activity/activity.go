package activity

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/devices"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

var requiredColumns = []string{"wearer", "start", "stop", "activity"}

// Label collapses variants that annotate the same activity.
func Label(activity string) string {
	a := strings.TrimSpace(activity)
	switch a {
	case "charging (after)", "charging (before)":
		return "charging"
	}
	return a
}

// Read parses an activity log with wearer, start, stop and activity columns.
// Rows with unparseable times are skipped and counted.
func Read(r io.Reader) ([]models.Activity, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read activity header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			return nil, 0, fmt.Errorf("activity log has no %q column", c)
		}
	}

	var out []models.Activity
	skipped := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, err
		}
		field := func(name string) string {
			if i := idx[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		start, err := devices.ParseInstant(field("start"), nil)
		if err != nil {
			skipped++
			continue
		}
		stop, err := devices.ParseInstant(field("stop"), nil)
		if err != nil || stop.Before(start) {
			skipped++
			continue
		}
		out = append(out, models.Activity{
			Wearer:   field("wearer"),
			Start:    start,
			Stop:     stop,
			Activity: Label(field("activity")),
		})
	}
	return out, skipped, nil
}

// Overlapping returns the activities of wearer that intersect [start, stop].
func Overlapping(activities []models.Activity, wearer string, start, stop time.Time) []models.Activity {
	var out []models.Activity
	for _, a := range activities {
		if !strings.EqualFold(a.Wearer, wearer) {
			continue
		}
		if a.Stop.Before(start) || a.Start.After(stop) {
			continue
		}
		out = append(out, a)
	}
	return out
}
