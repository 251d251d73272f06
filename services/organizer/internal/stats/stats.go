package stats

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/utils"
)

// LimitsZ is the z-score of the 95% Bland-Altman limits of agreement.
const LimitsZ = 1.96

// DefaultRollingWindow is the number of paired rows per rolling window.
const DefaultRollingWindow = 12

// Paired returns the values of columns a and b on rows where both are set.
func Paired(t models.MergedTable, a, b int) (xs, ys []float64) {
	for _, r := range t.Rows {
		if r.Values[a] == nil || r.Values[b] == nil {
			continue
		}
		xs = append(xs, *r.Values[a])
		ys = append(ys, *r.Values[b])
	}
	return xs, ys
}

// Compare computes Pearson r and Bland-Altman statistics for two paired
// samples. Fewer than two pairs yield only N.
func Compare(deviceA, deviceB string, xs, ys []float64) models.Agreement {
	ag := models.Agreement{DeviceA: deviceA, DeviceB: deviceB, N: len(xs)}
	if len(xs) < 2 || len(xs) != len(ys) {
		return ag
	}

	ag.PearsonR = utils.NormalizeValue(stat.Correlation(xs, ys, nil))

	diffs := make([]float64, len(xs))
	for i := range xs {
		diffs[i] = xs[i] - ys[i]
	}
	mean, sd := stat.MeanStdDev(diffs, nil)
	ag.MeanDiff = utils.NormalizeValue(mean)
	ag.SDDiff = utils.NormalizeValue(sd)
	ag.LoALow = utils.NormalizeValue(mean - LimitsZ*sd)
	ag.LoAHigh = utils.NormalizeValue(mean + LimitsZ*sd)
	return ag
}

// Table compares every pair of columns of t.
func Table(t models.MergedTable) []models.Agreement {
	var out []models.Agreement
	for a := 0; a < len(t.Columns); a++ {
		for b := a + 1; b < len(t.Columns); b++ {
			xs, ys := Paired(t, a, b)
			out = append(out, Compare(t.Columns[a], t.Columns[b], xs, ys))
		}
	}
	return out
}

// Rolling returns the Pearson correlation of each trailing window of paired
// values. Entry i covers pairs [i-window+1, i]; the first window-1 entries
// and windows with zero variance are nil.
func Rolling(xs, ys []float64, window int) []*float64 {
	if window <= 1 {
		window = DefaultRollingWindow
	}
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	out := make([]*float64, n)
	for i := window - 1; i < n; i++ {
		r := stat.Correlation(xs[i-window+1:i+1], ys[i-window+1:i+1], nil)
		if !math.IsNaN(r) {
			out[i] = utils.Float(r)
		}
	}
	return out
}

// RollingTable computes Rolling for every column pair of t. Points start at
// the first complete window of each pair.
func RollingTable(t models.MergedTable, window int) []models.RollingPoint {
	if window <= 1 {
		window = DefaultRollingWindow
	}
	var out []models.RollingPoint
	for a := 0; a < len(t.Columns); a++ {
		for b := a + 1; b < len(t.Columns); b++ {
			var times []time.Time
			var xs, ys []float64
			for _, r := range t.Rows {
				if r.Values[a] == nil || r.Values[b] == nil {
					continue
				}
				times = append(times, r.Timestamp)
				xs = append(xs, *r.Values[a])
				ys = append(ys, *r.Values[b])
			}
			for i, r := range Rolling(xs, ys, window) {
				if i < window-1 {
					continue
				}
				out = append(out, models.RollingPoint{
					Timestamp: times[i],
					DeviceA:   t.Columns[a],
					DeviceB:   t.Columns[b],
					PearsonR:  r,
				})
			}
		}
	}
	return out
}
