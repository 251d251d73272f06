// Package normalize maps 3-axis accelerometer readings onto a vector length
// where the farthest corner of the device's representable cube is 1.
//
// The result is not a physical-unit (g) value: it makes the shape of
// signals from devices with different full-scale ranges comparable.
package normalize

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/02loveslollipop/wearable-agreement/services/organizer/internal/models"
)

// Column is the derived channel added by Series.
const Column = "vector_length"

var axes = [3]string{"x", "y", "z"}

var (
	// ErrMissingAxis is returned when a series lacks an x, y or z channel.
	ErrMissingAxis = errors.New("series lacks x, y and z channels")
	// ErrZeroScale is returned when no scale is given and every reading is 0.
	ErrZeroScale = errors.New("cannot derive scale from all-zero readings")
)

// Unit returns sqrt(3*scale^2), the length of the cube's corner vector.
func Unit(scale float64) float64 {
	return math.Sqrt(3 * scale * scale)
}

// VectorLength returns sqrt((x/u)^2 + (y/u)^2 + (z/u)^2) with u = Unit(scale).
// Out-of-range readings may exceed 1 and are not clamped.
func VectorLength(x, y, z, scale float64) float64 {
	u := Unit(scale)
	if u == 0 {
		return 0
	}
	return math.Sqrt((x/u)*(x/u) + (y/u)*(y/u) + (z/u)*(z/u))
}

// ObservedScale returns the largest absolute x, y or z value in s.
func ObservedScale(s *models.Series) (float64, error) {
	idx, err := axisIndexes(s)
	if err != nil {
		return 0, err
	}
	scale := 0.0
	for _, sample := range s.Samples {
		for _, i := range idx {
			scale = math.Max(scale, math.Abs(sample.Values[i]))
		}
	}
	return scale, nil
}

// Series appends the vector_length channel to s in place. A scale <= 0 is
// replaced by the observed scale. When s already carries vector_length the
// call is a no-op, so normalizing twice never changes stored values.
func Series(s *models.Series, scale float64) error {
	if s.Column(Column) >= 0 {
		return nil
	}
	idx, err := axisIndexes(s)
	if err != nil {
		return err
	}
	if scale <= 0 {
		if scale, err = ObservedScale(s); err != nil {
			return err
		}
		if scale == 0 && len(s.Samples) > 0 {
			return ErrZeroScale
		}
	}
	for i := range s.Samples {
		v := s.Samples[i].Values
		s.Samples[i].Values = append(v, VectorLength(v[idx[0]], v[idx[1]], v[idx[2]], scale))
	}
	s.Columns = append(s.Columns, Column)
	return nil
}

func axisIndexes(s *models.Series) ([3]int, error) {
	var idx [3]int
	for i, a := range axes {
		idx[i] = s.Column(a)
		if idx[i] < 0 {
			return idx, ErrMissingAxis
		}
	}
	return idx, nil
}

// Rebase shifts the median of values to 0 and rescales so the maximum is 1.
// Values at or below the median become 0; values above it are kept before
// rescaling. values is modified in place.
func Rebase(values []float64) {
	if len(values) == 0 {
		return
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	baseline := median(sorted)
	for i, v := range values {
		if v <= baseline {
			values[i] = 0
		}
	}
	if peak := floats.Max(values); peak > 0 {
		floats.Scale(1/peak, values)
	}
}

// median of an ascending slice, averaging the middle pair for even lengths.
func median(sorted []float64) float64 {
	lo := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if len(sorted)%2 == 1 {
		return lo
	}
	return (lo + sorted[len(sorted)/2]) / 2
}
