package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}

// NormalizeValue cleans a parsed reading; NaN and Inf become nil.
func NormalizeValue(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseValue parses a CSV cell into an optional float. Empty and "nan"
// cells are missing.
func ParseValue(cell string) (*float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") || strings.EqualFold(cell, "null") {
		return nil, nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return nil, err
	}
	return NormalizeValue(f), nil
}

// ValuePtrString prints pointer values for logging.
func ValuePtrString(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.3f", *v)
}

// FormatValue renders a value for CSV output; missing values are empty.
func FormatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// SafeName turns a label into a file-name friendly token.
func SafeName(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '(', ')':
			return '_'
		}
		return r
	}, s)
}
