package devices

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FallbackLayouts are tried after a device's own layouts.
var FallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// colonFraction matches "HH:MM:SS:fff", where milliseconds follow a colon.
var colonFraction = regexp.MustCompile(`^(.*\d{2}:\d{2}:\d{2}):(\d+)$`)

// ParseError reports a timestamp that matched none of the layouts.
type ParseError struct {
	Value   string
	Layouts []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable timestamp %q (tried %d layouts)", e.Value, len(e.Layouts))
}

// ParseTimestamp parses value with the primary layouts, then the fallback
// layouts. Naive timestamps are read as UTC. The returned error is always a
// *ParseError so callers can drop the value or propagate it.
func ParseTimestamp(value string, layouts []string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if m := colonFraction.FindStringSubmatch(v); m != nil {
		v = m[1] + "." + m[2]
	}
	tried := make([]string, 0, len(layouts)+len(FallbackLayouts))
	tried = append(tried, layouts...)
	tried = append(tried, FallbackLayouts...)
	if v != "" {
		for _, layout := range tried {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, &ParseError{Value: value, Layouts: tried}
}

// ParseEpochMillis parses integer (or float) milliseconds since the epoch.
func ParseEpochMillis(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, &ParseError{Value: value, Layouts: []string{"epoch_ms"}}
	}
	return time.UnixMicro(int64(math.Round(f * 1000))).UTC(), nil
}

// ParseEpochSeconds parses seconds since the epoch, allowing a fraction.
func ParseEpochSeconds(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if s, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(s, 0).UTC(), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, &ParseError{Value: value, Layouts: []string{"epoch_s"}}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
}

// ParseInstant accepts epoch seconds or any formatted layout.
func ParseInstant(value string, layouts []string) (time.Time, error) {
	if t, err := ParseEpochSeconds(value); err == nil {
		return t, nil
	}
	return ParseTimestamp(value, layouts)
}
