package devices

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/02loveslollipop/wearable-agreement/internal/devicetable"
)

// Encoding names the way a device export stores time.
type Encoding string

const (
	// EncodingE4Counter: first record is the start epoch (s), second is the
	// sample rate (Hz); every following record is one sample.
	EncodingE4Counter Encoding = "e4_counter"
	// EncodingStringTimestamp: each record carries a formatted timestamp.
	EncodingStringTimestamp Encoding = "string_timestamp"
	// EncodingEpochMillis: each record carries milliseconds since the epoch.
	EncodingEpochMillis Encoding = "epoch_ms"
)

// ErrUnknownEncoding is returned for a device table entry with an
// unsupported encoding.
var ErrUnknownEncoding = errors.New("unknown timestamp encoding")

// Patterns is a list of file-name substrings. In YAML it may be written as
// a single string or a sequence.
type Patterns []string

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (p *Patterns) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Value == "" {
			*p = nil
			return nil
		}
		*p = Patterns{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return fmt.Errorf("match: %w", err)
	}
	*p = list
	return nil
}

// Any reports whether name contains one of the patterns. An empty list
// matches everything.
func (p Patterns) Any(name string) bool {
	if len(p) == 0 {
		return true
	}
	for _, m := range p {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Channel maps a source column to a canonical channel name.
type Channel struct {
	Source string `yaml:"source"`
	Index  int    `yaml:"index"`
	Name   string `yaml:"name"`
}

// Device describes one device export for one sensor.
type Device struct {
	ID              string    `yaml:"id"`
	PlacementColumn string    `yaml:"placement_column"`
	Sensor          string    `yaml:"sensor"`
	Dir             string    `yaml:"dir"`
	Match           Patterns  `yaml:"match"`
	Suffix          string    `yaml:"suffix"`
	Encoding        Encoding  `yaml:"encoding"`
	SkipRows        int       `yaml:"skip_rows"`
	Header          bool      `yaml:"header"`
	CommentPrefix   string    `yaml:"comment_prefix"`
	TimestampColumn string    `yaml:"timestamp_column"`
	TimestampIndex  int       `yaml:"timestamp_index"`
	Layouts         []string  `yaml:"layouts"`
	Channels        []Channel `yaml:"channels"`
	Scale           float64   `yaml:"scale"`
	Color           string    `yaml:"color"`
	RawURL          string    `yaml:"raw_url"`
}

// ChannelNames returns the canonical channel names in table order.
func (d Device) ChannelNames() []string {
	names := make([]string, len(d.Channels))
	for i, ch := range d.Channels {
		names[i] = ch.Name
	}
	return names
}

// Registry is the table-driven dispatch from device to decoding rules.
type Registry struct {
	Devices []Device `yaml:"devices"`
}

// Default returns the embedded device table.
func Default() (*Registry, error) {
	return Parse(devicetable.YAML)
}

// LoadFile reads a device table from path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device table: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML device table.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode device table: %w", err)
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) validate() error {
	seen := make(map[string]bool, len(r.Devices))
	for i, d := range r.Devices {
		if d.ID == "" {
			return fmt.Errorf("device %d: id is required", i)
		}
		if d.Sensor == "" {
			return fmt.Errorf("device %s: sensor is required", d.ID)
		}
		key := d.Sensor + "/" + d.ID
		if seen[key] {
			return fmt.Errorf("device %s: duplicate entry for sensor %s", d.ID, d.Sensor)
		}
		seen[key] = true
		switch d.Encoding {
		case EncodingE4Counter, EncodingStringTimestamp, EncodingEpochMillis:
		default:
			return fmt.Errorf("device %s: %w %q", d.ID, ErrUnknownEncoding, d.Encoding)
		}
		if len(d.Channels) == 0 {
			return fmt.Errorf("device %s: at least one channel is required", d.ID)
		}
		if d.Scale < 0 {
			return fmt.Errorf("device %s: scale must not be negative", d.ID)
		}
		if d.PlacementColumn == "" {
			r.Devices[i].PlacementColumn = d.ID
		}
	}
	return nil
}

// ForSensor returns the devices recording the given sensor, in table order.
func (r *Registry) ForSensor(sensor string) []Device {
	out := make([]Device, 0, len(r.Devices))
	for _, d := range r.Devices {
		if strings.EqualFold(d.Sensor, sensor) {
			out = append(out, d)
		}
	}
	return out
}

// Sensors lists the distinct sensors in table order.
func (r *Registry) Sensors() []string {
	var out []string
	seen := make(map[string]bool)
	for _, d := range r.Devices {
		if !seen[d.Sensor] {
			seen[d.Sensor] = true
			out = append(out, d.Sensor)
		}
	}
	return out
}
