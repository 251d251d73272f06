package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/02loveslollipop/wearable-agreement/internal/devicetable"
)

// Device is the display metadata of one device entry of the organizer's
// device table.
type Device struct {
	ID              string `yaml:"id" json:"id"`
	PlacementColumn string `yaml:"placement_column" json:"placement_column"`
	Sensor          string `yaml:"sensor" json:"sensor"`
	Color           string `yaml:"color" json:"color,omitempty"`
}

// LoadDevices reads the device table at path. An empty path yields the
// default table the organizer ships with.
func LoadDevices(path string) ([]Device, error) {
	data := devicetable.YAML
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read devices file: %w", err)
		}
	}
	return ParseDevices(data)
}

// ParseDevices decodes a YAML device table.
func ParseDevices(data []byte) ([]Device, error) {
	var table struct {
		Devices []Device `yaml:"devices"`
	}
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse devices file: %w", err)
	}
	if table.Devices == nil {
		table.Devices = []Device{}
	}
	for i, d := range table.Devices {
		if d.PlacementColumn == "" {
			table.Devices[i].PlacementColumn = d.ID
		}
	}
	return table.Devices, nil
}
