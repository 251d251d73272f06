// Package devicetable ships the default device table shared by the
// organizer and the read API.
package devicetable

import _ "embed"

// YAML is the embedded default device table.
//
//go:embed devices.yaml
var YAML []byte
