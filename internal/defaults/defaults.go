// Package defaults provides the embedded default configuration for the
// aurad init subcommand.
package defaults

import _ "embed"

//go:embed aura.example.yaml
var ConfigYAML []byte
