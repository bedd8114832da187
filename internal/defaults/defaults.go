// Package defaults provides the embedded example configuration for
// the parley init subcommand.
package defaults

import _ "embed"

//go:embed parley.example.yaml
var ConfigYAML []byte
