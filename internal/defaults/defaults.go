// Package defaults provides embedded copies of the default
// configuration and manifest files for the augur init subcommand.
package defaults

import _ "embed"

//go:generate sh -c "cp ../../examples/config.example.yaml . && cp ../../examples/manifest.example.md ."

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed manifest.example.md
var ManifestMD []byte
