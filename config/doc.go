// Package config loads daemon configuration from YAML or TOML files.
//
// Default returns a configuration that runs without a file. Load merges a
// file over those defaults, choosing the parser by extension, and Validate
// rejects values the sandbox cannot honour.
package config
