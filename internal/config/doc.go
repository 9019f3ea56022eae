// Package config loads the daemon configuration.
//
// Values come from a TOML file, with BUILDER_-prefixed environment
// variables layered on top for deployment overrides. Every limit has a
// conservative default; only the volume backing directory has to be set
// explicitly.
package config
